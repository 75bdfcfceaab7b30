package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RussellLuo/timingwheel"

	"github.com/codewandler/ampd-go/core/actor"
	"github.com/codewandler/ampd-go/core/metrics"
)

// callState tracks one query, stream or pipe from submission until its
// continuation settles.
type callState struct {
	rt     *Runtime
	kind   Kind
	target *Ref
	method string

	// inbox receives callbacks when the call was made inside a turn; nil
	// runs them inline, serialized by mu.
	inbox Mailbox
	mu    sync.Mutex

	timeout time.Duration
	// idle re-arms the timeout on every streamed value.
	idle  bool
	timer atomic.Pointer[timingwheel.Timer]
	cont  continuation

	done   atomic.Bool
	onDone []func(err error)
	obs    metrics.Timer
}

// arm (re)starts the timeout.
func (c *callState) arm() {
	if c.timeout <= 0 || c.done.Load() {
		return
	}
	t := c.rt.wheel.AfterFunc(c.timeout, c.expire)
	if old := c.timer.Swap(t); old != nil {
		old.Stop()
	}
	if c.done.Load() {
		t.Stop()
	}
}

func (c *callState) expire() {
	c.cont.abort(fmt.Errorf("%w: %s.%s after %s", ErrTimeout, c.target.addr, c.method, c.timeout))
}

// progress records a streamed value.
func (c *callState) progress() {
	if c.idle {
		c.arm()
	}
}

// finish settles the call exactly once: it stops the timer and runs the
// completion hooks.
func (c *callState) finish(err error) {
	if !c.done.CompareAndSwap(false, true) {
		return
	}
	if t := c.timer.Load(); t != nil {
		t.Stop()
	}
	c.rt.calls.Delete(c)
	c.obs.ObserveDuration()
	c.rt.metrics.CallCompleted(c.kind.String(), outcomeOf(err))
	for _, fn := range c.onDone {
		fn(err)
	}
}

// late records a completion that arrived after the call settled.
func (c *callState) late() {
	c.rt.metrics.LateCompletion(c.kind.String())
	c.rt.log.Warn("late completion dropped",
		slog.String("kind", c.kind.String()),
		slog.String("target", string(c.target.addr)),
		slog.String("method", c.method),
	)
}

// deliver runs a caller callback.
func (c *callState) deliver(fn func()) {
	if c.inbox == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		fn()
		return
	}
	err := c.inbox.Offer(context.Background(), callback{name: "reply." + c.method, fn: fn}, c.rt.cfg.SendTimeout)
	if err != nil {
		c.rt.log.Error("reply delivery failed",
			slog.String("target", string(c.target.addr)),
			slog.String("method", c.method),
			slog.Any("error", err),
		)
	}
}

// toTarget runs fn on the target's actor.
func (c *callState) toTarget(fn func()) error {
	if c.target.IsClosed() {
		return fmt.Errorf("%w: %s", ErrServiceClosed, c.target.addr)
	}
	return c.target.mailbox.Offer(context.Background(), callback{name: "pipe." + c.method, fn: fn}, c.rt.cfg.SendTimeout)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	}
	return OutcomeError
}

// callback is a plain function run on an actor.
type callback struct {
	name string
	fn   func()
}

func (m callback) Invoke(actor.HandlerCtx) { m.fn() }
func (m callback) MessageType() string     { return m.name }
