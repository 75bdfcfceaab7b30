package dispatch

import (
	"context"
	"errors"
	"sync"
)

// Outbox batches the envelopes of one unit of work. Envelopes are delivered
// when the owning scope is released: destinations in first-use order, and
// per destination in submission order.
type Outbox struct {
	rt  *Runtime
	ctx context.Context

	mu       sync.Mutex
	current  *Envelope
	order    []Address
	pending  map[Address][]*Envelope
	released bool
}

// Scope is one acquisition of an outbox.
type Scope struct {
	ob       *Outbox
	owner    bool
	released bool
}

// Acquire returns the outbox bound to ctx, or creates one and binds it to
// the returned context. Release the scope on every exit path:
//
//	ctx, scope := dispatch.Acquire(ctx, rt)
//	defer scope.Release()
func Acquire(ctx context.Context, rt *Runtime) (context.Context, *Scope) {
	if ob := OutboxFrom(ctx); ob != nil && ob.rt == rt && !ob.isReleased() {
		return ctx, &Scope{ob: ob}
	}
	ob := &Outbox{
		rt:      rt,
		pending: make(map[Address][]*Envelope),
	}
	ctx = context.WithValue(ctx, outboxKey{}, ob)
	ob.ctx = ctx
	return ctx, &Scope{ob: ob, owner: true}
}

func (s *Scope) Outbox() *Outbox { return s.ob }

// Owner reports whether this acquisition created the outbox.
func (s *Scope) Owner() bool { return s.owner }

// Release flushes the outbox if this acquisition created it. Inherited
// scopes release without effect. The returned error joins failed sends;
// failed queries are reported through their continuations.
func (s *Scope) Release() error {
	if !s.owner || s.released {
		return nil
	}
	s.released = true
	err := s.ob.Flush(s.ob.ctx)
	s.ob.mu.Lock()
	s.ob.released = true
	s.ob.mu.Unlock()
	return err
}

// Current returns the inbound envelope being processed, or nil.
func (o *Outbox) Current() *Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Outbox) setCurrent(env *Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = env
}

// Len returns the number of pending envelopes.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, envs := range o.pending {
		n += len(envs)
	}
	return n
}

func (o *Outbox) isReleased() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

// submit queues env for its destination.
func (o *Outbox) submit(env *Envelope) error {
	if !env.submitted.CompareAndSwap(false, true) {
		return ErrAlreadySubmitted
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	addr := env.target.addr
	if _, ok := o.pending[addr]; !ok {
		o.order = append(o.order, addr)
	}
	o.pending[addr] = append(o.pending[addr], env)
	return nil
}

// Flush delivers all pending envelopes now.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	order, pending := o.order, o.pending
	o.order, o.pending = nil, make(map[Address][]*Envelope)
	o.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	var (
		errs []error
		n    int
	)
	for _, addr := range order {
		for _, env := range pending[addr] {
			n++
			err := env.target.offer(ctx, env)
			o.rt.metrics.EnvelopeOffered(env.kind.String(), err == nil)
			if err != nil {
				if rerr := env.reject(err); rerr != nil {
					errs = append(errs, rerr)
				}
			}
		}
	}
	o.rt.metrics.OutboxFlushed(n)
	return errors.Join(errs...)
}
