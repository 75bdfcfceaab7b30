package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codewandler/ampd-go/core/actor"
)

// Kind is the message kind of an envelope.
type Kind uint8

const (
	KindSend Kind = iota
	KindQuery
	KindStream
	KindPipeOut
	KindPipeIn
)

func (k Kind) String() string {
	switch k {
	case KindSend:
		return "send"
	case KindQuery:
		return "query"
	case KindStream:
		return "stream"
	case KindPipeOut:
		return "pipe_out"
	case KindPipeIn:
		return "pipe_in"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Envelope is one unit of dispatched work. It is immutable once built and
// is submitted exactly once.
type Envelope struct {
	kind    Kind
	target  *Ref
	method  *Method
	args    []any
	headers Headers

	// timeout is the effective continuation timeout; zero for sends.
	timeout      time.Duration
	offerTimeout time.Duration

	cont continuation
	call *callState

	submitted atomic.Bool
}

func (e *Envelope) Kind() Kind               { return e.kind }
func (e *Envelope) Target() *Ref             { return e.target }
func (e *Envelope) Method() *Method          { return e.method }
func (e *Envelope) Headers() Headers         { return e.headers }
func (e *Envelope) Timeout() time.Duration   { return e.timeout }
func (e *Envelope) MessageType() string      { return e.method.QualifiedName() }

// Args returns a copy of the positional arguments.
func (e *Envelope) Args() []any {
	return append([]any(nil), e.args...)
}

func (e *Envelope) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", e.kind.String()),
		slog.String("target", string(e.target.addr)),
		slog.String("method", e.method.Name()),
		slog.Any("headers", e.headers),
	)
}

// Invoke runs the envelope on the target's actor as one turn with a fresh
// outbox whose current message is e.
func (e *Envelope) Invoke(hc actor.HandlerCtx) {
	e.target.rt.turn(hc, e.target, e, func(ctx context.Context) {
		e.method.invoke(ctx, e)
	})
}

// reject reports a failed delivery. Continuations are failed; for sends the
// error is returned to the flushing caller.
func (e *Envelope) reject(err error) error {
	err = fmt.Errorf("dispatch %s to %s: %w", e.method.Name(), e.target.addr, err)
	if e.cont != nil {
		e.cont.abort(err)
		return nil
	}
	e.target.rt.log.Error("send failed", slog.Any("envelope", e), slog.Any("error", err))
	return err
}

// targetFailed reports an error raised while the target processed e.
func (e *Envelope) targetFailed(log *slog.Logger, err error) {
	if e.cont != nil {
		e.cont.abort(err)
		return
	}
	log.Warn("send target failed", slog.Any("envelope", e), slog.Any("error", err))
}

var _ actor.Message = (*Envelope)(nil)
