package dispatch

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

type (
	// Result is the single-value continuation of a query. Exactly one of Ok
	// or Fail takes effect; later calls are ignored.
	Result[T any] interface {
		Ok(v T)
		Fail(err error)
		resultMarker()
	}

	// Stream delivers zero or more values followed by Ok or Fail.
	Stream[T any] interface {
		Next(v T)
		Ok()
		Fail(err error)
		streamMarker()
	}

	// PipeIn carries values the target publishes to the caller until Close
	// or Fail.
	PipeIn[T any] interface {
		Next(v T)
		Close()
		Fail(err error)
		pipeInMarker()
	}

	// PipeOut is the receiving end of a caller-to-target pipe. The target
	// calls Consume to accept the pipe or Fail to reject it; next and done
	// then run on the target's turns.
	PipeOut[T any] interface {
		Consume(next func(v T), done func(err error))
		Fail(err error)
		pipeOutMarker()
	}

	// Pipe is the sending end handed to the caller of a PipeOut method.
	Pipe[T any] interface {
		Send(v T) error
		Close() error
	}
)

// marker types for reflection; the generic interfaces embed their methods.
type (
	resultMarker  interface{ resultMarker() }
	streamMarker  interface{ streamMarker() }
	pipeInMarker  interface{ pipeInMarker() }
	pipeOutMarker interface{ pipeOutMarker() }
)

var (
	resultMarkerType  = reflect.TypeFor[resultMarker]()
	streamMarkerType  = reflect.TypeFor[streamMarker]()
	pipeInMarkerType  = reflect.TypeFor[pipeInMarker]()
	pipeOutMarkerType = reflect.TypeFor[pipeOutMarker]()
)

// markerOf reports the message kind implied by a continuation parameter
// type and the value type it carries. It returns KindSend for ordinary
// parameters.
func markerOf(t reflect.Type) (Kind, reflect.Type) {
	if t.Kind() != reflect.Interface {
		return KindSend, nil
	}
	switch {
	case t.Implements(resultMarkerType):
		return KindQuery, methodParam(t, "Ok")
	case t.Implements(streamMarkerType):
		return KindStream, methodParam(t, "Next")
	case t.Implements(pipeInMarkerType):
		return KindPipeIn, methodParam(t, "Next")
	case t.Implements(pipeOutMarkerType):
		// Consume(next func(T), ...)
		if fn := methodParam(t, "Consume"); fn != nil && fn.Kind() == reflect.Func && fn.NumIn() == 1 {
			return KindPipeOut, fn.In(0)
		}
		return KindPipeOut, nil
	}
	return KindSend, nil
}

func methodParam(t reflect.Type, name string) reflect.Type {
	m, ok := t.MethodByName(name)
	if !ok || m.Type.NumIn() == 0 {
		return nil
	}
	return m.Type.In(0)
}

// continuation is the dispatch-side view of Result, Stream, PipeIn and
// PipeOut values.
type continuation interface {
	kind() Kind
	valueType() reflect.Type
	// bind attaches the call the continuation belongs to.
	bind(c *callState) error
	// abort fails the continuation from the dispatch side.
	abort(err error)
}

// valueSink accepts untyped target return values.
type valueSink interface {
	okAny(v any)
}

// streamSink accepts untyped stream elements from a slice-returning target.
type streamSink interface {
	nextAny(v any)
	Ok()
}

func convert[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %s", ErrResultType, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// ---- Result ----

type result[T any] struct {
	fn      func(T, error)
	settled atomic.Bool
	call    atomic.Pointer[callState]
}

// OnResult returns a Result that calls fn with the outcome. When the query
// is made inside a turn, fn runs on the caller's actor.
func OnResult[T any](fn func(v T, err error)) Result[T] {
	return &result[T]{fn: fn}
}

func (r *result[T]) Ok(v T) { r.complete(v, nil) }

func (r *result[T]) Fail(err error) {
	var zero T
	r.complete(zero, err)
}

func (r *result[T]) okAny(v any) {
	t, err := convert[T](v)
	if err != nil {
		r.Fail(err)
		return
	}
	r.Ok(t)
}

func (r *result[T]) complete(v T, err error) {
	c := r.call.Load()
	if !r.settled.CompareAndSwap(false, true) {
		if c != nil {
			c.late()
		}
		return
	}
	if c == nil {
		r.fn(v, err)
		return
	}
	c.finish(err)
	c.deliver(func() { r.fn(v, err) })
}

func (*result[T]) resultMarker()             {}
func (*result[T]) kind() Kind                { return KindQuery }
func (*result[T]) valueType() reflect.Type   { return reflect.TypeFor[T]() }
func (r *result[T]) abort(err error)         { r.Fail(err) }
func (r *result[T]) bind(c *callState) error { return bindOnce(&r.call, c) }

func bindOnce(p *atomic.Pointer[callState], c *callState) error {
	if !p.CompareAndSwap(nil, c) {
		return ErrAlreadySubmitted
	}
	return nil
}

// outcome is the value a blocking call waits for.
type outcome[T any] struct {
	v   T
	err error
}

// newWaiter returns a Result that completes into a buffered channel.
func newWaiter[T any]() (*result[T], <-chan outcome[T]) {
	ch := make(chan outcome[T], 1)
	return &result[T]{fn: func(v T, err error) { ch <- outcome[T]{v, err} }}, ch
}

// ---- Stream & PipeIn ----

// flow is the shared state of Stream and PipeIn.
type flow[T any] struct {
	next    func(T)
	done    func(error)
	settled atomic.Bool
	call    atomic.Pointer[callState]
	// ended is only touched by delivered callbacks, which never overlap.
	ended bool
}

func (f *flow[T]) Next(v T) {
	if f.settled.Load() {
		return
	}
	c := f.call.Load()
	if c == nil {
		f.next(v)
		return
	}
	c.progress()
	c.deliver(func() {
		if !f.ended {
			f.next(v)
		}
	})
}

func (f *flow[T]) nextAny(v any) {
	t, err := convert[T](v)
	if err != nil {
		f.Fail(err)
		return
	}
	f.Next(t)
}

func (f *flow[T]) Fail(err error) { f.end(err) }

func (f *flow[T]) end(err error) {
	c := f.call.Load()
	if !f.settled.CompareAndSwap(false, true) {
		if c != nil {
			c.late()
		}
		return
	}
	if c == nil {
		f.ended = true
		f.done(err)
		return
	}
	c.finish(err)
	c.deliver(func() {
		f.ended = true
		f.done(err)
	})
}

func (f *flow[T]) valueType() reflect.Type   { return reflect.TypeFor[T]() }
func (f *flow[T]) abort(err error)           { f.end(err) }
func (f *flow[T]) bind(c *callState) error   { return bindOnce(&f.call, c) }

type stream[T any] struct{ flow[T] }

// OnStream returns a Stream that calls next for each value and done once
// with nil or the failure.
func OnStream[T any](next func(v T), done func(err error)) Stream[T] {
	return &stream[T]{flow[T]{next: next, done: done}}
}

func (s *stream[T]) Ok()          { s.end(nil) }
func (*stream[T]) streamMarker()  {}
func (*stream[T]) kind() Kind     { return KindStream }

type pipeIn[T any] struct{ flow[T] }

// Subscribe returns a PipeIn that calls next for each value the target
// publishes and done once when the target closes or fails the pipe.
func Subscribe[T any](next func(v T), done func(err error)) PipeIn[T] {
	return &pipeIn[T]{flow[T]{next: next, done: done}}
}

func (p *pipeIn[T]) Close()       { p.end(nil) }
func (*pipeIn[T]) pipeInMarker()  {}
func (*pipeIn[T]) kind() Kind     { return KindPipeIn }

// ---- PipeOut ----

type pipeOut[T any] struct {
	ready   func(Pipe[T])
	failed  func(error)
	settled atomic.Bool
	call    atomic.Pointer[callState]
}

// PublishTo returns a PipeOut that calls ready with the sending end once
// the target accepts the pipe, or failed if it is rejected.
func PublishTo[T any](ready func(p Pipe[T]), failed func(err error)) PipeOut[T] {
	return &pipeOut[T]{ready: ready, failed: failed}
}

func (p *pipeOut[T]) Consume(next func(v T), done func(err error)) {
	c := p.call.Load()
	if !p.settled.CompareAndSwap(false, true) {
		if c != nil {
			c.late()
		}
		return
	}
	if c == nil {
		p.ready(&localPipe[T]{next: next, done: done})
		return
	}
	c.finish(nil)
	pipe := &remotePipe[T]{c: c, next: next, done: done}
	c.deliver(func() { p.ready(pipe) })
}

func (p *pipeOut[T]) Fail(err error) {
	c := p.call.Load()
	if !p.settled.CompareAndSwap(false, true) {
		if c != nil {
			c.late()
		}
		return
	}
	if c == nil {
		p.failed(err)
		return
	}
	c.finish(err)
	c.deliver(func() { p.failed(err) })
}

func (*pipeOut[T]) pipeOutMarker()           {}
func (*pipeOut[T]) kind() Kind               { return KindPipeOut }
func (*pipeOut[T]) valueType() reflect.Type  { return reflect.TypeFor[T]() }
func (p *pipeOut[T]) abort(err error)        { p.Fail(err) }
func (p *pipeOut[T]) bind(c *callState) error { return bindOnce(&p.call, c) }

// localPipe connects both ends directly when no dispatch is involved.
type localPipe[T any] struct {
	next   func(T)
	done   func(error)
	closed atomic.Bool
}

func (p *localPipe[T]) Send(v T) error {
	if p.closed.Load() {
		return ErrPipeClosed
	}
	p.next(v)
	return nil
}

func (p *localPipe[T]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPipeClosed
	}
	p.done(nil)
	return nil
}

// remotePipe delivers each value as its own message on the target's turn.
type remotePipe[T any] struct {
	c      *callState
	next   func(T)
	done   func(error)
	closed atomic.Bool
}

func (p *remotePipe[T]) Send(v T) error {
	if p.closed.Load() {
		return ErrPipeClosed
	}
	return p.c.toTarget(func() { p.next(v) })
}

func (p *remotePipe[T]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPipeClosed
	}
	return p.c.toTarget(func() { p.done(nil) })
}
