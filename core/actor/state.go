package actor

import (
	"context"
	"encoding/json"
)

type (
	StateOp[T any] func(*T)

	// State serializes access to a value through a dedicated goroutine.
	// It stops serving once its context is done; pending and later calls
	// then return immediately.
	State[T any] struct {
		ctx   context.Context
		data  *T
		tasks chan func(*T)
		cb    func(*T)
	}
)

func NewState[T any](ctx context.Context, data *T, cb func(*T)) *State[T] {
	s := &State[T]{
		ctx:   ctx,
		tasks: make(chan func(*T), 1),
		data:  data,
		cb:    cb,
	}
	go s.run()
	return s
}

func (s *State[T]) MarshalJSON() ([]byte, error) {
	type dataErr struct {
		data []byte
		err  error
	}
	v, ok := Read(s, func(st *T) dataErr {
		d, err := json.Marshal(st)
		return dataErr{d, err}
	})
	if !ok {
		return nil, context.Cause(s.ctx)
	}
	return v.data, v.err
}

// Process applies ops in order and waits until they ran. The change
// callback runs once after the last op. It reports false if the state
// stopped first.
func (s *State[T]) Process(ops ...StateOp[T]) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case <-s.Submit(ops...):
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Submit enqueues ops and returns a channel closed when they ran.
func (s *State[T]) Submit(ops ...StateOp[T]) <-chan struct{} {
	done := make(chan struct{})
	s.enqueue(func(st *T) {
		for _, op := range ops {
			op(st)
		}
		if s.cb != nil {
			s.cb(st)
		}
		close(done)
	})
	return done
}

// Read blocks and returns the result of op.
func Read[T any, R any](s *State[T], op func(*T) R) (R, bool) {
	var zero R
	if s.ctx.Err() != nil {
		return zero, false
	}
	select {
	case r := <-ReadAsync(s, op):
		return r, true
	case <-s.ctx.Done():
		return zero, false
	}
}

// ReadAsync is non-blocking: returns a future chan R immediately.
func ReadAsync[T any, R any](s *State[T], op func(*T) R) <-chan R {
	out := make(chan R, 1)
	s.enqueue(func(st *T) {
		out <- op(st)
		close(out)
	})
	return out
}

func (s *State[T]) enqueue(task func(*T)) {
	select {
	case s.tasks <- task:
	case <-s.ctx.Done():
	}
}

func (s *State[T]) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.tasks:
			t(s.data)
		}
	}
}
