package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMethod is returned when a method name and parameter shape
	// do not resolve against the target's operation table.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrProxyMismatch is returned by the first call on a proxy whose
	// interface does not match the live target.
	ErrProxyMismatch = errors.New("proxy does not match target")
	// ErrInvalidShape is returned when an interface method cannot be
	// classified into a message kind.
	ErrInvalidShape = errors.New("invalid method shape")
	// ErrMailboxFull is returned when a target mailbox does not accept a
	// message within the offer timeout.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrTimeout fails continuations whose effective timeout elapsed.
	ErrTimeout = errors.New("dispatch timeout")
	// ErrServiceClosed is returned for calls to a closed service.
	ErrServiceClosed = errors.New("service closed")
	// ErrRuntimeClosed is returned for calls on a closed runtime.
	ErrRuntimeClosed = errors.New("runtime closed")
	// ErrNotFound is returned when no service is published at an address.
	ErrNotFound = errors.New("service not found")
	// ErrAddressInUse is returned when publishing to an occupied address.
	ErrAddressInUse = errors.New("address in use")
	// ErrNoStub is returned when no stub is registered for an interface.
	ErrNoStub = errors.New("no stub registered")
	// ErrKindMismatch is returned when a method is called with the wrong
	// calling convention.
	ErrKindMismatch = errors.New("message kind mismatch")
	ErrArgCount     = errors.New("argument count mismatch")
	ErrArgType      = errors.New("argument type mismatch")
	// ErrAlreadySubmitted is returned when an envelope or continuation is
	// submitted twice.
	ErrAlreadySubmitted = errors.New("already submitted")
	// ErrResultType is returned when a target result does not fit the
	// caller's declared result type.
	ErrResultType = errors.New("result type mismatch")
	// ErrMarkerMismatch is returned when the caller's continuation does not
	// fit the target's continuation parameter.
	ErrMarkerMismatch = errors.New("continuation type mismatch")
	// ErrPanic wraps a panic recovered while a target processed a message.
	ErrPanic = errors.New("target panicked")
	// ErrSelfCall is returned when a blocking call targets the actor the
	// caller is running on.
	ErrSelfCall = errors.New("blocking call to own actor")
	// ErrPipeClosed is returned when sending on a closed pipe.
	ErrPipeClosed = errors.New("pipe closed")
)

// MethodError reports a method that could not be resolved on a target.
type MethodError struct {
	Target    string // qualified target type name
	Signature string // attempted signature, e.g. Fetch(int)
	Err       error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s: %s.%s", e.Err, e.Target, e.Signature)
}

func (e *MethodError) Unwrap() error { return e.Err }

// ShapeError reports an interface method that cannot be classified.
type ShapeError struct {
	Interface string
	Method    string
	Reason    string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s.%s: %s", ErrInvalidShape, e.Interface, e.Method, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrInvalidShape }
