package actor

import "github.com/codewandler/ampd-go/core/reflector"

type (
	// Message is a unit of work executed on the actor's goroutine.
	Message interface {
		Invoke(hc HandlerCtx)
	}

	// Typed lets a message report its own type name for metrics.
	Typed interface {
		MessageType() string
	}

	// MessageFunc adapts a function to [Message].
	MessageFunc func(hc HandlerCtx)
)

func (f MessageFunc) Invoke(hc HandlerCtx) { f(hc) }

func msgTypeOf(msg Message) string {
	if t, ok := msg.(Typed); ok {
		return t.MessageType()
	}
	return reflector.TypeInfoOf(msg).Name
}
