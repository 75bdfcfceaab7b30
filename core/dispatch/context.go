package dispatch

import (
	"context"

	"github.com/codewandler/ampd-go/core/actor"
)

type (
	inboxKey   struct{}
	outboxKey  struct{}
	handlerKey struct{}
)

// withInbox marks ctx as running a turn of the service behind ref.
func withInbox(ctx context.Context, ref *Ref) context.Context {
	return context.WithValue(ctx, inboxKey{}, ref)
}

// InboxFrom returns the service whose turn ctx belongs to, or nil when ctx
// is not inside a turn.
func InboxFrom(ctx context.Context) *Ref {
	ref, _ := ctx.Value(inboxKey{}).(*Ref)
	return ref
}

// OutboxFrom returns the outbox bound to ctx, or nil.
func OutboxFrom(ctx context.Context) *Outbox {
	ob, _ := ctx.Value(outboxKey{}).(*Outbox)
	return ob
}

// Go runs fn after the current turn has been left, on the worker pool of the
// actor the turn belongs to. Outside a turn fn runs on its own goroutine.
// fn sees neither the turn's inbox nor its outbox, so it must not touch
// state owned by the service. Completing a continuation from fn is safe.
func Go(ctx context.Context, fn func(ctx context.Context)) {
	detached := context.WithValue(withInbox(ctx, nil), outboxKey{}, (*Outbox)(nil))
	if hc, ok := ctx.Value(handlerKey{}).(actor.HandlerCtx); ok {
		hc.Schedule(func() { fn(detached) })
		return
	}
	go fn(detached)
}
