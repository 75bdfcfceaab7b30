package actor

import (
	"context"
	"log/slog"
)

type (
	HandlerCtx interface {
		context.Context
		Log() *slog.Logger
		Schedule(f scheduleFunc)
		// Self returns the actor the current turn belongs to.
		Self() Actor
	}
)

type handlerCtx struct {
	context.Context
	log   *slog.Logger
	self  Actor
	sched Scheduler
}

// Schedule runs the given function asynchronously using the configured scheduler.
func (hc *handlerCtx) Schedule(f scheduleFunc) {
	hc.sched.Schedule(f)
}

func (hc *handlerCtx) Log() *slog.Logger { return hc.log }
func (hc *handlerCtx) Self() Actor       { return hc.self }

var _ HandlerCtx = (*handlerCtx)(nil)
