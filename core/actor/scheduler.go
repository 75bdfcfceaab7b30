package actor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

type scheduleFunc func()

type Scheduler interface {
	Schedule(f scheduleFunc)
	// Wait blocks until all in-flight tasks complete.
	Wait()
	// Release waits for in-flight tasks and frees the worker pool.
	Release()
}

type scheduler struct {
	ctx      context.Context
	log      *slog.Logger
	pool     *ants.Pool
	inflight atomic.Int32

	wg sync.WaitGroup

	// metrics support
	actorID string
	metrics ActorMetrics
}

// Schedule hands f to the worker pool. It never blocks the caller: when the
// pool is saturated the submission waits on its own goroutine.
func (s *scheduler) Schedule(f scheduleFunc) {
	// Don't schedule if context is already cancelled
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	s.wg.Add(1)
	task := func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		count := s.inflight.Add(1)
		s.metrics.SchedulerInflight(s.actorID, int(count))
		defer func() {
			count := s.inflight.Add(-1)
			s.metrics.SchedulerInflight(s.actorID, int(count))
		}()

		s.runTask(f)
	}

	go func() {
		if err := s.pool.Submit(task); err != nil {
			s.log.Error("schedule task failed", slog.Any("error", err))
			s.wg.Done()
		}
	}()
}

func (s *scheduler) runTask(f scheduleFunc) {
	defer s.metrics.SchedulerTaskDuration().ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			s.metrics.SchedulerTaskCompleted(false)
			// log the panic but don't re-panic
			s.log.Error("scheduled task panicked", slog.Any("recovered", r))
			return
		}
	}()

	f()
	s.metrics.SchedulerTaskCompleted(true)
}

// Wait blocks until all in-flight tasks complete.
func (s *scheduler) Wait() {
	s.wg.Wait()
}

func (s *scheduler) Release() {
	s.wg.Wait()
	s.pool.Release()
}

// NewScheduler creates a scheduler that runs at most max tasks at once.
// If max <= 0, concurrency is unlimited.
// Tasks that have not started when ctx is cancelled are skipped.
func NewScheduler(ctx context.Context, max int) Scheduler {
	return NewSchedulerWithMetrics(ctx, max, "", NopActorMetrics(), nil)
}

// NewSchedulerWithMetrics creates a scheduler with metrics support.
func NewSchedulerWithMetrics(ctx context.Context, max int, actorID string, metrics ActorMetrics, log *slog.Logger) Scheduler {
	if metrics == nil {
		metrics = NopActorMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	if max <= 0 {
		max = -1
	}
	pool, err := ants.NewPool(max, ants.WithPanicHandler(func(r any) {
		log.Error("scheduler worker panicked", slog.Any("recovered", r))
	}))
	if err != nil {
		// only returned for invalid options
		panic(err)
	}
	return &scheduler{
		ctx:     ctx,
		log:     log,
		pool:    pool,
		actorID: actorID,
		metrics: metrics,
	}
}
