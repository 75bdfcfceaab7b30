package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrActorStopped is returned by operations on a stopped actor.
var ErrActorStopped = errors.New("actor stopped")

type (
	OnPanic func(recovered any, stack []byte, msg Message)

	// Hook is a lifecycle callback run on the actor goroutine.
	Hook func(hc HandlerCtx)

	Actor interface {
		ID() string
		Send(ctx context.Context, msg Message) error
		TrySend(msg Message) bool
		Pause() error
		Resume() error
		EnableStepMode() error
		Step() error
		Done() <-chan struct{}
		Stop()
	}
)

// ---- control messages (internal) ----

type ctrlKind int

const (
	ctrlPause ctrlKind = iota
	ctrlResume
	ctrlEnableStep
	ctrlStep
	ctrlStop
)

type ctrlMsg struct {
	kind ctrlKind
}

type Options struct {
	// ID identifies the actor in logs and metrics. Generated when empty.
	ID          string
	MailboxSize int
	ControlSize int
	Context     context.Context
	Logger      *slog.Logger
	OnPanic     OnPanic
	Metrics     ActorMetrics
	// MaxConcurrentTasks caps the number of tasks run via HandlerCtx.Schedule.
	// If 0, it defaults to 32; if negative, scheduling is unlimited.
	MaxConcurrentTasks int

	// OnInit runs before the first message. A non-nil error stops the actor.
	OnInit func(hc HandlerCtx) error
	// OnBatchStart runs before the first message of a batch.
	OnBatchStart Hook
	// OnBatchEnd runs once the mailbox has drained after a batch.
	OnBatchEnd Hook
	// OnStop runs on the actor goroutine when the loop exits.
	OnStop Hook
}

type BaseActor struct {
	id  string
	ctx context.Context
	log *slog.Logger

	mailbox chan Message
	control chan ctrlMsg

	stop chan struct{}
	done chan struct{}

	mu     sync.Mutex
	closed bool

	opt     Options
	metrics ActorMetrics
	sched   Scheduler
}

// New creates and starts an actor.
func New(opt Options) Actor {
	if opt.ID == "" {
		opt.ID = gonanoid.Must()
	}
	if opt.MailboxSize == 0 {
		opt.MailboxSize = 1024
	}
	if opt.ControlSize == 0 {
		opt.ControlSize = 16
	}
	if opt.Context == nil {
		opt.Context = context.Background()
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Metrics == nil {
		opt.Metrics = NopActorMetrics()
	}
	if opt.MaxConcurrentTasks == 0 {
		opt.MaxConcurrentTasks = 32
	}
	log := opt.Logger.With(slog.String("actor", opt.ID))
	if opt.OnPanic == nil {
		opt.OnPanic = func(recovered any, stack []byte, msg Message) {
			log.Error("actor panicked",
				slog.Any("recovered", recovered),
				slog.String("stack", string(stack)),
				slog.String("msg_type", msgTypeOf(msg)),
			)
		}
	}

	a := &BaseActor{
		id:      opt.ID,
		ctx:     opt.Context,
		log:     log,
		mailbox: make(chan Message, opt.MailboxSize),
		control: make(chan ctrlMsg, opt.ControlSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		opt:     opt,
		metrics: opt.Metrics,
		sched:   NewSchedulerWithMetrics(opt.Context, opt.MaxConcurrentTasks, opt.ID, opt.Metrics, log),
	}

	hc := &handlerCtx{
		Context: opt.Context,
		log:     log,
		self:    a,
		sched:   a.sched,
	}

	go a.loop(hc)
	return a
}

func (a *BaseActor) ID() string { return a.id }

// Done is closed when the actor stops.
func (a *BaseActor) Done() <-chan struct{} { return a.done }

// Stop requests shutdown and waits for completion.
func (a *BaseActor) Stop() {
	// idempotent
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	a.mu.Unlock()

	// Try to tell the loop to stop; also close stop to unblock all sends/selects.
	select {
	case a.control <- ctrlMsg{kind: ctrlStop}:
	default:
	}
	close(a.stop)
	<-a.done
}

// Send enqueues a message (blocking until enqueued, ctx canceled, or actor stopped).
func (a *BaseActor) Send(ctx context.Context, msg Message) error {
	if a.isClosed() {
		return ErrActorStopped
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("send failed: %w", ctx.Err())
	case <-a.stop:
		return ErrActorStopped
	case <-a.done:
		return ErrActorStopped
	case a.mailbox <- msg:
		return nil
	}
}

// TrySend attempts a non-blocking enqueue.
func (a *BaseActor) TrySend(msg Message) bool {
	if a.isClosed() {
		return false
	}
	select {
	case <-a.stop:
		return false
	case <-a.done:
		return false
	case a.mailbox <- msg:
		return true
	default:
		return false
	}
}

// Pause prevents further processing until Resume or Step.
func (a *BaseActor) Pause() error { return a.sendCtrl(ctrlPause) }

// Resume enables continuous processing (disables step mode).
func (a *BaseActor) Resume() error { return a.sendCtrl(ctrlResume) }

// EnableStepMode makes the actor process only when Step() is called.
func (a *BaseActor) EnableStepMode() error { return a.sendCtrl(ctrlEnableStep) }

// Step permits exactly one message to be processed.
func (a *BaseActor) Step() error { return a.sendCtrl(ctrlStep) }

// ---- internals ----

func (a *BaseActor) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *BaseActor) sendCtrl(k ctrlKind) error {
	if a.isClosed() {
		return ErrActorStopped
	}
	select {
	case <-a.stop:
		return ErrActorStopped
	case <-a.done:
		return ErrActorStopped
	case a.control <- ctrlMsg{kind: k}:
		return nil
	}
}

// loopState is owned by the actor goroutine.
type loopState struct {
	paused   bool
	stepMode bool
	permit   int // when >0, actor may process one message; in run mode we auto-renew
	inBatch  bool
	batch    int
}

// apply updates the execution state; it reports false on stop.
func (s *loopState) apply(c ctrlMsg) bool {
	switch c.kind {
	case ctrlStop:
		return false
	case ctrlPause:
		s.paused = true
		s.permit = 0
	case ctrlResume:
		s.paused = false
		s.stepMode = false
		if s.permit == 0 {
			s.permit = 1
		}
	case ctrlEnableStep:
		s.stepMode = true
		s.paused = true
		s.permit = 0
	case ctrlStep:
		// allow exactly one processing opportunity
		s.permit++
	}
	return true
}

func (a *BaseActor) handle(hc HandlerCtx, msg Message) {
	mt := msgTypeOf(msg)
	timer := a.metrics.MessageDuration(mt)
	defer timer.ObserveDuration()

	defer func() {
		if r := recover(); r != nil {
			a.metrics.MessagePanic(mt)
			a.metrics.MessageProcessed(mt, false)
			a.opt.OnPanic(r, debug.Stack(), msg)
			// containment: keep running
		}
	}()

	msg.Invoke(hc)
	a.metrics.MessageProcessed(mt, true)
}

func (a *BaseActor) runHook(hc HandlerCtx, name string, h Hook) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("actor hook panicked", slog.String("hook", name), slog.Any("recovered", r))
		}
	}()
	h(hc)
}

func (a *BaseActor) loop(hc HandlerCtx) {
	defer close(a.done)
	defer a.sched.Release()
	defer a.runHook(hc, "stop", a.opt.OnStop)

	if a.opt.OnInit != nil {
		if err := a.opt.OnInit(hc); err != nil {
			a.log.Error("actor init failed", slog.Any("error", err))
			a.mu.Lock()
			a.closed = true
			a.mu.Unlock()
			return
		}
	}

	st := &loopState{permit: 1}

	endBatch := func() {
		if st.inBatch && len(a.mailbox) == 0 {
			st.inBatch = false
			a.metrics.BatchSize(a.id, st.batch)
			st.batch = 0
			a.runHook(hc, "batch_end", a.opt.OnBatchEnd)
		}
	}
	defer func() {
		if st.inBatch {
			a.runHook(hc, "batch_end", a.opt.OnBatchEnd)
		}
	}()

	// drainControl applies all pending control msgs (priority).
	drainControl := func() bool {
		for {
			select {
			case <-a.stop:
				return false
			case c := <-a.control:
				if !st.apply(c) {
					return false
				}
			default:
				return true
			}
		}
	}

	for {
		// Always prioritize control.
		if ok := drainControl(); !ok {
			return
		}

		select {
		case <-hc.Done():
			return
		default:
		}

		// If no permit, block until a control message (or stop).
		if st.permit <= 0 {
			select {
			case <-a.stop:
				return
			case <-hc.Done():
				return
			case c := <-a.control:
				if !st.apply(c) {
					return
				}
			}
			continue
		}

		// With a permit, process exactly one message, but control can still preempt.
		select {
		case <-a.stop:
			return
		case <-hc.Done():
			return
		case c := <-a.control:
			// preempt: apply control, do not consume permit yet
			if !st.apply(c) {
				return
			}
		case msg := <-a.mailbox:
			st.permit--
			a.metrics.MailboxDepth(a.id, len(a.mailbox))
			if !st.inBatch {
				st.inBatch = true
				a.runHook(hc, "batch_start", a.opt.OnBatchStart)
			}
			st.batch++
			a.handle(hc, msg)
			endBatch()

			// Auto-renew permit in continuous mode after handling one message.
			if !st.paused && !st.stepMode {
				st.permit++
			}
		}
	}
}
