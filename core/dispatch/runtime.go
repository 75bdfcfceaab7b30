package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RussellLuo/timingwheel"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/ampd-go/core/actor"
)

// SystemAddress is the address of the runtime's system actor.
const SystemAddress Address = "system"

// Lifecycle hooks a published implementation may provide. They run on the
// service's actor, each as its own turn.
type (
	Initializer interface {
		OnInit(ctx context.Context) error
	}
	Activator interface {
		OnActive(ctx context.Context)
	}
	BatchStarter interface {
		BeforeBatch(ctx context.Context)
	}
	BatchFinisher interface {
		AfterBatch(ctx context.Context)
	}
	Destroyer interface {
		OnDestroy(ctx context.Context)
	}
)

type Options struct {
	Context      context.Context
	Logger       *slog.Logger
	Config       Config
	Metrics      Metrics
	ActorMetrics actor.ActorMetrics
	OnPanic      actor.OnPanic
}

// Runtime owns published services, the timer wheel and the system actor.
type Runtime struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	cfg    Config

	metrics      Metrics
	actorMetrics actor.ActorMetrics
	onPanic      actor.OnPanic

	wheel   *timingwheel.TimingWheel
	queries *QueryRegistry
	// calls holds unsettled calls so Close can fail them
	calls sync.Map

	mu       sync.RWMutex
	services map[Address]*Ref
	system   *Ref

	closed atomic.Bool
}

// New starts a runtime.
func New(opts Options) (*Runtime, error) {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics()
	}
	if opts.ActorMetrics == nil {
		opts.ActorMetrics = actor.NopActorMetrics()
	}
	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := gonanoid.Must(8)
	ctx, cancel := context.WithCancel(opts.Context)
	rt := &Runtime{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		log:          opts.Logger.With(slog.String("runtime", id)),
		cfg:          cfg,
		metrics:      opts.Metrics,
		actorMetrics: opts.ActorMetrics,
		onPanic:      opts.OnPanic,
		wheel:        timingwheel.NewTimingWheel(cfg.TimerTick, cfg.TimerWheelSize),
		services:     make(map[Address]*Ref),
	}
	rt.queries = newQueryRegistry(ctx, rt.metrics)
	rt.wheel.Start()

	system, err := rt.Publish(ctx, SystemAddress, struct{}{})
	if err != nil {
		rt.wheel.Stop()
		cancel()
		return nil, fmt.Errorf("start system actor: %w", err)
	}
	rt.system = system

	rt.log.Debug("runtime started", slog.Any("config", cfg))
	return rt, nil
}

func (rt *Runtime) ID() string { return rt.id }

func (rt *Runtime) Config() Config { return rt.cfg }

func (rt *Runtime) Logger() *slog.Logger { return rt.log }

// System returns the system actor's ref. Objects pinned outside any turn
// are published on it.
func (rt *Runtime) System() *Ref { return rt.system }

// Queries returns the registry of outstanding debug queries.
func (rt *Runtime) Queries() *QueryRegistry { return rt.queries }

// OutstandingQueries is a snapshot of in-flight debug queries.
func (rt *Runtime) OutstandingQueries() []QueryInfo { return rt.queries.Snapshot() }

// Publish starts impl as a service on its own actor at addr and waits for
// its OnInit hook. An empty addr is replaced by a fresh one.
func (rt *Runtime) Publish(ctx context.Context, addr Address, impl any) (*Ref, error) {
	if rt.closed.Load() {
		return nil, ErrRuntimeClosed
	}
	if addr == "" {
		addr = NewAddress("svc")
	}
	ops, err := NewOperationTable(impl, rt.log.With(slog.String("service", string(addr))))
	if err != nil {
		return nil, err
	}

	ref := &Ref{addr: addr, rt: rt, ops: ops}
	if err := rt.register(ref); err != nil {
		return nil, err
	}

	var (
		started = make(chan struct{})
		ready   = make(chan error, 1)
		active  atomic.Bool
	)
	a := actor.New(actor.Options{
		ID:                 string(addr),
		Context:            rt.ctx,
		Logger:             rt.log,
		MailboxSize:        rt.cfg.MailboxSize,
		MaxConcurrentTasks: rt.cfg.MaxConcurrentTasks,
		Metrics:            rt.actorMetrics,
		OnPanic:            rt.onPanic,
		OnInit: func(hc actor.HandlerCtx) error {
			<-started
			var err error
			rt.turn(hc, ref, nil, func(ctx context.Context) {
				if h, ok := impl.(Initializer); ok {
					err = h.OnInit(ctx)
				}
				if err == nil {
					active.Store(true)
					if h, ok := impl.(Activator); ok {
						h.OnActive(ctx)
					}
				}
			})
			ready <- err
			return err
		},
		OnBatchStart: func(hc actor.HandlerCtx) {
			if h, ok := impl.(BatchStarter); ok {
				rt.turn(hc, ref, nil, h.BeforeBatch)
			}
		},
		OnBatchEnd: func(hc actor.HandlerCtx) {
			if h, ok := impl.(BatchFinisher); ok {
				rt.turn(hc, ref, nil, h.AfterBatch)
			}
		},
		OnStop: func(hc actor.HandlerCtx) {
			ref.closed.Store(true)
			if h, ok := impl.(Destroyer); ok && active.Load() {
				h.OnDestroy(context.WithoutCancel(hc))
			}
		},
	})
	ref.actor = a
	ref.mailbox = &actorMailbox{a: a}
	close(started)

	select {
	case err := <-ready:
		if err != nil {
			rt.unregister(ref)
			a.Stop()
			return nil, fmt.Errorf("init %s: %w", addr, err)
		}
	case <-ctx.Done():
		_ = ref.Close()
		return nil, ctx.Err()
	}

	rt.log.Debug("service published", slog.String("service", string(addr)), slog.String("type", ops.Name()))
	return ref, nil
}

// publishOn publishes impl on owner's actor without lifecycle hooks.
func (rt *Runtime) publishOn(owner *Ref, addr Address, impl any) (*Ref, error) {
	if rt.closed.Load() {
		return nil, ErrRuntimeClosed
	}
	ops, err := NewOperationTable(impl, rt.log.With(slog.String("service", string(addr))))
	if err != nil {
		return nil, err
	}
	ref := &Ref{addr: addr, rt: rt, ops: ops, mailbox: owner.mailbox, owner: owner}
	if err := rt.register(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// Lookup returns the service published at addr.
func (rt *Runtime) Lookup(addr Address) (*Ref, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	ref, ok := rt.services[addr]
	return ref, ok
}

// Resolve maps a serialized handle back to its live ref.
func (rt *Runtime) Resolve(h RefHandle) (*Ref, error) {
	ref, ok := rt.Lookup(h.Address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h.Address)
	}
	return ref, nil
}

// Services lists the published addresses.
func (rt *Runtime) Services() []Address {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Address, 0, len(rt.services))
	for addr := range rt.services {
		out = append(out, addr)
	}
	return out
}

func (rt *Runtime) register(ref *Ref) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.services[ref.addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddressInUse, ref.addr)
	}
	rt.services[ref.addr] = ref
	return nil
}

func (rt *Runtime) unregister(ref *Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if cur, ok := rt.services[ref.addr]; ok && cur == ref {
		delete(rt.services, ref.addr)
	}
}

// turn runs fn as one unit of work of inbox with a fresh outbox. current
// is the inbound envelope, if any.
func (rt *Runtime) turn(hc context.Context, inbox *Ref, current *Envelope, fn func(ctx context.Context)) {
	ctx := withInbox(hc, inbox)
	if h, ok := hc.(actor.HandlerCtx); ok {
		ctx = context.WithValue(ctx, handlerKey{}, h)
	}
	ctx, scope := Acquire(ctx, rt)
	scope.Outbox().setCurrent(current)
	defer func() {
		if err := scope.Release(); err != nil {
			rt.log.Warn("turn flush failed", slog.String("service", string(inbox.addr)), slog.Any("error", err))
		}
	}()
	fn(ctx)
}

// Close stops all services, then the system actor and the timer wheel.
func (rt *Runtime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}

	rt.mu.RLock()
	refs := make([]*Ref, 0, len(rt.services))
	for _, ref := range rt.services {
		if ref != rt.system {
			refs = append(refs, ref)
		}
	}
	rt.mu.RUnlock()

	var errs []error
	for _, ref := range refs {
		errs = append(errs, ref.Close())
	}
	if rt.system != nil {
		errs = append(errs, rt.system.Close())
	}
	rt.calls.Range(func(k, _ any) bool {
		k.(*callState).cont.abort(ErrRuntimeClosed)
		return true
	})
	rt.wheel.Stop()
	rt.cancel()
	rt.log.Debug("runtime closed")
	return errors.Join(errs...)
}
