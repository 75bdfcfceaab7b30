package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errNegative = errors.New("negative id")

type (
	Greeter interface {
		Notify(ctx context.Context, msg string)
		Fetch(ctx context.Context, id int, r Result[string])
		Hello(ctx context.Context, name string) (string, error)
		Ping(ctx context.Context) error
		Boom(ctx context.Context) error
		Count(ctx context.Context, n int, s Stream[int])
		Ingest(ctx context.Context, p PipeOut[string])
		Watch(ctx context.Context, n int, p PipeIn[int])
	}

	// Partial has a method its target lacks.
	Partial interface {
		Notify(ctx context.Context, msg string)
		Fetch(ctx context.Context, id int, r Result[string])
		Missing(ctx context.Context, x int)
	}

	Notifier interface {
		Notify(ctx context.Context, msg string)
	}

	Fetcher interface {
		Fetch(ctx context.Context, id int, r Result[string])
	}

	Recorder interface {
		Record(ctx context.Context, n int)
	}

	Relay interface {
		Forward(ctx context.Context, n int)
	}

	Sink interface {
		Put(ctx context.Context, v string)
		Items(ctx context.Context) ([]string, error)
	}

	User interface {
		Use(ctx context.Context, s Pinned[Sink]) (string, error)
	}

	Sharer interface {
		Share(ctx context.Context) (string, error)
	}

	Looper interface {
		Loop(ctx context.Context) (string, error)
		Echo(ctx context.Context) (string, error)
	}
)

// ---- stubs, as cmd/stubgen writes them ----

type greeterStub struct{ Stub }

func (s greeterStub) Notify(ctx context.Context, msg string) {
	_ = s.Proxy().Send(ctx, "Notify", msg)
}

func (s greeterStub) Fetch(ctx context.Context, id int, r Result[string]) {
	_ = s.Proxy().Query(ctx, "Fetch", id, r)
}

func (s greeterStub) Hello(ctx context.Context, name string) (string, error) {
	return Call[string](ctx, s.Proxy(), "Hello", name)
}

func (s greeterStub) Ping(ctx context.Context) error {
	return CallErr(ctx, s.Proxy(), "Ping")
}

func (s greeterStub) Boom(ctx context.Context) error {
	return CallErr(ctx, s.Proxy(), "Boom")
}

func (s greeterStub) Count(ctx context.Context, n int, st Stream[int]) {
	_ = s.Proxy().Stream(ctx, "Count", n, st)
}

func (s greeterStub) Ingest(ctx context.Context, p PipeOut[string]) {
	_ = s.Proxy().PipeOut(ctx, "Ingest", p)
}

func (s greeterStub) Watch(ctx context.Context, n int, p PipeIn[int]) {
	_ = s.Proxy().PipeIn(ctx, "Watch", n, p)
}

type partialStub struct{ Stub }

func (s partialStub) Notify(ctx context.Context, msg string) {
	_ = s.Proxy().Send(ctx, "Notify", msg)
}

func (s partialStub) Fetch(ctx context.Context, id int, r Result[string]) {
	_ = s.Proxy().Query(ctx, "Fetch", id, r)
}

func (s partialStub) Missing(ctx context.Context, x int) {
	_ = s.Proxy().Send(ctx, "Missing", x)
}

type notifierStub struct{ Stub }

func (s notifierStub) Notify(ctx context.Context, msg string) {
	_ = s.Proxy().Send(ctx, "Notify", msg)
}

type fetcherStub struct{ Stub }

func (s fetcherStub) Fetch(ctx context.Context, id int, r Result[string]) {
	_ = s.Proxy().Query(ctx, "Fetch", id, r)
}

type recorderStub struct{ Stub }

func (s recorderStub) Record(ctx context.Context, n int) {
	_ = s.Proxy().Send(ctx, "Record", n)
}

type relayStub struct{ Stub }

func (s relayStub) Forward(ctx context.Context, n int) {
	_ = s.Proxy().Send(ctx, "Forward", n)
}

type sinkStub struct{ Stub }

func (s sinkStub) Put(ctx context.Context, v string) {
	_ = s.Proxy().Send(ctx, "Put", v)
}

func (s sinkStub) Items(ctx context.Context) ([]string, error) {
	return Call[[]string](ctx, s.Proxy(), "Items")
}

type userStub struct{ Stub }

func (s userStub) Use(ctx context.Context, sink Pinned[Sink]) (string, error) {
	return Call[string](ctx, s.Proxy(), "Use", sink)
}

type sharerStub struct{ Stub }

func (s sharerStub) Share(ctx context.Context) (string, error) {
	return Call[string](ctx, s.Proxy(), "Share")
}

type looperStub struct{ Stub }

func (s looperStub) Loop(ctx context.Context) (string, error) {
	return Call[string](ctx, s.Proxy(), "Loop")
}

func (s looperStub) Echo(ctx context.Context) (string, error) {
	return Call[string](ctx, s.Proxy(), "Echo")
}

func init() {
	RegisterStub(func(p *Proxy) Greeter { return greeterStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Partial { return partialStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Notifier { return notifierStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Fetcher { return fetcherStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Recorder { return recorderStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Relay { return relayStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Sink { return sinkStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) User { return userStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Sharer { return sharerStub{NewStub(p)} })
	RegisterStub(func(p *Proxy) Looper { return looperStub{NewStub(p)} })
}

// ---- implementations ----

type greeter struct {
	notified   chan string
	ingested   chan string
	ingestDone chan error
}

func newGreeter() *greeter {
	return &greeter{
		notified:   make(chan string, 64),
		ingested:   make(chan string, 64),
		ingestDone: make(chan error, 1),
	}
}

func (g *greeter) Notify(_ context.Context, msg string) { g.notified <- msg }

func (g *greeter) Fetch(_ context.Context, id int, r Result[string]) {
	if id < 0 {
		r.Fail(errNegative)
		return
	}
	r.Ok("item-" + strconv.Itoa(id))
}

func (g *greeter) Hello(_ context.Context, name string) (string, error) {
	return "hello " + name, nil
}

func (g *greeter) Ping(context.Context) error { return nil }

func (g *greeter) Boom(context.Context) error { panic("boom") }

func (g *greeter) Count(_ context.Context, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (g *greeter) Ingest(_ context.Context, p PipeOut[string]) {
	p.Consume(
		func(s string) { g.ingested <- s },
		func(err error) { g.ingestDone <- err },
	)
}

func (g *greeter) Watch(_ context.Context, n int, p PipeIn[int]) {
	for i := range n {
		p.Next(i)
	}
	p.Close()
}

// holder never completes a fetch on its own.
type holder struct {
	held chan Result[string]
}

func (h *holder) Fetch(_ context.Context, _ int, r Result[string]) { h.held <- r }

type recorder struct {
	got     chan int
	headers chan Headers
}

func newRecorder() *recorder {
	return &recorder{got: make(chan int, 256), headers: make(chan Headers, 256)}
}

func (r *recorder) Record(ctx context.Context, n int) {
	if ob := OutboxFrom(ctx); ob != nil && ob.Current() != nil {
		r.headers <- ob.Current().Headers()
	}
	r.got <- n
}

type relay struct {
	next Recorder
}

func (r *relay) Forward(ctx context.Context, n int) { r.next.Record(ctx, n) }

type memSink struct {
	items []string
}

func (s *memSink) Put(_ context.Context, v string) { s.items = append(s.items, v) }

func (s *memSink) Items(context.Context) ([]string, error) {
	return append([]string(nil), s.items...), nil
}

type user struct {
	got chan Pinned[Sink]
}

func (u *user) Use(_ context.Context, s Pinned[Sink]) (string, error) {
	if u.got != nil {
		u.got <- s
	}
	if s.Ref() == nil {
		return "", errors.New("not pinned")
	}
	return string(s.Ref().Owner().Address()), nil
}

type sharer struct {
	user User
}

func (s *sharer) Share(ctx context.Context) (string, error) {
	return s.user.Use(ctx, Pin[Sink](&memSink{}))
}

type looper struct {
	self Looper
}

func (l *looper) Loop(ctx context.Context) (string, error) { return l.self.Echo(ctx) }

func (l *looper) Echo(context.Context) (string, error) { return "echo", nil }

type lifecycle struct {
	events chan string
}

func (l *lifecycle) OnInit(context.Context) error {
	l.events <- "init"
	return nil
}

func (l *lifecycle) OnActive(context.Context)             { l.events <- "active" }
func (l *lifecycle) BeforeBatch(context.Context)          { l.events <- "before" }
func (l *lifecycle) AfterBatch(context.Context)           { l.events <- "after" }
func (l *lifecycle) OnDestroy(context.Context)            { l.events <- "destroy" }
func (l *lifecycle) Notify(_ context.Context, msg string) { l.events <- "msg:" + msg }

// ---- helpers ----

type countingMetrics struct {
	nopMetrics
	validated atomic.Int32
	cycles    atomic.Int32
	late      atomic.Int32
}

func (m *countingMetrics) ProxyValidated(string, bool) { m.validated.Add(1) }
func (m *countingMetrics) CycleSuspected(string)       { m.cycles.Add(1) }
func (m *countingMetrics) LateCompletion(string)       { m.late.Add(1) }

func newTestRuntime(t *testing.T, mods ...func(*Options)) *Runtime {
	t.Helper()
	opts := Options{Context: t.Context()}
	for _, mod := range mods {
		mod(&opts)
	}
	rt, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func withMetrics(m Metrics) func(*Options) {
	return func(o *Options) { o.Metrics = m }
}

func publish(t *testing.T, rt *Runtime, impl any) *Ref {
	t.Helper()
	ref, err := rt.Publish(t.Context(), "", impl)
	require.NoError(t, err)
	return ref
}

func adapter[T any](t *testing.T, ref *Ref, opts ...ProxyOption) T {
	t.Helper()
	s, err := NewAdapter[T](ref, opts...)
	require.NoError(t, err)
	return s
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for value")
	}
	var zero T
	return zero
}

type reply[T any] struct {
	v   T
	err error
}

// collect returns a Result that reports into a channel.
func collect[T any]() (Result[T], chan reply[T]) {
	ch := make(chan reply[T], 4)
	return OnResult(func(v T, err error) { ch <- reply[T]{v, err} }), ch
}
