package dispatch

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProxy_Send(t *testing.T) {
	rt := newTestRuntime(t)
	g := newGreeter()
	s := adapter[Greeter](t, publish(t, rt, g))

	s.Notify(t.Context(), "hi")
	require.Equal(t, "hi", recv(t, g.notified))
}

func TestProxy_Query(t *testing.T) {
	rt := newTestRuntime(t)
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))

	r, ch := collect[string]()
	s.Fetch(t.Context(), 7, r)
	got := recv(t, ch)
	require.NoError(t, got.err)
	require.Equal(t, "item-7", got.v)
}

func TestProxy_QueryFailurePropagates(t *testing.T) {
	rt := newTestRuntime(t)
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))

	r, ch := collect[string]()
	s.Fetch(t.Context(), -1, r)
	require.ErrorIs(t, recv(t, ch).err, errNegative)
}

func TestProxy_Call(t *testing.T) {
	rt := newTestRuntime(t)
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))

	v, err := s.Hello(t.Context(), "bob")
	require.NoError(t, err)
	require.Equal(t, "hello bob", v)

	require.NoError(t, s.Ping(t.Context()))
}

func TestProxy_TargetPanic(t *testing.T) {
	rt := newTestRuntime(t)
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))

	err := s.Boom(t.Context())
	require.ErrorIs(t, err, ErrPanic)
	require.ErrorContains(t, err, "boom")

	// the service keeps running
	require.NoError(t, s.Ping(t.Context()))
}

func TestProxy_Stream(t *testing.T) {
	rt := newTestRuntime(t)
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))

	values := make(chan int, 8)
	done := make(chan error, 1)
	s.Count(t.Context(), 3, OnStream(
		func(v int) { values <- v },
		func(err error) { done <- err },
	))

	require.NoError(t, recv(t, done))
	require.Len(t, values, 3)
	for i := range 3 {
		require.Equal(t, i, <-values)
	}
}

func TestProxy_PipeIn(t *testing.T) {
	rt := newTestRuntime(t)
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))

	values := make(chan int, 8)
	done := make(chan error, 1)
	s.Watch(t.Context(), 4, Subscribe(
		func(v int) { values <- v },
		func(err error) { done <- err },
	))

	require.NoError(t, recv(t, done))
	require.Len(t, values, 4)
}

func TestProxy_PipeOut(t *testing.T) {
	rt := newTestRuntime(t)
	g := newGreeter()
	s := adapter[Greeter](t, publish(t, rt, g))

	pipes := make(chan Pipe[string], 1)
	s.Ingest(t.Context(), PublishTo(
		func(p Pipe[string]) { pipes <- p },
		func(err error) { t.Errorf("pipe rejected: %v", err) },
	))

	p := recv(t, pipes)
	require.NoError(t, p.Send("a"))
	require.NoError(t, p.Send("b"))
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Send("c"), ErrPipeClosed)

	require.Equal(t, "a", recv(t, g.ingested))
	require.Equal(t, "b", recv(t, g.ingested))
	require.NoError(t, recv(t, g.ingestDone))
}

func TestProxy_ValidatesOnce(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, withMetrics(m))
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))

	_, err := s.Hello(t.Context(), "a")
	require.NoError(t, err)
	require.NoError(t, s.Ping(t.Context()))
	_, err = s.Hello(t.Context(), "b")
	require.NoError(t, err)

	require.Equal(t, int32(1), m.validated.Load())

	// a second proxy instance validates again
	s2 := adapter[Greeter](t, s.(greeterStub).Proxy().Ref())
	require.NoError(t, s2.Ping(t.Context()))
	require.Equal(t, int32(2), m.validated.Load())
}

func TestProxy_MismatchFailsFirstCall(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, withMetrics(m))
	ref := publish(t, rt, newGreeter())

	// construction succeeds although Missing does not exist on the target
	s, err := NewAdapter[Partial](ref)
	require.NoError(t, err)

	r, ch := collect[string]()
	s.Fetch(t.Context(), 1, r)
	got := recv(t, ch)
	require.ErrorIs(t, got.err, ErrProxyMismatch)
	require.ErrorContains(t, got.err, "Missing")

	p, _ := ProxyOf(s)
	err = p.Send(t.Context(), "Notify", "x")
	require.ErrorIs(t, err, ErrProxyMismatch)
	require.ErrorContains(t, err, "Missing")

	require.Equal(t, int32(1), m.validated.Load())
}

func TestProxy_QueryTimeout(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, withMetrics(m))
	h := &holder{held: make(chan Result[string], 1)}
	s := adapter[Fetcher](t, publish(t, rt, h), WithTimeout(50*time.Millisecond))

	calls := make(chan reply[string], 4)
	start := time.Now()
	s.Fetch(t.Context(), 1, OnResult(func(v string, err error) {
		calls <- reply[string]{v, err}
	}))

	got := recv(t, calls)
	elapsed := time.Since(start)
	require.ErrorIs(t, got.err, ErrTimeout)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, 250*time.Millisecond)

	// the target answers late; the outcome is dropped
	held := recv(t, h.held)
	held.Ok("late")
	held.Fail(context.Canceled)
	require.Equal(t, int32(2), m.late.Load())
	require.Empty(t, calls)
}

func TestProxy_TimeoutCeiling(t *testing.T) {
	rt := newTestRuntime(t, func(o *Options) { o.Config.QueryTimeout = 30 * time.Millisecond })
	h := &holder{held: make(chan Result[string], 1)}
	s := adapter[Fetcher](t, publish(t, rt, h), WithTimeout(time.Hour))

	r, ch := collect[string]()
	start := time.Now()
	s.Fetch(t.Context(), 1, r)
	require.ErrorIs(t, recv(t, ch).err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestProxy_CallHonoursContext(t *testing.T) {
	rt := newTestRuntime(t)
	h := &holder{held: make(chan Result[string], 1)}
	ref := publish(t, rt, h)
	p, err := rt.NewProxy(ref, reflect.TypeFor[Fetcher]())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	r, ch := collect[string]()
	require.NoError(t, p.Query(ctx, "Fetch", 1, r))
	require.ErrorIs(t, recv(t, ch).err, ErrTimeout)
}

func TestProxy_ClosedTarget(t *testing.T) {
	m := &countingMetrics{}
	rt := newTestRuntime(t, withMetrics(m))
	ref := publish(t, rt, newGreeter())
	s := adapter[Greeter](t, ref)

	require.NoError(t, ref.Close())
	_, err := s.Hello(t.Context(), "x")
	require.ErrorIs(t, err, ErrServiceClosed)
	require.Zero(t, m.validated.Load())
}

func TestProxy_CallingConventions(t *testing.T) {
	rt := newTestRuntime(t)
	s := adapter[Greeter](t, publish(t, rt, newGreeter()))
	p, _ := ProxyOf(s)

	require.ErrorIs(t, p.Send(t.Context(), "Hello", "x"), ErrKindMismatch)
	require.ErrorIs(t, p.Send(t.Context(), "Nope"), ErrUnknownMethod)
	require.ErrorIs(t, p.Send(t.Context(), "Notify"), ErrArgCount)

	_, err := Call[int](t.Context(), p, "Hello", "x")
	require.ErrorIs(t, err, ErrResultType)

	// wrong argument type reaches the target and fails there
	_, err = Call[string](t.Context(), p, "Hello", 42)
	require.ErrorIs(t, err, ErrArgType)
}

func TestProxy_ResultSubmittedOnce(t *testing.T) {
	rt := newTestRuntime(t)
	h := &holder{held: make(chan Result[string], 2)}
	s := adapter[Fetcher](t, publish(t, rt, h))
	p, _ := ProxyOf(s)

	r, ch := collect[string]()
	require.NoError(t, p.Query(t.Context(), "Fetch", 1, r))
	require.ErrorIs(t, p.Query(t.Context(), "Fetch", 2, r), ErrAlreadySubmitted)

	recv(t, h.held).Ok("first")
	require.Equal(t, "first", recv(t, ch).v)
}

func TestProxy_SelfCall(t *testing.T) {
	rt := newTestRuntime(t)
	l := &looper{}
	ref := publish(t, rt, l)
	l.self = adapter[Looper](t, ref)

	s := adapter[Looper](t, ref)
	_, err := s.Loop(t.Context())
	require.ErrorIs(t, err, ErrSelfCall)
}

func TestStub_UniversalOperations(t *testing.T) {
	rt := newTestRuntime(t)
	ref := publish(t, rt, newGreeter())
	other := publish(t, rt, newGreeter())

	a := adapter[Greeter](t, ref).(greeterStub)
	b := adapter[Greeter](t, ref, WithTimeout(time.Second)).(greeterStub)
	c := adapter[Greeter](t, other).(greeterStub)

	require.True(t, a.Equal(b))
	require.True(t, a.Equal(ref))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal("nope"))
	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), c.Hash())
	require.Equal(t, "Greeter["+string(ref.Address())+"]", a.String())

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var h RefHandle
	require.NoError(t, json.Unmarshal(data, &h))
	require.Equal(t, ref.Address(), h.Address)
	require.Equal(t, "github.com/codewandler/ampd-go/core/dispatch.Greeter", h.Interface)

	resolved, err := rt.Resolve(h)
	require.NoError(t, err)
	require.True(t, resolved.Equal(ref))
}

func TestNewAdapter_NoStub(t *testing.T) {
	rt := newTestRuntime(t)
	ref := publish(t, rt, newGreeter())

	type unregistered interface{ Ping(ctx context.Context) error }
	_, err := NewAdapter[unregistered](ref)
	require.ErrorIs(t, err, ErrNoStub)
}

func TestLookup(t *testing.T) {
	rt := newTestRuntime(t)
	ref, err := rt.Publish(t.Context(), "greeter", newGreeter())
	require.NoError(t, err)

	s, err := Lookup[Greeter](rt, "greeter")
	require.NoError(t, err)
	p, _ := ProxyOf(s)
	require.True(t, p.Ref().Equal(ref))

	_, err = Lookup[Greeter](rt, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
