package dispatch

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebug_HeaderChain(t *testing.T) {
	rt := newTestRuntime(t)
	rec := newRecorder()
	recRef := publish(t, rt, rec)
	next := adapter[Recorder](t, recRef, WithDebug(true))
	relayRef := publish(t, rt, &relay{next: next})
	s := adapter[Relay](t, relayRef, WithDebug(true))

	s.Forward(t.Context(), 1)
	require.Equal(t, 1, recv(t, rec.got))

	require.Equal(t, map[string]string{
		"service.1": string(relayRef.Address()),
		"method.1":  "Forward",
		"service.2": string(recRef.Address()),
		"method.2":  "Record",
	}, recv(t, rec.headers).Map())
}

func TestDebug_BaseHeadersInherited(t *testing.T) {
	rt := newTestRuntime(t)
	rec := newRecorder()
	next := adapter[Recorder](t, publish(t, rt, rec), WithDebug(true))
	s := adapter[Relay](t, publish(t, rt, &relay{next: next}), WithDebug(true), WithHeader("tenant", "acme"))

	s.Forward(t.Context(), 1)
	h := recv(t, rec.headers)
	v, _ := h.Get("tenant")
	require.Equal(t, "acme", v)
	require.Equal(t, 5, h.Len())
}

func TestDebug_ConfigSelectsFactory(t *testing.T) {
	rt := newTestRuntime(t, func(o *Options) { o.Config.Debug = true })
	ref := publish(t, rt, newGreeter())

	p, err := rt.NewProxy(ref, reflect.TypeFor[Greeter]())
	require.NoError(t, err)
	require.True(t, p.Debug())

	p, err = rt.NewProxy(ref, reflect.TypeFor[Greeter](), WithDebug(false))
	require.NoError(t, err)
	require.False(t, p.Debug())
}

func TestDebug_CycleWarning(t *testing.T) {
	tests := []struct {
		inherited int
		warn      bool
	}{
		{100, false},
		{102, true},
		{118, true},
		{120, false},
	}
	for _, tc := range tests {
		m := &countingMetrics{}
		rt := newTestRuntime(t, withMetrics(m))
		rec := newRecorder()
		s := adapter[Recorder](t, publish(t, rt, rec), WithDebug(true))

		// run the call inside a turn whose message carries the headers
		kv := make(map[string]string, tc.inherited)
		for i := range tc.inherited {
			kv["h"+strings.Repeat("x", i)] = "v"
		}
		inbound := &Envelope{headers: NewHeaders(kv)}
		rt.turn(t.Context(), rt.System(), inbound, func(ctx context.Context) {
			s.Record(ctx, 1)
		})

		h := recv(t, rec.headers)
		require.Equal(t, tc.inherited+2, h.Len())
		if tc.warn {
			require.Equal(t, int32(1), m.cycles.Load(), "inherited %d", tc.inherited)
		} else {
			require.Zero(t, m.cycles.Load(), "inherited %d", tc.inherited)
		}
	}
}

func TestDebug_QueryRegistry(t *testing.T) {
	rt := newTestRuntime(t)
	h := &holder{held: make(chan Result[string], 1)}
	ref := publish(t, rt, h)
	p, err := rt.NewProxy(ref, reflect.TypeFor[Fetcher](), WithDebug(true))
	require.NoError(t, err)

	r, ch := collect[string]()
	require.NoError(t, p.Query(t.Context(), "Fetch", 1, r))
	held := recv(t, h.held)

	require.Eventually(t, func() bool { return rt.Queries().Len() == 1 }, time.Second, time.Millisecond)
	q := rt.OutstandingQueries()[0]
	require.Equal(t, ref.Address(), q.Target)
	require.Equal(t, "Fetch", q.Method)
	require.Equal(t, "Fetch", q.Headers["method.1"])
	require.Contains(t, q.Location, "debug_test.go")
	require.NotEmpty(t, q.Token)
	require.GreaterOrEqual(t, q.Age(), time.Duration(0))

	held.Ok("done")
	require.Equal(t, "done", recv(t, ch).v)
	require.Eventually(t, func() bool { return rt.Queries().Len() == 0 }, time.Second, time.Millisecond)
}

func TestDebug_QueryRegistryOnTimeout(t *testing.T) {
	rt := newTestRuntime(t)
	h := &holder{held: make(chan Result[string], 1)}
	s := adapter[Fetcher](t, publish(t, rt, h), WithDebug(true), WithTimeout(20*time.Millisecond))

	r, ch := collect[string]()
	s.Fetch(t.Context(), 1, r)
	require.ErrorIs(t, recv(t, ch).err, ErrTimeout)
	require.Eventually(t, func() bool { return rt.Queries().Len() == 0 }, time.Second, time.Millisecond)
}

func TestDebug_SendTimeout(t *testing.T) {
	rt := newTestRuntime(t, func(o *Options) {
		o.Config.DebugSendTimeout = 5 * time.Second
		o.Config.SendTimeout = time.Hour
	})
	ref := publish(t, rt, newRecorder())

	p, err := rt.NewProxy(ref, reflect.TypeFor[Recorder](), WithDebug(true))
	require.NoError(t, err)
	env, err := p.factory.build(t.Context(), &Outbox{}, p, p.pt.byName["Record"], p.handles["Record"], []any{1}, nil)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, env.offerTimeout)

	p, err = rt.NewProxy(ref, reflect.TypeFor[Recorder]())
	require.NoError(t, err)
	env, err = p.factory.build(t.Context(), &Outbox{}, p, p.pt.byName["Record"], p.handles["Record"], []any{1}, nil)
	require.NoError(t, err)
	require.Equal(t, time.Hour, env.offerTimeout)
	require.Zero(t, env.Headers().Len())
}
