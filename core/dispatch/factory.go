package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// messageFactory builds envelopes. A proxy picks one at construction.
type messageFactory interface {
	build(ctx context.Context, ob *Outbox, p *Proxy, spec *methodSpec, m *Method, args []any, cont continuation) (*Envelope, error)
}

type baseFactory struct {
	rt *Runtime
}

func (f *baseFactory) build(ctx context.Context, ob *Outbox, p *Proxy, spec *methodSpec, m *Method, args []any, cont continuation) (*Envelope, error) {
	env := &Envelope{
		kind:         spec.Kind,
		target:       p.ref,
		method:       m,
		args:         args,
		headers:      f.inherit(ob).Merge(p.headers),
		offerTimeout: f.rt.cfg.SendTimeout,
	}
	if cont == nil {
		return env, nil
	}

	env.timeout = f.queryTimeout(ctx, p)
	env.offerTimeout = env.timeout
	if err := f.attach(ctx, env, spec, cont); err != nil {
		return nil, err
	}
	return env, nil
}

// inherit returns the headers of the message the current turn processes.
func (f *baseFactory) inherit(ob *Outbox) Headers {
	if cur := ob.Current(); cur != nil {
		return cur.headers
	}
	return Headers{}
}

// queryTimeout is the smallest of the proxy timeout, the ctx deadline and
// the configured ceiling.
func (f *baseFactory) queryTimeout(ctx context.Context, p *Proxy) time.Duration {
	d := f.rt.cfg.QueryTimeout
	if p.timeout > 0 && p.timeout < d {
		d = p.timeout
	}
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < d {
			d = max(until, time.Millisecond)
		}
	}
	return d
}

// attach binds cont to a new call and starts its timeout. onDone runs when
// the call settles.
func (f *baseFactory) attach(ctx context.Context, env *Envelope, spec *methodSpec, cont continuation, onDone ...func(error)) error {
	c := &callState{
		rt:      f.rt,
		kind:    spec.Kind,
		target:  env.target,
		method:  spec.Name,
		timeout: env.timeout,
		idle:    spec.Kind == KindStream,
		cont:    cont,
		obs:     f.rt.metrics.CallDuration(spec.Kind.String()),
		onDone:  onDone,
	}
	if in := InboxFrom(ctx); in != nil && !spec.Blocking {
		c.inbox = in.mailbox
	}
	if spec.Kind == KindPipeIn {
		// open until the target closes it
		c.timeout = 0
	}
	if err := cont.bind(c); err != nil {
		return fmt.Errorf("%s: %w", spec.signature(), err)
	}
	env.cont = cont
	env.call = c
	f.rt.calls.Store(c, struct{}{})
	c.arm()
	return nil
}

// Debug header keys are "<prefix>.<depth>".
const (
	HeaderService = "service"
	HeaderMethod  = "method"
)

// cycle warning band on the inherited header count
const (
	cycleLow  = 100
	cycleHigh = 120
)

// debugFactory adds call-chain headers, warns on likely cycles and records
// queries in the runtime's QueryRegistry.
type debugFactory struct {
	baseFactory
}

func (f *debugFactory) build(ctx context.Context, ob *Outbox, p *Proxy, spec *methodSpec, m *Method, args []any, cont continuation) (*Envelope, error) {
	headers := f.inherit(ob)
	n := headers.Len()
	if n > cycleLow && n < cycleHigh {
		f.rt.metrics.CycleSuspected(spec.Name)
		p.log.Warn("possible cycle",
			slog.String("method", spec.Name),
			slog.Int("depth", n),
			slog.Any("headers", headers),
		)
	}
	depth := strconv.Itoa(n/2 + 1)
	headers = headers.
		With(HeaderService+"."+depth, string(p.ref.addr)).
		With(HeaderMethod+"."+depth, spec.Name).
		Merge(p.headers)

	env := &Envelope{
		kind:         spec.Kind,
		target:       p.ref,
		method:       m,
		args:         args,
		headers:      headers,
		offerTimeout: f.rt.cfg.DebugSendTimeout,
	}
	if cont == nil {
		return env, nil
	}

	env.timeout = f.queryTimeout(ctx, p)
	env.offerTimeout = env.timeout
	if spec.Kind != KindQuery {
		if err := f.attach(ctx, env, spec, cont); err != nil {
			return nil, err
		}
		return env, nil
	}

	// queries stay in the registry until their continuation settles
	info := QueryInfo{
		Token:    gonanoid.Must(),
		Target:   env.target.addr,
		Method:   spec.Name,
		Headers:  env.headers.Map(),
		Location: callerLocation(),
		Started:  time.Now(),
	}
	f.rt.queries.add(info)
	if err := f.attach(ctx, env, spec, cont, func(error) { f.rt.queries.remove(info.Token) }); err != nil {
		f.rt.queries.remove(info.Token)
		return nil, err
	}
	return env, nil
}

var dispatchPath = reflect.TypeFor[Runtime]().PkgPath()

// callerLocation returns file:line of the first frame outside this package.
func callerLocation() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		if !inDispatch(fr) {
			return fr.File + ":" + strconv.Itoa(fr.Line)
		}
		if !more {
			return "unknown"
		}
	}
}

func inDispatch(fr runtime.Frame) bool {
	return strings.HasPrefix(fr.Function, dispatchPath+".") && !strings.HasSuffix(fr.File, "_test.go")
}
