package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// ProxyOption configures a proxy.
type ProxyOption func(*proxyOptions)

type proxyOptions struct {
	timeout time.Duration
	debug   *bool
	headers Headers
}

// WithTimeout sets the caller timeout for queries, streams and pipes. The
// runtime's QueryTimeout still caps it.
func WithTimeout(d time.Duration) ProxyOption {
	return func(o *proxyOptions) { o.timeout = d }
}

// WithDebug overrides Config.Debug for this proxy.
func WithDebug(enabled bool) ProxyOption {
	return func(o *proxyOptions) { o.debug = &enabled }
}

// WithHeader adds a header to every envelope the proxy builds.
func WithHeader(key, value string) ProxyOption {
	return func(o *proxyOptions) { o.headers = o.headers.With(key, value) }
}

// Proxy turns calls on a service interface into envelopes for one target.
// Stubs embed it through Stub and forward each method by name.
type Proxy struct {
	rt  *Runtime
	ref *Ref
	pt  *proxyType
	log *slog.Logger

	handles    map[string]*Method
	unresolved map[string]error

	factory messageFactory
	timeout time.Duration
	headers Headers

	once        sync.Once
	validateErr error
}

// NewProxy builds a proxy for iface bound to ref. Classification errors are
// returned here; mismatches with the target surface on the first call.
func (rt *Runtime) NewProxy(ref *Ref, iface reflect.Type, opts ...ProxyOption) (*Proxy, error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: nil ref", ErrNotFound)
	}
	if ref.rt != rt {
		return nil, fmt.Errorf("ref %s belongs to another runtime", ref.addr)
	}
	pt, err := proxyTypeOf(iface)
	if err != nil {
		return nil, err
	}

	o := proxyOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	debug := rt.cfg.Debug
	if o.debug != nil {
		debug = *o.debug
	}

	p := &Proxy{
		rt:         rt,
		ref:        ref,
		pt:         pt,
		handles:    make(map[string]*Method, len(pt.methods)),
		unresolved: make(map[string]error),
		timeout:    o.timeout,
		headers:    o.headers,
		log: rt.log.With(
			slog.String("service", string(ref.addr)),
			slog.String("interface", pt.name),
		),
	}
	if debug {
		p.factory = &debugFactory{baseFactory{rt: rt}}
	} else {
		p.factory = &baseFactory{rt: rt}
	}

	for _, spec := range pt.methods {
		m, err := ref.Resolve(spec.Name, spec.Shape)
		if err != nil {
			p.unresolved[spec.Name] = err
			continue
		}
		p.handles[spec.Name] = m
	}
	return p, nil
}

func (p *Proxy) Ref() *Ref { return p.ref }

func (p *Proxy) Runtime() *Runtime { return p.rt }

func (p *Proxy) Interface() reflect.Type { return p.pt.iface }

// Debug reports whether the proxy uses the diagnostic message factory.
func (p *Proxy) Debug() bool {
	_, ok := p.factory.(*debugFactory)
	return ok
}

func (p *Proxy) String() string {
	return fmt.Sprintf("%s[%s]", p.pt.short, p.ref.addr)
}

// validate checks once that every classified method fits the target.
// Closed targets are not checked.
func (p *Proxy) validate() error {
	if p.ref.IsClosed() {
		return fmt.Errorf("%w: %s", ErrServiceClosed, p.ref.addr)
	}
	p.once.Do(func() {
		p.validateErr = p.check()
		p.rt.metrics.ProxyValidated(p.pt.name, p.validateErr == nil)
		if p.validateErr != nil {
			p.log.Warn("proxy validation failed", slog.Any("error", p.validateErr))
		}
	})
	return p.validateErr
}

func (p *Proxy) check() error {
	for _, spec := range p.pt.methods {
		mismatch := func(format string, args ...any) error {
			return fmt.Errorf("%w: %s.%s: %s", ErrProxyMismatch, p.pt.short, spec.signature(), fmt.Sprintf(format, args...))
		}

		info, ok := p.ref.Describe(spec.Name)
		if !ok {
			return mismatch("method %s not found on %s", spec.Name, p.ref.Type())
		}
		if len(info.Params) != len(spec.Shape) {
			return mismatch("arity %d, target %s has %d", len(spec.Shape), p.ref.Type(), len(info.Params))
		}
		if err, ok := p.unresolved[spec.Name]; ok {
			return mismatch("%v", err)
		}
		if !kindFits(spec, info) {
			return mismatch("%s method, target takes %s", spec.Kind, describeMarker(info))
		}
	}
	return nil
}

// kindFits reports whether a target operation can complete calls of the
// caller's kind.
func kindFits(spec *methodSpec, info OperationInfo) bool {
	switch spec.Kind {
	case KindSend:
		return info.Marker == KindSend
	case KindQuery:
		return info.Marker == KindSend || info.Marker == KindQuery
	case KindStream:
		if info.Marker == KindStream {
			return true
		}
		return info.Marker == KindSend && len(info.Results) > 0 && info.Results[0].Kind() == reflect.Slice
	}
	return info.Marker == spec.Kind
}

func describeMarker(info OperationInfo) string {
	if info.Marker == KindSend {
		return "no continuation"
	}
	return info.Marker.String() + " continuation"
}

// Send dispatches a fire-and-forget call. Errors before delivery are
// returned; when the call owns the outbox, delivery errors are too.
func (p *Proxy) Send(ctx context.Context, method string, args ...any) error {
	return p.invoke(ctx, method, KindSend, args, nil)
}

// Query dispatches a call whose arguments include a Result created with
// OnResult. Failures are reported through the Result and returned.
func (p *Proxy) Query(ctx context.Context, method string, args ...any) error {
	return p.invoke(ctx, method, KindQuery, args, nil)
}

// Stream dispatches a call whose arguments include a Stream created with
// OnStream.
func (p *Proxy) Stream(ctx context.Context, method string, args ...any) error {
	return p.invoke(ctx, method, KindStream, args, nil)
}

// PipeOut dispatches a call whose arguments include a PipeOut created with
// PublishTo.
func (p *Proxy) PipeOut(ctx context.Context, method string, args ...any) error {
	return p.invoke(ctx, method, KindPipeOut, args, nil)
}

// PipeIn dispatches a call whose arguments include a PipeIn created with
// Subscribe.
func (p *Proxy) PipeIn(ctx context.Context, method string, args ...any) error {
	return p.invoke(ctx, method, KindPipeIn, args, nil)
}

// Call makes a blocking query and waits for its result, the effective
// timeout, or ctx.
func Call[T any](ctx context.Context, p *Proxy, method string, args ...any) (T, error) {
	var zero T
	r, ch := newWaiter[T]()
	if err := p.invoke(ctx, method, KindQuery, args, r); err != nil {
		return zero, err
	}
	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		r.Fail(ctx.Err())
		return zero, ctx.Err()
	}
}

// CallErr is Call for methods that only return an error.
func CallErr(ctx context.Context, p *Proxy, method string, args ...any) error {
	_, err := Call[any](ctx, p, method, args...)
	return err
}

// invoke builds the envelope for method and submits it to the current
// outbox. waiter is the internal Result of a blocking Call.
func (p *Proxy) invoke(ctx context.Context, method string, kind Kind, args []any, waiter continuation) (err error) {
	var (
		cont   continuation
		queued bool
	)
	defer func() {
		if err == nil {
			return
		}
		if cont != nil && !errors.Is(err, ErrAlreadySubmitted) {
			cont.abort(err)
		}
		// delivery failures are logged by the envelope itself
		if kind == KindSend && !queued {
			p.log.Warn("send not dispatched", slog.String("method", method), slog.Any("error", err))
		}
	}()

	cont = waiter
	spec, ok := p.pt.byName[method]
	if !ok {
		return &MethodError{Target: p.pt.name, Signature: method, Err: ErrUnknownMethod}
	}

	pos, marker, err := spec.split(args)
	if err != nil {
		return err
	}
	if marker != nil {
		c, ok := marker.(continuation)
		if !ok {
			return fmt.Errorf("%w: %s continuation must come from OnResult, OnStream, Subscribe or PublishTo", ErrArgType, spec.signature())
		}
		cont = c
	}

	switch {
	case spec.Kind != kind:
		return fmt.Errorf("%w: %s is a %s method", ErrKindMismatch, spec.signature(), spec.Kind)
	case waiter != nil && !spec.Blocking:
		return fmt.Errorf("%w: %s takes a continuation", ErrKindMismatch, spec.signature())
	case waiter == nil && spec.Blocking:
		return fmt.Errorf("%w: %s returns its result, use Call", ErrKindMismatch, spec.signature())
	case kind != KindSend && cont == nil:
		return fmt.Errorf("%w: %s needs a continuation", ErrArgType, spec.signature())
	}
	if cont != nil && spec.Value != nil && !fitsValue(cont.valueType(), spec.Value) {
		return fmt.Errorf("%w: %s yields %s, got %s", ErrResultType, spec.signature(), spec.Value, cont.valueType())
	}

	if p.rt.closed.Load() {
		return ErrRuntimeClosed
	}
	if err := p.validate(); err != nil {
		return err
	}
	m := p.handles[method]

	if spec.Blocking {
		if in := InboxFrom(ctx); in != nil && in.Owner() == p.ref.Owner() {
			return fmt.Errorf("%w: %s", ErrSelfCall, spec.signature())
		}
	}

	ctx, scope := Acquire(ctx, p.rt)
	defer func() {
		if rerr := scope.Release(); rerr != nil && kind == KindSend {
			err = errors.Join(err, rerr)
		}
	}()

	pos = append([]any(nil), pos...)
	if err := pinArgs(ctx, p.rt, spec, pos); err != nil {
		return err
	}

	env, err := p.factory.build(ctx, scope.Outbox(), p, spec, m, pos, cont)
	if err != nil {
		return err
	}
	if err := scope.Outbox().submit(env); err != nil {
		return err
	}
	queued = true
	if spec.Blocking && !scope.Owner() {
		// The caller waits next, so pending messages must not wait for the
		// turn. Failed sends are logged on rejection and the query reports
		// its own outcome through the waiter.
		_ = scope.Outbox().Flush(ctx)
	}
	return nil
}

// fitsValue reports whether a continuation of type have can carry values of
// the declared type want.
func fitsValue(have, want reflect.Type) bool {
	return have == want || have.Kind() == reflect.Interface && want.AssignableTo(have)
}
