package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"

	"github.com/codewandler/ampd-go/core/reflector"
	"github.com/codewandler/ampd-go/core/sf"
)

// excluded names are never dispatched: lifecycle hooks run from the actor
// loop and universal operations are answered from the address.
var excluded = map[string]bool{
	"OnInit":      true,
	"OnLoad":      true,
	"OnSave":      true,
	"OnLookup":    true,
	"OnDestroy":   true,
	"BeforeBatch": true,
	"AfterBatch":  true,
	"OnActive":    true,
	"String":      true,
	"Equal":       true,
	"Hash":        true,
	"MarshalJSON": true,
}

var contextType = reflect.TypeFor[context.Context]()
var errorType = reflect.TypeFor[error]()

// operation describes one dispatchable method of an implementation type.
type operation struct {
	info      reflector.MethodInfo
	hasCtx    bool
	markerIdx int // index into info.In, -1 without continuation parameter
	marker    Kind
	value     reflect.Type // continuation value type
	shape     []reflect.Type
	errOut    bool
}

// OperationInfo describes a target operation for proxy validation.
type OperationInfo struct {
	Name    string
	Params  []reflect.Type // positional parameters, without context and continuation
	Results []reflect.Type
	// Marker is the kind of the continuation parameter, KindSend if none.
	Marker Kind
	Value  reflect.Type
}

// opSet is the type-level part of an operation table.
type opSet struct {
	name  string
	short string
	ops   map[string]*operation
}

var opSets sf.Memo[reflect.Type, opSet]

func opSetOf(t reflect.Type) (*opSet, error) {
	ti := reflector.TypeInfoForType(t)
	return opSets.Load(t, func() (*opSet, error) {
		set := &opSet{
			name:  ti.Name,
			short: ti.Type.Name(),
			ops:   make(map[string]*operation),
		}
		for _, mi := range reflector.MethodsOf(t) {
			if excluded[mi.Name] || mi.Variadic {
				continue
			}
			set.ops[mi.Name] = newOperation(mi)
		}
		return set, nil
	})
}

func newOperation(mi reflector.MethodInfo) *operation {
	op := &operation{info: mi, markerIdx: -1}
	for i, p := range mi.In {
		if i == 0 && p == contextType {
			op.hasCtx = true
			continue
		}
		if k, v := markerOf(p); k != KindSend && op.markerIdx < 0 {
			op.markerIdx = i
			op.marker = k
			op.value = v
			continue
		}
		op.shape = append(op.shape, p)
	}
	if n := len(mi.Out); n > 0 && mi.Out[n-1] == errorType {
		op.errOut = true
	}
	return op
}

// OperationTable is the set of operations a published implementation
// exposes, bound to that implementation.
type OperationTable struct {
	set  *opSet
	impl reflect.Value
	log  *slog.Logger
}

// NewOperationTable builds the table for impl's exported methods.
func NewOperationTable(impl any, log *slog.Logger) (*OperationTable, error) {
	if impl == nil {
		return nil, fmt.Errorf("%w: nil implementation", ErrInvalidShape)
	}
	if log == nil {
		log = slog.Default()
	}
	v := reflect.ValueOf(impl)
	set, err := opSetOf(v.Type())
	if err != nil {
		return nil, err
	}
	return &OperationTable{set: set, impl: v, log: log}, nil
}

// Name returns the qualified implementation type name.
func (t *OperationTable) Name() string { return t.set.name }

// Names lists the dispatchable operations.
func (t *OperationTable) Names() []string {
	out := make([]string, 0, len(t.set.ops))
	for name := range t.set.ops {
		out = append(out, name)
	}
	return out
}

// Resolve returns the handle for name if the operation accepts shape, the
// positional parameter types without context and continuation. Resolution
// has no side effects and the same input always resolves to an equivalent
// handle.
func (t *OperationTable) Resolve(name string, shape []reflect.Type) (*Method, error) {
	op, ok := t.set.ops[name]
	if !ok || !shapeFits(shape, op.shape) {
		return nil, &MethodError{
			Target:    t.set.name,
			Signature: reflector.Signature(name, shape),
			Err:       ErrUnknownMethod,
		}
	}
	return &Method{
		op:    op,
		table: t,
		fn:    t.impl.Method(op.info.Index),
	}, nil
}

// Describe reports the operation called name.
func (t *OperationTable) Describe(name string) (OperationInfo, bool) {
	op, ok := t.set.ops[name]
	if !ok {
		return OperationInfo{}, false
	}
	return OperationInfo{
		Name:    name,
		Params:  op.shape,
		Results: op.info.Out,
		Marker:  op.marker,
		Value:   op.value,
	}, true
}

func shapeFits(have, want []reflect.Type) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		if !have[i].AssignableTo(want[i]) {
			return false
		}
	}
	return true
}

// Method is a resolved, reusable handle to one target operation.
type Method struct {
	op    *operation
	table *OperationTable
	fn    reflect.Value
}

func (m *Method) Name() string { return m.op.info.Name }

// QualifiedName is Type.Method with the short implementation type name.
func (m *Method) QualifiedName() string {
	return m.table.set.short + "." + m.op.info.Name
}

// Signature renders the positional shape, e.g. Fetch(int).
func (m *Method) Signature() string {
	return reflector.Signature(m.op.info.Name, m.op.shape)
}

// invoke calls the target operation for env and routes its outcome.
func (m *Method) invoke(ctx context.Context, env *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.table.log.Error("target panicked",
				slog.String("method", m.QualifiedName()),
				slog.Any("recovered", r),
				slog.String("stack", string(debug.Stack())),
			)
			env.targetFailed(m.table.log, fmt.Errorf("%w: %s: %v", ErrPanic, m.QualifiedName(), r))
		}
	}()

	in, err := m.args(ctx, env)
	if err != nil {
		env.targetFailed(m.table.log, err)
		return
	}
	m.complete(env, m.fn.Call(in))
}

func (m *Method) args(ctx context.Context, env *Envelope) ([]reflect.Value, error) {
	op := m.op
	if len(env.args) != len(op.shape) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgCount, m.Signature(), len(op.shape), len(env.args))
	}

	in := make([]reflect.Value, 0, len(op.info.In))
	pos := 0
	for i, pt := range op.info.In {
		switch {
		case i == 0 && op.hasCtx:
			in = append(in, reflect.ValueOf(&ctx).Elem())
		case i == op.markerIdx:
			if env.cont == nil {
				return nil, fmt.Errorf("%w: %s expects a %s continuation", ErrKindMismatch, m.Signature(), op.marker)
			}
			cv := reflect.ValueOf(env.cont)
			if !cv.Type().AssignableTo(pt) {
				return nil, fmt.Errorf("%w: %s wants %s", ErrMarkerMismatch, m.Signature(), pt)
			}
			in = append(in, cv)
		default:
			a := env.args[pos]
			pos++
			if a == nil {
				in = append(in, reflect.Zero(pt))
				continue
			}
			v := reflect.ValueOf(a)
			if !v.Type().AssignableTo(pt) {
				return nil, fmt.Errorf("%w: %s argument %d is %s, want %s", ErrArgType, m.Signature(), pos, v.Type(), pt)
			}
			in = append(in, v)
		}
	}
	return in, nil
}

// complete routes return values. Targets that take a continuation complete
// it themselves; only a trailing error is forwarded.
func (m *Method) complete(env *Envelope, out []reflect.Value) {
	var err error
	if m.op.errOut {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		out = out[:len(out)-1]
	}

	if m.op.markerIdx >= 0 {
		if err != nil {
			env.targetFailed(m.table.log, err)
		}
		return
	}

	switch env.kind {
	case KindSend:
		if err != nil {
			env.targetFailed(m.table.log, err)
		}
	case KindQuery:
		if err != nil {
			env.cont.abort(err)
			return
		}
		sink, ok := env.cont.(valueSink)
		if !ok {
			env.cont.abort(fmt.Errorf("%w: %s", ErrKindMismatch, m.Signature()))
			return
		}
		var v any
		if len(out) > 0 {
			v = out[0].Interface()
		}
		sink.okAny(v)
	case KindStream:
		if err != nil {
			env.cont.abort(err)
			return
		}
		sink, ok := env.cont.(streamSink)
		if !ok || len(out) == 0 || out[0].Kind() != reflect.Slice {
			env.cont.abort(fmt.Errorf("%w: %s does not stream", ErrKindMismatch, m.Signature()))
			return
		}
		for i := 0; i < out[0].Len(); i++ {
			sink.nextAny(out[0].Index(i).Interface())
		}
		sink.Ok()
	default:
		env.cont.abort(fmt.Errorf("%w: %s has no %s parameter", ErrKindMismatch, m.Signature(), env.kind))
	}
}
