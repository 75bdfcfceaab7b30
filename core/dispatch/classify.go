package dispatch

import (
	"fmt"
	"reflect"

	"github.com/codewandler/ampd-go/core/reflector"
	"github.com/codewandler/ampd-go/core/sf"
)

// methodSpec is the classification of one interface method.
type methodSpec struct {
	Name string
	Kind Kind
	// Blocking marks a query that returns its result instead of taking a
	// continuation.
	Blocking bool
	HasCtx   bool
	// Shape lists positional parameter types without context and
	// continuation.
	Shape []reflect.Type
	// MarkerPos is the continuation's index among the call arguments,
	// -1 if there is none.
	MarkerPos int
	Value     reflect.Type
	Pinned    []bool
}

func (s *methodSpec) signature() string {
	return reflector.Signature(s.Name, s.Shape)
}

// split separates positional arguments from the continuation.
func (s *methodSpec) split(args []any) ([]any, any, error) {
	want := len(s.Shape)
	if s.MarkerPos >= 0 {
		want++
	}
	if len(args) != want {
		return nil, nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgCount, s.signature(), want, len(args))
	}
	if s.MarkerPos < 0 {
		return args, nil, nil
	}
	pos := make([]any, 0, len(s.Shape))
	pos = append(pos, args[:s.MarkerPos]...)
	pos = append(pos, args[s.MarkerPos+1:]...)
	return pos, args[s.MarkerPos], nil
}

// proxyType is the cached classification of a service interface.
type proxyType struct {
	iface   reflect.Type
	name    string
	short   string
	methods []*methodSpec // in method-set order
	byName  map[string]*methodSpec
}

var proxyTypes sf.Memo[reflect.Type, proxyType]

// proxyTypeOf classifies iface once; concurrent first uses share one build.
func proxyTypeOf(iface reflect.Type) (*proxyType, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, fmt.Errorf("%w: %v is not an interface", ErrInvalidShape, iface)
	}
	return proxyTypes.Load(iface, func() (*proxyType, error) {
		return classify(iface)
	})
}

// classify assigns every dispatchable method of iface exactly one kind.
func classify(iface reflect.Type) (*proxyType, error) {
	ti := reflector.TypeInfoForType(iface)
	pt := &proxyType{
		iface:  iface,
		name:   ti.Name,
		short:  iface.Name(),
		byName: make(map[string]*methodSpec),
	}
	if pt.short == "" {
		pt.short = iface.String()
	}

	for _, mi := range reflector.MethodsOf(iface) {
		if excluded[mi.Name] {
			continue
		}
		spec, err := classifyMethod(mi)
		if err != nil {
			return nil, &ShapeError{Interface: pt.name, Method: mi.Name, Reason: err.Error()}
		}
		pt.methods = append(pt.methods, spec)
		pt.byName[spec.Name] = spec
	}
	return pt, nil
}

func classifyMethod(mi reflector.MethodInfo) (*methodSpec, error) {
	if mi.Variadic {
		return nil, fmt.Errorf("variadic methods cannot be dispatched")
	}

	spec := &methodSpec{Name: mi.Name, MarkerPos: -1}
	markers := 0
	for i, p := range mi.In {
		if p == contextType {
			if i != 0 {
				return nil, fmt.Errorf("context.Context must be the first parameter")
			}
			spec.HasCtx = true
			continue
		}
		if k, v := markerOf(p); k != KindSend {
			markers++
			if markers > 1 {
				return nil, fmt.Errorf("mixes %s with %s continuation", spec.Kind, k)
			}
			spec.Kind = k
			spec.Value = v
			spec.MarkerPos = len(spec.Shape)
			continue
		}
		spec.Shape = append(spec.Shape, p)
		spec.Pinned = append(spec.Pinned, p.Implements(pinnedType))
	}

	out := mi.Out
	if markers > 0 {
		if len(out) > 0 {
			return nil, fmt.Errorf("%s continuation methods must not return values", spec.Kind)
		}
		return spec, nil
	}

	switch {
	case len(out) == 0:
		spec.Kind = KindSend
	case len(out) == 1 && out[0] == errorType:
		spec.Kind = KindQuery
		spec.Blocking = true
	case len(out) == 2 && out[1] == errorType:
		spec.Kind = KindQuery
		spec.Blocking = true
		spec.Value = out[0]
	default:
		return nil, fmt.Errorf("results must be (error) or (T, error)")
	}
	return spec, nil
}
