package dispatch

import (
	"context"
	"fmt"
	"reflect"
)

// Pinned marks an argument that must not be shared across actors. When a
// Pinned argument holding a plain object is dispatched, the object is
// published as its own service on the caller's actor and the target
// receives a stub of T bound to it instead. T must be an interface with a
// registered stub.
type Pinned[T any] struct {
	v   T
	ref *Ref
}

// Pin wraps v for pinning.
func Pin[T any](v T) Pinned[T] {
	return Pinned[T]{v: v}
}

// Get returns the stub once pinned, or the wrapped object before dispatch.
func (p Pinned[T]) Get() T { return p.v }

// Ref returns the service the object was published as, or nil.
func (p Pinned[T]) Ref() *Ref { return p.ref }

func (p Pinned[T]) IsPinned() bool { return p.ref != nil }

func (p Pinned[T]) pinnedMarker() {}

func (p Pinned[T]) pin(ctx context.Context, rt *Runtime) (any, error) {
	if p.ref != nil || any(p.v) == nil {
		return p, nil
	}
	owner := InboxFrom(ctx)
	if owner == nil {
		owner = rt.System()
	}
	ref, err := rt.publishOn(owner.Owner(), NewAddress("pin"), p.v)
	if err != nil {
		return nil, err
	}
	stub, err := NewAdapter[T](ref)
	if err != nil {
		_ = ref.Close()
		return nil, err
	}
	return Pinned[T]{v: stub, ref: ref}, nil
}

type pinner interface {
	pinnedMarker()
	pin(ctx context.Context, rt *Runtime) (any, error)
}

var pinnedType = reflect.TypeFor[pinner]()

// pinArgs replaces pinned arguments in place.
func pinArgs(ctx context.Context, rt *Runtime, spec *methodSpec, args []any) error {
	for i, pinned := range spec.Pinned {
		if !pinned || args[i] == nil {
			continue
		}
		p, ok := args[i].(pinner)
		if !ok {
			continue
		}
		v, err := p.pin(ctx, rt)
		if err != nil {
			return fmt.Errorf("pin argument %d of %s: %w", i, spec.Name, err)
		}
		args[i] = v
	}
	return nil
}
