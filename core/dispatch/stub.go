package dispatch

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"
)

var stubs = struct {
	sync.RWMutex
	m map[reflect.Type]func(*Proxy) any
}{m: make(map[reflect.Type]func(*Proxy) any)}

// RegisterStub registers the stub constructor for interface T. Generated
// stubs call it from init. Registering T twice replaces the constructor.
func RegisterStub[T any](fn func(p *Proxy) T) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Interface {
		panic(fmt.Sprintf("dispatch: RegisterStub: %s is not an interface", t))
	}
	stubs.Lock()
	defer stubs.Unlock()
	stubs.m[t] = func(p *Proxy) any { return fn(p) }
}

func stubFor(t reflect.Type) (func(*Proxy) any, bool) {
	stubs.RLock()
	defer stubs.RUnlock()
	fn, ok := stubs.m[t]
	return fn, ok
}

// NewAdapter returns a stub of T dispatching to ref.
func NewAdapter[T any](ref *Ref, opts ...ProxyOption) (T, error) {
	var zero T
	if ref == nil {
		return zero, fmt.Errorf("%w: nil ref", ErrNotFound)
	}
	t := reflect.TypeFor[T]()
	fn, ok := stubFor(t)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNoStub, t)
	}
	p, err := ref.rt.NewProxy(ref, t, opts...)
	if err != nil {
		return zero, err
	}
	return fn(p).(T), nil
}

// Lookup returns a stub of T for the service at addr.
func Lookup[T any](rt *Runtime, addr Address, opts ...ProxyOption) (T, error) {
	ref, ok := rt.Lookup(addr)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return NewAdapter[T](ref, opts...)
}

// ProxyOf returns the proxy behind a stub.
func ProxyOf(stub any) (*Proxy, bool) {
	s, ok := stub.(interface{ Proxy() *Proxy })
	if !ok || s.Proxy() == nil {
		return nil, false
	}
	return s.Proxy(), true
}

// Stub is embedded by generated stubs. It answers the universal operations
// from the target address alone.
type Stub struct {
	p *Proxy
}

func NewStub(p *Proxy) Stub { return Stub{p: p} }

func (s Stub) Proxy() *Proxy { return s.p }

func (s Stub) String() string { return s.p.String() }

// Equal reports whether other is a stub, proxy or ref for the same address.
func (s Stub) Equal(other any) bool {
	var addr Address
	switch o := other.(type) {
	case *Ref:
		if o == nil {
			return false
		}
		addr = o.addr
	case *Proxy:
		if o == nil {
			return false
		}
		addr = o.ref.addr
	default:
		p, ok := ProxyOf(other)
		if !ok {
			return false
		}
		addr = p.ref.addr
	}
	return s.p.ref.addr == addr
}

// Hash is derived from the target address.
func (s Stub) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s.p.ref.addr))
	return h.Sum64()
}

// Handle returns the serialization substitute of the stub.
func (s Stub) Handle() RefHandle {
	return RefHandle{Address: s.p.ref.addr, Interface: s.p.pt.name}
}

func (s Stub) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Handle())
}
