package reflector

import (
	"reflect"
	"strings"
	"sync"
)

// MethodInfo describes one exported method with the receiver stripped.
type MethodInfo struct {
	Name     string
	Index    int // index into the type's method set
	In       []reflect.Type
	Out      []reflect.Type
	Variadic bool
}

// Signature renders the method as Name(p1, p2) for error messages.
func (m MethodInfo) Signature() string {
	return Signature(m.Name, m.In)
}

// Signature renders name(p1, p2).
func Signature(name string, params []reflect.Type) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

var (
	muMethods    sync.RWMutex
	methodsCache = make(map[reflect.Type][]MethodInfo)
)

// MethodsOf returns the exported method set of t in method-set order.
// For interface types the parameters are taken as declared; for concrete
// types the receiver is dropped so both sides describe the same shape.
// The returned slice is shared and must not be modified.
func MethodsOf(t reflect.Type) []MethodInfo {
	if t == nil {
		return nil
	}

	muMethods.RLock()
	ms, ok := methodsCache[t]
	muMethods.RUnlock()
	if ok {
		return ms
	}

	skip := 1
	if t.Kind() == reflect.Interface {
		skip = 0
	}

	ms = make([]MethodInfo, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		ft := m.Type
		mi := MethodInfo{
			Name:     m.Name,
			Index:    i,
			In:       make([]reflect.Type, 0, ft.NumIn()-skip),
			Out:      make([]reflect.Type, 0, ft.NumOut()),
			Variadic: ft.IsVariadic(),
		}
		for j := skip; j < ft.NumIn(); j++ {
			mi.In = append(mi.In, ft.In(j))
		}
		for j := 0; j < ft.NumOut(); j++ {
			mi.Out = append(mi.Out, ft.Out(j))
		}
		ms = append(ms, mi)
	}

	muMethods.Lock()
	defer muMethods.Unlock()
	if existing, ok := methodsCache[t]; ok {
		return existing
	}
	if len(methodsCache) >= maxCacheSize {
		methodsCache = make(map[reflect.Type][]MethodInfo)
	}
	methodsCache[t] = ms
	return ms
}

// MethodByName looks a method up in MethodsOf(t).
func MethodByName(t reflect.Type, name string) (MethodInfo, bool) {
	for _, m := range MethodsOf(t) {
		if m.Name == name {
			return m, true
		}
	}
	return MethodInfo{}, false
}
