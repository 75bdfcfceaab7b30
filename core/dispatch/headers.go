package dispatch

import (
	"log/slog"
	"maps"
	"slices"
)

// Headers is an immutable string map carried by envelopes.
// The zero value is empty and ready to use.
type Headers struct {
	m map[string]string
}

// NewHeaders copies kv into a Headers value.
func NewHeaders(kv map[string]string) Headers {
	if len(kv) == 0 {
		return Headers{}
	}
	return Headers{m: maps.Clone(kv)}
}

// With returns a copy with key set to value.
func (h Headers) With(key, value string) Headers {
	m := make(map[string]string, len(h.m)+1)
	maps.Copy(m, h.m)
	m[key] = value
	return Headers{m: m}
}

// Merge returns a copy with all entries of o added.
func (h Headers) Merge(o Headers) Headers {
	if o.Len() == 0 {
		return h
	}
	if h.Len() == 0 {
		return o
	}
	m := maps.Clone(h.m)
	maps.Copy(m, o.m)
	return Headers{m: m}
}

func (h Headers) Get(key string) (string, bool) {
	v, ok := h.m[key]
	return v, ok
}

func (h Headers) Len() int { return len(h.m) }

// Range calls fn for each entry in key order until fn returns false.
func (h Headers) Range(fn func(key, value string) bool) {
	for _, k := range slices.Sorted(maps.Keys(h.m)) {
		if !fn(k, h.m[k]) {
			return
		}
	}
}

// Map returns a copy of the entries.
func (h Headers) Map() map[string]string {
	return maps.Clone(h.m)
}

func (h Headers) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(h.m))
	h.Range(func(k, v string) bool {
		attrs = append(attrs, slog.String(k, v))
		return true
	})
	return slog.GroupValue(attrs...)
}
