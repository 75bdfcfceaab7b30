package sf

import "golang.org/x/sync/singleflight"

// Flight collapses concurrent loads of the same key into one call of fn.
// The zero value is ready to use.
type Flight[T any] struct {
	g singleflight.Group
}

// Do runs fn for key unless a load for key is already running, in which case
// it waits for that load. shared reports whether the result went to more
// than one caller.
func (f *Flight[T]) Do(key string, fn func() (*T, error)) (v *T, shared bool, err error) {
	out, err, shared := f.g.Do(key, func() (any, error) { return fn() })
	if err != nil {
		return nil, shared, err
	}
	return out.(*T), shared, nil
}

// Forget drops an in-flight key so the next Do starts a fresh load.
func (f *Flight[T]) Forget(key string) { f.g.Forget(key) }
