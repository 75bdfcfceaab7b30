package sf

import (
	"strconv"
	"sync"
)

// Memo caches the result of fn per key. Concurrent first loads of a key share
// a single execution. Keys are compared with ==, so distinct keys never share
// a value even when they print the same. The zero value is ready to use.
type Memo[K comparable, T any] struct {
	mu     sync.RWMutex
	values map[K]*T
	// ids gives every key its own flight name
	ids    map[K]string
	next   uint64
	flight Flight[T]
}

// Load returns the cached value for key, running fn once to create it.
func (m *Memo[K, T]) Load(key K, fn func() (*T, error)) (*T, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}

	v, _, err := m.flight.Do(m.flightID(key), func() (*T, error) {
		// another flight may have completed between Get and Do
		if v, ok := m.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.values == nil {
			m.values = make(map[K]*T)
		}
		m.values[key] = v
		m.mu.Unlock()
		return v, nil
	})
	return v, err
}

func (m *Memo[K, T]) flightID(key K) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.ids[key]; ok {
		return id
	}
	if m.ids == nil {
		m.ids = make(map[K]string)
	}
	m.next++
	id := strconv.FormatUint(m.next, 36)
	m.ids[key] = id
	return id
}

// Get returns the cached value for key without creating it.
func (m *Memo[K, T]) Get(key K) (*T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Len reports the number of cached keys.
func (m *Memo[K, T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
