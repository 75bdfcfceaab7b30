// Package metrics holds the backend-neutral timing primitive shared by the
// actor runtime and the dispatch core. Concrete backends live in adapters/.
package metrics

import "time"

// Timer measures one operation. Call ObserveDuration when it completes:
//
//	defer m.DispatchDuration("query").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// TimerFunc creates a started Timer.
type TimerFunc func() Timer

type funcTimer struct {
	start   time.Time
	observe func(time.Duration)
}

func (t *funcTimer) ObserveDuration() { t.observe(time.Since(t.start)) }

// StartTimer returns a Timer that reports the elapsed time to observe.
func StartTimer(observe func(time.Duration)) Timer {
	if observe == nil {
		return nopTimer{}
	}
	return &funcTimer{start: time.Now(), observe: observe}
}
