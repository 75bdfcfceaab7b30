// Package prometheus implements the actor and dispatch metrics interfaces
// with Prometheus collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/ampd-go/core/metrics"
)

const namespace = "ampd"

// timer observes the elapsed time into a histogram.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Latency buckets in seconds.
var defaultBuckets = []float64{
	.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// Metrics bundles both metric sets. Pass Actor as dispatch.Options.ActorMetrics
// and Dispatch as dispatch.Options.Metrics.
type Metrics struct {
	Actor    *actorMetrics
	Dispatch *dispatchMetrics
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Actor:    NewActorMetrics(reg).(*actorMetrics),
		Dispatch: NewDispatchMetrics(reg).(*dispatchMetrics),
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
