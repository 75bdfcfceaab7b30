package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/ampd-go/core/dispatch"
	"github.com/codewandler/ampd-go/core/metrics"
)

const dispatchSubsystem = "dispatch"

// dispatchMetrics implements dispatch.Metrics.
type dispatchMetrics struct {
	callDuration       *prometheus.HistogramVec
	callsTotal         *prometheus.CounterVec
	lateTotal          *prometheus.CounterVec
	envelopesTotal     *prometheus.CounterVec
	flushSize          prometheus.Histogram
	validationsTotal   *prometheus.CounterVec
	cyclesTotal        *prometheus.CounterVec
	outstandingQueries prometheus.Gauge
}

// NewDispatchMetrics registers the dispatch collectors on reg.
func NewDispatchMetrics(reg prometheus.Registerer) dispatch.Metrics {
	m := &dispatchMetrics{
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "call_duration_seconds",
			Help:      "Time from submission until a continuation settles.",
			Buckets:   defaultBuckets,
		}, []string{"kind"}),

		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "calls_total",
			Help:      "Settled queries, streams and pipes.",
		}, []string{"kind", "outcome"}),

		lateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "late_completions_total",
			Help:      "Completions dropped because the call had already settled.",
		}, []string{"kind"}),

		envelopesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "envelopes_total",
			Help:      "Envelopes offered to target mailboxes.",
		}, []string{"kind", "success"}),

		flushSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "outbox_flush_size",
			Help:      "Envelopes delivered per outbox flush.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
		}),

		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "proxy_validations_total",
			Help:      "Proxy validations against live targets.",
		}, []string{"interface", "success"}),

		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "cycles_suspected_total",
			Help:      "Debug calls whose header chain suggests a cycle.",
		}, []string{"method"}),

		outstandingQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: dispatchSubsystem,
			Name:      "outstanding_queries",
			Help:      "Debug queries awaiting a result.",
		}),
	}

	reg.MustRegister(
		m.callDuration,
		m.callsTotal,
		m.lateTotal,
		m.envelopesTotal,
		m.flushSize,
		m.validationsTotal,
		m.cyclesTotal,
		m.outstandingQueries,
	)
	return m
}

func (m *dispatchMetrics) CallDuration(kind string) metrics.Timer {
	return newTimer(m.callDuration.WithLabelValues(kind))
}

func (m *dispatchMetrics) CallCompleted(kind string, outcome string) {
	m.callsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *dispatchMetrics) LateCompletion(kind string) {
	m.lateTotal.WithLabelValues(kind).Inc()
}

func (m *dispatchMetrics) EnvelopeOffered(kind string, ok bool) {
	m.envelopesTotal.WithLabelValues(kind, boolToStr(ok)).Inc()
}

func (m *dispatchMetrics) OutboxFlushed(size int) {
	m.flushSize.Observe(float64(size))
}

func (m *dispatchMetrics) ProxyValidated(iface string, ok bool) {
	m.validationsTotal.WithLabelValues(iface, boolToStr(ok)).Inc()
}

func (m *dispatchMetrics) CycleSuspected(method string) {
	m.cyclesTotal.WithLabelValues(method).Inc()
}

func (m *dispatchMetrics) OutstandingQueries(n int) {
	m.outstandingQueries.Set(float64(n))
}

var _ dispatch.Metrics = (*dispatchMetrics)(nil)
