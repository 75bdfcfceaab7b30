package dispatch

import "github.com/codewandler/ampd-go/core/metrics"

// Metrics defines the metrics interface for the dispatch layer.
// All methods are thread-safe.
type Metrics interface {
	// Calls
	CallDuration(kind string) metrics.Timer
	CallCompleted(kind string, outcome string)
	LateCompletion(kind string)

	// Delivery
	EnvelopeOffered(kind string, ok bool)
	OutboxFlushed(size int)

	// Proxies
	ProxyValidated(iface string, ok bool)

	// Diagnostics
	CycleSuspected(method string)
	OutstandingQueries(n int)
}

// Call outcomes reported to CallCompleted.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

type nopMetrics struct{}

func (nopMetrics) CallDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) CallCompleted(string, string)      {}
func (nopMetrics) LateCompletion(string)             {}
func (nopMetrics) EnvelopeOffered(string, bool)      {}
func (nopMetrics) OutboxFlushed(int)                 {}
func (nopMetrics) ProxyValidated(string, bool)       {}
func (nopMetrics) CycleSuspected(string)             {}
func (nopMetrics) OutstandingQueries(int)            {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
