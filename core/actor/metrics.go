package actor

import "github.com/codewandler/ampd-go/core/metrics"

type (
	// MessageMetrics observes message handling on the actor goroutine.
	MessageMetrics interface {
		MessageDuration(msgType string) metrics.Timer
		MessageProcessed(msgType string, success bool)
		MessagePanic(msgType string)
		MailboxDepth(actorID string, depth int)
		// BatchSize is reported when a batch ends, i.e. the mailbox drained.
		BatchSize(actorID string, size int)
	}

	// TaskMetrics observes work handed off via HandlerCtx.Schedule.
	TaskMetrics interface {
		SchedulerInflight(actorID string, count int)
		SchedulerTaskDuration() metrics.Timer
		SchedulerTaskCompleted(success bool)
	}

	// ActorMetrics is implemented by metric backends. Implementations must be
	// safe for concurrent use.
	ActorMetrics interface {
		MessageMetrics
		TaskMetrics
	}
)

type nopActorMetrics struct{}

func NopActorMetrics() ActorMetrics { return nopActorMetrics{} }

func (nopActorMetrics) MessageDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopActorMetrics) MessageProcessed(string, bool)        {}
func (nopActorMetrics) MessagePanic(string)                  {}
func (nopActorMetrics) MailboxDepth(string, int)             {}
func (nopActorMetrics) BatchSize(string, int)                {}
func (nopActorMetrics) SchedulerInflight(string, int)        {}
func (nopActorMetrics) SchedulerTaskDuration() metrics.Timer { return metrics.NopTimer() }
func (nopActorMetrics) SchedulerTaskCompleted(bool)          {}
