package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/ampd-go/core/actor"
	"github.com/codewandler/ampd-go/core/metrics"
)

const actorSubsystem = "actor"

// actorMetrics implements actor.ActorMetrics.
type actorMetrics struct {
	messageDuration       *prometheus.HistogramVec
	messagesTotal         *prometheus.CounterVec
	panicTotal            *prometheus.CounterVec
	mailboxDepth          *prometheus.GaugeVec
	batchSize             *prometheus.HistogramVec
	schedulerInflight     *prometheus.GaugeVec
	schedulerTaskDuration prometheus.Histogram
	schedulerTasksTotal   *prometheus.CounterVec
}

// NewActorMetrics registers the actor collectors on reg.
func NewActorMetrics(reg prometheus.Registerer) actor.ActorMetrics {
	m := &actorMetrics{
		messageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "message_duration_seconds",
			Help:      "Time spent handling one message.",
			Buckets:   defaultBuckets,
		}, []string{"message_type"}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "messages_total",
			Help:      "Messages handled.",
		}, []string{"message_type", "success"}),

		panicTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "panics_total",
			Help:      "Panics recovered from message handlers.",
		}, []string{"message_type"}),

		mailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "mailbox_depth",
			Help:      "Messages waiting in the mailbox.",
		}, []string{"actor_id"}),

		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "batch_size",
			Help:      "Messages handled between batch start and end.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
		}, []string{"actor_id"}),

		schedulerInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "scheduler_inflight",
			Help:      "Scheduled tasks currently running.",
		}, []string{"actor_id"}),

		schedulerTaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "scheduler_task_duration_seconds",
			Help:      "Scheduled task run time.",
			Buckets:   defaultBuckets,
		}),

		schedulerTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: actorSubsystem,
			Name:      "scheduler_tasks_total",
			Help:      "Scheduled tasks completed.",
		}, []string{"success"}),
	}

	reg.MustRegister(
		m.messageDuration,
		m.messagesTotal,
		m.panicTotal,
		m.mailboxDepth,
		m.batchSize,
		m.schedulerInflight,
		m.schedulerTaskDuration,
		m.schedulerTasksTotal,
	)
	return m
}

func (m *actorMetrics) MessageDuration(msgType string) metrics.Timer {
	return newTimer(m.messageDuration.WithLabelValues(msgType))
}

func (m *actorMetrics) MessageProcessed(msgType string, success bool) {
	m.messagesTotal.WithLabelValues(msgType, boolToStr(success)).Inc()
}

func (m *actorMetrics) MessagePanic(msgType string) {
	m.panicTotal.WithLabelValues(msgType).Inc()
}

func (m *actorMetrics) MailboxDepth(actorID string, depth int) {
	m.mailboxDepth.WithLabelValues(actorID).Set(float64(depth))
}

func (m *actorMetrics) BatchSize(actorID string, size int) {
	m.batchSize.WithLabelValues(actorID).Observe(float64(size))
}

func (m *actorMetrics) SchedulerInflight(actorID string, count int) {
	m.schedulerInflight.WithLabelValues(actorID).Set(float64(count))
}

func (m *actorMetrics) SchedulerTaskDuration() metrics.Timer {
	return newTimer(m.schedulerTaskDuration)
}

func (m *actorMetrics) SchedulerTaskCompleted(success bool) {
	m.schedulerTasksTotal.WithLabelValues(boolToStr(success)).Inc()
}

var _ actor.ActorMetrics = (*actorMetrics)(nil)
