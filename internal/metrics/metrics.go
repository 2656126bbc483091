package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons used as the "reason" label.
const (
	ReasonInvalid     = "invalid"
	ReasonProfanity   = "profanity"
	ReasonModeration  = "moderation_unavailable"
	ReasonPersistence = "persistence"
)

type Metrics struct {
	SessionsActive     prometheus.Gauge
	MessagesAccepted   prometheus.Counter
	MessagesRejected   *prometheus.CounterVec
	RateLimited        prometheus.Counter
	SlowSessionsKicked prometheus.Counter
	ModerationDuration prometheus.Histogram
}

// New builds the collectors and registers them on reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Currently open chat websocket sessions.",
		}),
		MessagesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_accepted_total",
			Help: "Messages that passed moderation, were stored and broadcast.",
		}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_rejected_total",
			Help: "Messages refused by the submission pipeline.",
		}, []string{"reason"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Chat requests denied by the admission gate.",
		}),
		SlowSessionsKicked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_slow_sessions_dropped_total",
			Help: "Sessions disconnected because their outbound queue was full.",
		}),
		ModerationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_moderation_duration_seconds",
			Help:    "Latency of upstream profanity checks.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.MessagesAccepted,
			m.MessagesRejected,
			m.RateLimited,
			m.SlowSessionsKicked,
			m.ModerationDuration,
		)
	}
	return m
}
