package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_chat_messages_persisted_total",
		Help: "Messages durably stored, by kind (direct, group, system).",
	}, []string{"kind"})

	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_chat_push_total",
		Help: "Live push attempts by channel and result.",
	}, []string{"channel", "result"})

	FanoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "campus_chat_fanout_duration_seconds",
		Help:    "Time spent delivering one event to every recipient.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_chat_notifications_created_total",
		Help: "Durable notifications written, by type.",
	}, []string{"type"})

	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campus_chat_live_connections",
		Help: "Open push connections on this instance.",
	})
)

// PushResult records one push attempt.
func PushResult(channel string, err error) {
	result := "ok"
	if err != nil {
		result = "dropped"
	}
	Pushes.WithLabelValues(channel, result).Inc()
}
