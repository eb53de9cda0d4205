package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gradewatch"

var (
	sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver one notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

// recordSend records one delivery attempt outcome.
func recordSend(channel, status string) {
	sends.WithLabelValues(channel, status).Inc()
}

// recordSendDuration records delivery latency.
func recordSendDuration(channel string, duration time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}
