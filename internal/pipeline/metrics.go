package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gradewatch"

var (
	logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "logins_total",
			Help:      "Total portal login attempts by outcome",
		},
		[]string{"status"},
	)

	fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "grade_fetches_total",
			Help:      "Total grade fetch attempts by outcome",
		},
		[]string{"status"},
	)

	changedCourses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "changed_courses_total",
			Help:      "Total courses with detected grade changes",
		},
	)
)

// recordLogin records a login attempt outcome.
func recordLogin(status string) {
	logins.WithLabelValues(status).Inc()
}

// recordFetch records a grade fetch outcome.
func recordFetch(status string) {
	fetches.WithLabelValues(status).Inc()
}

// recordChanges records how many courses changed for one subscriber.
func recordChanges(count int) {
	changedCourses.Add(float64(count))
}
