package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"contentfactory/internal/domain"
)

// Metrics holds task-level collectors. A nil *Metrics records nothing.
type Metrics struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the task collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contentfactory_tasks_total",
			Help: "Tasks by lifecycle status reached.",
		}, []string{"status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contentfactory_task_duration_seconds",
			Help:    "Time from claim to terminal status.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 9),
		}, []string{"status"}),
	}
}

func (m *Metrics) statusReached(status domain.TaskStatus) {
	if m != nil {
		m.tasks.WithLabelValues(string(status)).Inc()
	}
}

func (m *Metrics) observeDuration(status domain.TaskStatus, seconds float64) {
	if m != nil {
		m.duration.WithLabelValues(string(status)).Observe(seconds)
	}
}
