package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the batch collectors. A nil *Metrics records nothing.
type Metrics struct {
	jobs     *prometheus.CounterVec
	duration prometheus.Histogram
	inflight prometheus.Gauge
	retries  prometheus.Counter
}

// NewMetrics registers the batch collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contentfactory_batch_jobs_total",
			Help: "Image jobs resolved by the batch generator, by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "contentfactory_batch_job_duration_seconds",
			Help:    "Wall-clock time to resolve one image job, retries and fallbacks included.",
			Buckets: []float64{1, 5, 10, 20, 40, 60, 90, 120, 180, 300},
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contentfactory_batch_inflight_jobs",
			Help: "Image jobs currently being generated.",
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "contentfactory_batch_retries_total",
			Help: "Retried image generation attempts.",
		}),
	}
}

func (m *Metrics) observeJob(res JobResult) {
	if m == nil {
		return
	}
	outcome := string(res.Outcome)
	if res.Degraded {
		outcome = "degraded"
	}
	m.jobs.WithLabelValues(outcome).Inc()
	m.duration.Observe(res.Elapsed.Seconds())
}

func (m *Metrics) jobStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) jobFinished() {
	if m != nil {
		m.inflight.Dec()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.retries.Inc()
	}
}
