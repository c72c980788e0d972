// Package metrics exposes prometheus instruments for the mirror and
// reservation subsystems.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics captures mirror and scheduler health signals.
type Metrics struct {
	mirrorPages    *prometheus.CounterVec
	mirrorRows     *prometheus.CounterVec
	mirrorFailures *prometheus.CounterVec

	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	ordersExpired prometheus.Counter
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

// ResetForTest resets the metrics singleton for tests.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		mirrorPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_mirror_pages_fetched_total",
			Help: "Pages fetched from the billing switch, by direction.",
		}, []string{"direction"}),
		mirrorRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_mirror_rows_total",
			Help: "Usage rows processed by the mirror, by direction and outcome.",
		}, []string{"direction", "outcome"}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_mirror_failures_total",
			Help: "Mirror fetch failures, by direction.",
		}, []string{"direction"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backoffice_scheduler_job_errors_total",
			Help: "Scheduler job failures.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backoffice_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		ordersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_orders_expired_total",
			Help: "Orders cancelled by the expiry sweep.",
		}),
	}

	for _, collector := range []prometheus.Collector{
		m.mirrorPages, m.mirrorRows, m.mirrorFailures,
		m.jobRuns, m.jobErrors, m.jobDuration, m.ordersExpired,
	} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}

func (m *Metrics) IncMirrorPage(direction string) {
	if m == nil {
		return
	}
	m.mirrorPages.WithLabelValues(direction).Inc()
}

func (m *Metrics) AddMirrorRows(direction, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mirrorRows.WithLabelValues(direction, outcome).Add(float64(n))
}

func (m *Metrics) IncMirrorFailure(direction string) {
	if m == nil {
		return
	}
	m.mirrorFailures.WithLabelValues(direction).Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) IncOrdersExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ordersExpired.Add(float64(n))
}
