// Package metrics holds the Prometheus collectors of the optimizer. All
// record methods are safe on a nil *Metrics, which disables recording.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Model metrics
	ModelTrainsTotal   *prometheus.CounterVec
	ModelTrainDuration prometheus.Histogram

	// Challenger metrics
	ChallengersTotal *prometheus.CounterVec

	// Local search metrics
	LocalSearchSteps        prometheus.Histogram
	LocalSearchNonconverged prometheus.Counter

	// Cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// API metrics
	RequestsTotal    *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	ActiveJobs       prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ModelTrainsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbo_model_trains_total",
				Help: "Total number of surrogate model fits",
			},
			[]string{"status"},
		),

		ModelTrainDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smbo_model_train_duration_seconds",
				Help:    "Surrogate model fit duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
		),

		ChallengersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbo_challengers_total",
				Help: "Total number of challengers produced",
			},
			[]string{"origin"},
		),

		LocalSearchSteps: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smbo_local_search_steps",
				Help:    "Number of improving moves per local search run",
				Buckets: prometheus.LinearBuckets(0, 5, 10),
			},
		),

		LocalSearchNonconverged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "smbo_local_search_nonconverged_total",
				Help: "Total number of local search runs that exhausted their step budget",
			},
		),

		CacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "smbo_acquisition_cache_hits_total",
				Help: "Total number of acquisition cache hits",
			},
		),

		CacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "smbo_acquisition_cache_misses_total",
				Help: "Total number of acquisition cache misses",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smbo_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "status"},
		),

		LatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smbo_api_latency_seconds",
				Help:    "API request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		ActiveJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "smbo_active_jobs",
				Help: "Number of optimization jobs currently running",
			},
		),
	}
}

// RecordTrain records a model fit.
func (m *Metrics) RecordTrain(duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ModelTrainsTotal.WithLabelValues(status).Inc()
	m.ModelTrainDuration.Observe(duration.Seconds())
}

// RecordChallenger records a challenger handed to the caller.
func (m *Metrics) RecordChallenger(origin string) {
	if m == nil {
		return
	}
	m.ChallengersTotal.WithLabelValues(origin).Inc()
}

// RecordLocalSearch records a finished local search run.
func (m *Metrics) RecordLocalSearch(steps int, converged bool) {
	if m == nil {
		return
	}
	m.LocalSearchSteps.Observe(float64(steps))
	if !converged {
		m.LocalSearchNonconverged.Inc()
	}
}

// RecordCache records acquisition cache lookups.
func (m *Metrics) RecordCache(hits, misses int) {
	if m == nil {
		return
	}
	if hits > 0 {
		m.CacheHitsTotal.Add(float64(hits))
	}
	if misses > 0 {
		m.CacheMissesTotal.Add(float64(misses))
	}
}

// RecordRequest records an API request.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.LatencyHistogram.WithLabelValues(method).Observe(duration.Seconds())
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

// JobFinished decrements the active job gauge.
func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
}
