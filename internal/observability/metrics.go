package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_collector"

// Metrics holds the Prometheus counters, histograms, and gauges for the collection pipeline.
type Metrics struct {
	// Fetch metrics.
	FetchRequests *prometheus.CounterVec // labels: outcome={success,unauthorized,upstream_error,timeout,transport}
	FetchDuration prometheus.Histogram
	FetchInFlight prometheus.Gauge

	// Persistence metrics.
	ObservationsSaved   prometheus.Counter
	ObservationsSkipped prometheus.Counter
	SaveErrors          prometheus.Counter
	GateErrors          prometheus.Counter
	PublishErrors       prometheus.Counter

	// Run metrics.
	Runs        *prometheus.CounterVec // labels: outcome={completed,failed}
	RunDuration prometheus.Histogram
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Data source requests by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single data source request.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		FetchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_in_flight",
			Help:      "Data source requests currently in flight.",
		}),
		ObservationsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_saved_total",
			Help:      "Observations written to the store.",
		}),
		ObservationsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_skipped_total",
			Help:      "Observations skipped because a fresh record already existed.",
		}),
		SaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "save_errors_total",
			Help:      "Observation inserts that failed.",
		}),
		GateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_errors_total",
			Help:      "Freshness checks that could not read the last observation.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Event publications that failed.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-gate-persist run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.FetchInFlight,
		m.ObservationsSaved,
		m.ObservationsSkipped,
		m.SaveErrors,
		m.GateErrors,
		m.PublishErrors,
		m.Runs,
		m.RunDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
