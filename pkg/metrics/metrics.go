// Package metrics defines the Prometheus metric collectors for the build and
// prediction paths and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prediction outcome labels.
const (
	OutcomeScored      = "ok"
	OutcomeNoNeighbors = "no_neighbors"
	OutcomeCached      = "cached"
	OutcomeError       = "error"
)

// Metrics holds all Prometheus collectors for the classifier.
type Metrics struct {
	RowsIndexedTotal         prometheus.Counter
	OutcomesLoadedTotal      prometheus.Counter
	IndexFinalizeDuration    prometheus.Histogram
	IndexDocuments           prometheus.Gauge
	IndexFeatures            prometheus.Gauge
	PredictionsTotal         *prometheus.CounterVec
	PredictionLatency        prometheus.Histogram
	NeighborsPerPrediction   prometheus.Histogram
	PredictionsInFlight      prometheus.Gauge
	DrainTimeoutsTotal       prometheus.Counter
	PublishedPredictionTotal *prometheus.CounterVec
}

// New creates all collectors and registers them on reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RowsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "knn_rows_indexed_total",
				Help: "Total rows inserted into the index.",
			},
		),
		OutcomesLoadedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "knn_outcomes_loaded_total",
				Help: "Total positive-outcome row ids loaded.",
			},
		),
		IndexFinalizeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "knn_index_finalize_duration_seconds",
				Help:    "Time to finalize and persist the index.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "knn_index_documents",
				Help: "Number of documents in the finalized index.",
			},
		),
		IndexFeatures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "knn_index_features",
				Help: "Number of distinct features in the finalized index.",
			},
		),
		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knn_predictions_total",
				Help: "Total predictions by outcome (ok, no_neighbors, cached, error).",
			},
			[]string{"outcome"},
		),
		PredictionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "knn_prediction_latency_seconds",
				Help:    "Time to score, select and vote one prediction.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		NeighborsPerPrediction: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "knn_neighbors_per_prediction",
				Help:    "Number of neighbors that voted in each prediction.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		PredictionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "knn_predictions_in_flight",
				Help: "Number of submitted predictions not yet collected.",
			},
		),
		DrainTimeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "knn_drain_timeouts_total",
				Help: "Total prediction drains that hit their timeout.",
			},
		),
		PublishedPredictionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "knn_published_predictions_total",
				Help: "Total predictions written to sinks by sink and status.",
			},
			[]string{"sink", "status"},
		),
	}

	reg.MustRegister(
		m.RowsIndexedTotal,
		m.OutcomesLoadedTotal,
		m.IndexFinalizeDuration,
		m.IndexDocuments,
		m.IndexFeatures,
		m.PredictionsTotal,
		m.PredictionLatency,
		m.NeighborsPerPrediction,
		m.PredictionsInFlight,
		m.DrainTimeoutsTotal,
		m.PublishedPredictionTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
