package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder receives the outcome of store and pipeline operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// PrometheusRecorder publishes operation timings, outcomes and table sizes.
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	rows      *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the recorder's collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odm_operation_duration_seconds",
			Help:    "Duration of ODM operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "odm_operations_total",
			Help: "ODM operations by outcome",
		}, []string{"operation", "status"}),
		rows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odm_table_rows",
			Help: "Rows held per table after the last commit",
		}, []string{"table"}),
	}
}

// Observe records a single operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// ObserveRows records the row count of a table.
func (r *PrometheusRecorder) ObserveRows(table string, n int) {
	r.rows.WithLabelValues(table).Set(float64(n))
}

type rowObserver interface {
	ObserveRows(table string, n int)
}
