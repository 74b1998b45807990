package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ndxchannels/pkg/convert"
)

// PrometheusMetricsRecorder exports service and conversion metrics through
// client_golang collectors.
type PrometheusMetricsRecorder struct {
	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	conversions *prometheus.CounterVec
	probes      *prometheus.CounterVec
	warnings    prometheus.Counter
}

// NewPrometheusMetricsRecorder registers the collectors on reg. A nil reg
// uses a fresh private registry.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndxchannels",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ndxchannels",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndxchannels",
			Subsystem: "convert",
			Name:      "calls_total",
			Help:      "probeinterface conversions by direction and outcome.",
		}, []string{"direction", "status"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndxchannels",
			Subsystem: "convert",
			Name:      "probes_total",
			Help:      "Probes converted by direction.",
		}, []string{"direction"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndxchannels",
			Subsystem: "convert",
			Name:      "warnings_total",
			Help:      "Non-fatal conversion warnings, such as a missing model name.",
		}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations, r.conversions, r.probes, r.warnings} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, statusLabel(success)).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveConversion implements convert.MetricsObserver.
func (r *PrometheusMetricsRecorder) ObserveConversion(direction convert.Direction, probes, warnings int, err error, _ time.Duration) {
	r.conversions.WithLabelValues(string(direction), statusLabel(err == nil)).Inc()
	r.probes.WithLabelValues(string(direction)).Add(float64(probes))
	r.warnings.Add(float64(warnings))
}
