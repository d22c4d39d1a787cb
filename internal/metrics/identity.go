package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danghamo/docidentity/internal/lookup"
)

// lookupMetrics is the Prometheus implementation of lookup.Metrics.
type lookupMetrics struct {
	mappingOps *prometheus.CounterVec
	lookups    *prometheus.CounterVec
}

// NewLookupMetrics returns mapping/lookup counters, or nil when metrics are disabled.
func NewLookupMetrics() lookup.Metrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &lookupMetrics{
		mappingOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docidentity_mapping_operations_total",
				Help: "Mapping document writes by mapping kind, operation and result",
			},
			[]string{"mapping", "op", "result"}, // op: create, delete
		),
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docidentity_secondary_lookups_total",
				Help: "Secondary-key lookups by mapping kind and outcome",
			},
			[]string{"mapping", "outcome"}, // hit, miss, dangling
		),
	}
}

// RecordMappingOp implements lookup.Metrics.
func (m *lookupMetrics) RecordMappingOp(kind lookup.MappingKind, op string, err error) {
	if m == nil {
		return
	}
	m.mappingOps.WithLabelValues(kind.String(), op, result(err)).Inc()
}

// RecordLookup implements lookup.Metrics.
func (m *lookupMetrics) RecordLookup(kind lookup.MappingKind, outcome lookup.Outcome) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(kind.String(), string(outcome)).Inc()
}

// StoreMetrics observes entity store operations.
type StoreMetrics struct {
	duration *prometheus.HistogramVec
}

// NewStoreMetrics returns the store operation histogram, or nil when disabled.
func NewStoreMetrics() *StoreMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &StoreMetrics{
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docidentity_store_operation_duration_seconds",
				Help:    "Entity store operation latency by entity kind, operation and result",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"kind", "op", "result"},
		),
	}
}

// ObserveOperation records one finished store operation.
func (m *StoreMetrics) ObserveOperation(kind, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(kind, op, result(err)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
