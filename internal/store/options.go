// Package store persists identity users and roles into a partitioned document
// collection. Each record is partitioned by its own id; lookups by normalized
// user name, email or role name go through mapping documents kept in sync by
// the lookup package.
//
// Write ordering is the consistency contract. Create writes the record before
// its mappings, Delete removes the mappings before the record, and Update
// replaces the record before moving changed mappings. Nothing is rolled back
// when a later step fails; the error is returned as the client produced it.
package store

import (
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/lookup"
	"github.com/danghamo/docidentity/internal/metrics"
	"github.com/danghamo/docidentity/pkg/logger"
)

type options struct {
	partitioned   bool
	normalizer    identity.Normalizer
	logger        *logger.Logger
	publisher     events.Publisher
	lookupMetrics lookup.Metrics
	storeMetrics  *metrics.StoreMetrics
}

// Option configures a store.
type Option func(*options)

func defaultOptions() options {
	return options{
		partitioned: true,
		logger:      logger.NewNop(),
	}
}

// WithPartitioning toggles mapping documents. When disabled no mapping is
// ever written and secondary lookups become cross-partition queries.
func WithPartitioning(enabled bool) Option {
	return func(o *options) {
		o.partitioned = enabled
	}
}

// WithNormalizer fills the normalized fields from the raw ones on every write.
// Without it the store persists whatever normalized values it is handed.
func WithNormalizer(n identity.Normalizer) Option {
	return func(o *options) {
		o.normalizer = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPublisher publishes change events after successful writes.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithLookupMetrics sets the mapping/lookup metrics sink.
func WithLookupMetrics(m lookup.Metrics) Option {
	return func(o *options) {
		o.lookupMetrics = m
	}
}

// WithStoreMetrics sets the operation latency metrics.
func WithStoreMetrics(m *metrics.StoreMetrics) Option {
	return func(o *options) {
		o.storeMetrics = m
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
