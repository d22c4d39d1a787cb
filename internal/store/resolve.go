package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/lookup"
	"github.com/danghamo/docidentity/pkg/logger"
)

// resolve reads the mapping at (kind, key) and then the record it targets.
// A missing mapping and a mapping whose target is gone both yield the zero
// value without error.
func resolve[PT comparable](
	ctx context.Context,
	m *lookup.Manager,
	log *logger.Logger,
	kind lookup.MappingKind,
	key string,
	find func(context.Context, string) (PT, error),
) (PT, error) {
	var zero PT

	targetID, ok, err := m.Resolve(ctx, kind, key)
	if err != nil {
		return zero, err
	}
	if !ok {
		m.RecordLookup(kind, lookup.OutcomeMiss)
		return zero, nil
	}

	v, err := find(ctx, targetID)
	if err != nil {
		return zero, err
	}
	if v == zero {
		m.RecordLookup(kind, lookup.OutcomeDangling)
		log.Warn("Dangling mapping",
			zap.String("mapping", kind.String()),
			zap.String("key", key),
			zap.String("target_id", targetID),
		)
		return zero, nil
	}

	m.RecordLookup(kind, lookup.OutcomeHit)
	return v, nil
}

// publish hands event to p. Failures are logged and never fail the write
// that already committed.
func publish(ctx context.Context, p events.Publisher, log *logger.Logger, event any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish event", zap.Any("event", event), zap.Error(err))
	}
}
