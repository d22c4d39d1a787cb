package lookup

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/pkg/logger"
)

// Manager creates, repoints and removes mapping documents. It holds no state
// besides its collaborators and is safe for concurrent use.
type Manager struct {
	client  docstore.Client
	logger  *logger.Logger
	metrics Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager builds a manager writing mappings into client.
func NewManager(client docstore.Client, opts ...Option) *Manager {
	m := &Manager{client: client, logger: logger.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("lookup")
	return m
}

// CreateMapping inserts the mapping (kind, key) -> targetID. An empty key is
// never indexed and is a no-op. A mapping already present at (kind, key)
// fails with docstore.ErrConflict.
func (m *Manager) CreateMapping(ctx context.Context, kind MappingKind, key, targetID string) error {
	if key == "" {
		return nil
	}
	doc, err := docstore.NewDocument(key, kind.String(), kind.String(), Mapping{
		Partition: key,
		ID:        kind,
		Kind:      kind,
		TargetID:  targetID,
	})
	if err != nil {
		return err
	}

	_, err = m.client.Create(ctx, doc)
	m.record(kind, "create", err)
	if err != nil {
		m.logger.Error("Failed to create mapping",
			zap.String("mapping", kind.String()), zap.String("key", key), zap.String("target_id", targetID), zap.Error(err))
		return err
	}

	m.logger.Debug("Mapping created", zap.String("mapping", kind.String()), zap.String("key", key), zap.String("target_id", targetID))
	return nil
}

// DeleteMapping removes the mapping at (kind, key). An empty key is a no-op
// and a missing mapping is not an error.
func (m *Manager) DeleteMapping(ctx context.Context, kind MappingKind, key string) error {
	if key == "" {
		return nil
	}

	err := m.client.Delete(ctx, key, kind.String())
	if docstore.IsNotFound(err) {
		m.record(kind, "delete", nil)
		m.logger.Warn("Mapping already absent", zap.String("mapping", kind.String()), zap.String("key", key))
		return nil
	}
	m.record(kind, "delete", err)
	if err != nil {
		m.logger.Error("Failed to delete mapping", zap.String("mapping", kind.String()), zap.String("key", key), zap.Error(err))
		return err
	}

	m.logger.Debug("Mapping deleted", zap.String("mapping", kind.String()), zap.String("key", key))
	return nil
}

// Rekey moves a mapping from oldKey to newKey: the stale mapping is deleted
// before the fresh one is created. Unchanged keys are left alone. A stale
// mapping that points at another record is not ours to remove and is kept.
func (m *Manager) Rekey(ctx context.Context, kind MappingKind, oldKey, newKey, targetID string) error {
	if oldKey == newKey {
		return nil
	}
	if err := m.deleteOwned(ctx, kind, oldKey, targetID); err != nil {
		return err
	}
	return m.CreateMapping(ctx, kind, newKey, targetID)
}

func (m *Manager) deleteOwned(ctx context.Context, kind MappingKind, key, targetID string) error {
	if key == "" {
		return nil
	}

	owner, ok, err := m.Resolve(ctx, kind, key)
	if err != nil {
		return err
	}
	if ok && owner != targetID {
		m.logger.Warn("Stale key is mapped to another record, leaving it",
			zap.String("mapping", kind.String()),
			zap.String("key", key),
			zap.String("owner", owner),
			zap.String("target_id", targetID),
		)
		return nil
	}
	return m.DeleteMapping(ctx, kind, key)
}

// Resolve returns the target id stored at (kind, key). ok is false when no
// mapping exists; that is not an error.
func (m *Manager) Resolve(ctx context.Context, kind MappingKind, key string) (targetID string, ok bool, err error) {
	if key == "" {
		return "", false, nil
	}

	doc, err := m.client.Read(ctx, key, kind.String())
	if docstore.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var mapping Mapping
	if err := doc.Decode(&mapping); err != nil {
		return "", false, err
	}
	return mapping.TargetID, true, nil
}

// RecordLookup forwards a lookup outcome to the metrics sink.
func (m *Manager) RecordLookup(kind MappingKind, outcome Outcome) {
	if m.metrics != nil {
		m.metrics.RecordLookup(kind, outcome)
	}
}

func (m *Manager) record(kind MappingKind, op string, err error) {
	if m.metrics != nil {
		m.metrics.RecordMappingOp(kind, op, err)
	}
}
