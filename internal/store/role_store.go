package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/domain/shared"
	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/lookup"
)

// RoleStore persists roles of type T, which is identity.Role or a struct
// embedding it.
type RoleStore[T any, PT interface {
	*T
	identity.RoleDocument
}] struct {
	docs    *collection
	indexer *lookup.Indexer[*identity.Role]
	opts    options
}

// NewRoleStore creates a role store over client.
func NewRoleStore[T any, PT interface {
	*T
	identity.RoleDocument
}](client docstore.Client, opts ...Option) *RoleStore[T, PT] {
	o := buildOptions(opts)
	log := o.logger.WithComponent("role-store")
	manager := lookup.NewManager(client, lookup.WithLogger(o.logger), lookup.WithMetrics(o.lookupMetrics))

	return &RoleStore[T, PT]{
		docs:    newCollection(client, identity.KindRole, log, o.storeMetrics),
		indexer: lookup.NewIndexer(manager, lookup.RoleFields),
		opts:    o,
	}
}

// Create assigns an id when absent, writes the role, then its name mapping.
func (s *RoleStore[T, PT]) Create(ctx context.Context, role PT) (err error) {
	start := time.Now()
	defer func() { s.docs.observe("create", start, err) }()

	rec := role.RoleRecord()
	if rec.ID == "" {
		rec.ID = shared.NewID().String()
	}
	rec.Kind = identity.KindRole
	s.normalize(rec)

	if err = s.docs.create(ctx, rec.ID, role); err != nil {
		s.docs.logger.Error("Failed to create role", zap.String("role_id", rec.ID), zap.Error(err))
		return err
	}
	if s.opts.partitioned {
		if err = s.indexer.Index(ctx, rec, rec.ID); err != nil {
			return err
		}
	}

	s.docs.logger.Debug("Role created", zap.String("role_id", rec.ID), zap.String("name", rec.NormalizedName))
	publish(ctx, s.opts.publisher, s.docs.logger, &events.RoleCreatedEvent{
		RoleID:         rec.ID,
		NormalizedName: rec.NormalizedName,
		Timestamp:      time.Now().UTC(),
		RequestID:      events.RequestID(ctx),
	})
	return nil
}

// Update replaces the role and rekeys its name mapping when the name changed.
func (s *RoleStore[T, PT]) Update(ctx context.Context, role PT) (err error) {
	start := time.Now()
	defer func() { s.docs.observe("update", start, err) }()

	rec := role.RoleRecord()
	if rec.ID == "" {
		return shared.ErrMissingID(identity.KindRole.String())
	}
	rec.Kind = identity.KindRole
	s.normalize(rec)

	doc, err := s.docs.readExisting(ctx, rec.ID)
	if err != nil {
		return err
	}
	prev, err := decode[T, PT](doc)
	if err != nil {
		return err
	}

	if err = s.docs.replace(ctx, rec.ID, role); err != nil {
		s.docs.logger.Error("Failed to replace role", zap.String("role_id", rec.ID), zap.Error(err))
		return err
	}
	if s.opts.partitioned {
		if err = s.indexer.Reindex(ctx, prev.RoleRecord(), rec, rec.ID); err != nil {
			return err
		}
	}

	s.docs.logger.Debug("Role updated", zap.String("role_id", rec.ID))
	if s.opts.publisher != nil {
		changes, cerr := events.Changes(prev, role)
		if cerr != nil {
			s.docs.logger.Warn("Failed to diff role versions", zap.String("role_id", rec.ID), zap.Error(cerr))
		}
		publish(ctx, s.opts.publisher, s.docs.logger, &events.RoleUpdatedEvent{
			RoleID:    rec.ID,
			Changes:   changes,
			Timestamp: time.Now().UTC(),
			RequestID: events.RequestID(ctx),
		})
	}
	return nil
}

// Delete removes the name mapping, then the role.
func (s *RoleStore[T, PT]) Delete(ctx context.Context, role PT) (err error) {
	start := time.Now()
	defer func() { s.docs.observe("delete", start, err) }()

	rec := role.RoleRecord()
	if rec.ID == "" {
		return shared.ErrMissingID(identity.KindRole.String())
	}

	if s.opts.partitioned {
		if err = s.indexer.Unindex(ctx, rec); err != nil {
			return err
		}
	}
	if err = s.docs.delete(ctx, rec.ID); err != nil {
		s.docs.logger.Error("Failed to delete role", zap.String("role_id", rec.ID), zap.Error(err))
		return err
	}

	s.docs.logger.Debug("Role deleted", zap.String("role_id", rec.ID))
	publish(ctx, s.opts.publisher, s.docs.logger, &events.RoleDeletedEvent{
		RoleID:         rec.ID,
		NormalizedName: rec.NormalizedName,
		Timestamp:      time.Now().UTC(),
		RequestID:      events.RequestID(ctx),
	})
	return nil
}

// FindByID returns the role with the given id, or nil.
func (s *RoleStore[T, PT]) FindByID(ctx context.Context, id string) (PT, error) {
	doc, err := s.docs.read(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode[T, PT](doc)
}

// FindByName returns the role holding a normalized name, or nil.
func (s *RoleStore[T, PT]) FindByName(ctx context.Context, normalizedName string) (PT, error) {
	if normalizedName == "" {
		return nil, nil
	}
	if !s.opts.partitioned {
		field, _ := s.indexer.Field(lookup.RoleByName)
		docs, err := s.docs.scan(ctx, 1, docstore.Eq(field.Path, normalizedName))
		if err != nil || len(docs) == 0 {
			return nil, err
		}
		return decode[T, PT](docs[0])
	}
	return resolve(ctx, s.indexer.Manager(), s.docs.logger, lookup.RoleByName, normalizedName, s.FindByID)
}

// Roles lists every role. It is a cross-partition scan.
func (s *RoleStore[T, PT]) Roles(ctx context.Context) ([]PT, error) {
	docs, err := s.docs.scan(ctx, 0)
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](docs)
}

func (s *RoleStore[T, PT]) normalize(rec *identity.Role) {
	if s.opts.normalizer != nil {
		rec.Normalize(s.opts.normalizer)
	}
}
