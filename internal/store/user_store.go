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

// UserStore persists users of type T, which is identity.User or a struct
// embedding it.
type UserStore[T any, PT interface {
	*T
	identity.UserDocument
}] struct {
	docs    *collection
	indexer *lookup.Indexer[*identity.User]
	opts    options
}

// NewUserStore creates a user store over client.
func NewUserStore[T any, PT interface {
	*T
	identity.UserDocument
}](client docstore.Client, opts ...Option) *UserStore[T, PT] {
	o := buildOptions(opts)
	log := o.logger.WithComponent("user-store")
	manager := lookup.NewManager(client, lookup.WithLogger(o.logger), lookup.WithMetrics(o.lookupMetrics))

	return &UserStore[T, PT]{
		docs:    newCollection(client, identity.KindUser, log, o.storeMetrics),
		indexer: lookup.NewIndexer(manager, lookup.UserFields),
		opts:    o,
	}
}

// Create assigns an id when absent, writes the user, then one mapping per
// non-empty normalized key.
func (s *UserStore[T, PT]) Create(ctx context.Context, user PT) (err error) {
	start := time.Now()
	defer func() { s.docs.observe("create", start, err) }()

	rec := user.UserRecord()
	if rec.ID == "" {
		rec.ID = shared.NewID().String()
	}
	rec.Kind = identity.KindUser
	s.normalize(rec)

	if err = s.docs.create(ctx, rec.ID, user); err != nil {
		s.docs.logger.Error("Failed to create user", zap.String("user_id", rec.ID), zap.Error(err))
		return err
	}
	if s.opts.partitioned {
		if err = s.indexer.Index(ctx, rec, rec.ID); err != nil {
			return err
		}
	}

	s.docs.logger.Debug("User created", zap.String("user_id", rec.ID), zap.String("user_name", rec.NormalizedUserName))
	s.publish(ctx, &events.UserCreatedEvent{
		UserID:             rec.ID,
		NormalizedUserName: rec.NormalizedUserName,
		NormalizedEmail:    rec.NormalizedEmail,
		Timestamp:          time.Now().UTC(),
		RequestID:          events.RequestID(ctx),
	})
	return nil
}

// Update reads the stored version, replaces it, then moves every mapping
// whose key changed. Concurrent updates are last-writer-wins.
func (s *UserStore[T, PT]) Update(ctx context.Context, user PT) (err error) {
	start := time.Now()
	defer func() { s.docs.observe("update", start, err) }()

	rec := user.UserRecord()
	if rec.ID == "" {
		return shared.ErrMissingID(identity.KindUser.String())
	}
	rec.Kind = identity.KindUser
	s.normalize(rec)

	doc, err := s.docs.readExisting(ctx, rec.ID)
	if err != nil {
		return err
	}
	prev, err := decode[T, PT](doc)
	if err != nil {
		return err
	}

	if err = s.docs.replace(ctx, rec.ID, user); err != nil {
		s.docs.logger.Error("Failed to replace user", zap.String("user_id", rec.ID), zap.Error(err))
		return err
	}
	if s.opts.partitioned {
		if err = s.indexer.Reindex(ctx, prev.UserRecord(), rec, rec.ID); err != nil {
			return err
		}
	}

	s.docs.logger.Debug("User updated", zap.String("user_id", rec.ID))
	if s.opts.publisher != nil {
		changes, cerr := events.Changes(prev, user)
		if cerr != nil {
			s.docs.logger.Warn("Failed to diff user versions", zap.String("user_id", rec.ID), zap.Error(cerr))
		}
		s.publish(ctx, &events.UserUpdatedEvent{
			UserID:    rec.ID,
			Changes:   changes,
			Timestamp: time.Now().UTC(),
			RequestID: events.RequestID(ctx),
		})
	}
	return nil
}

// Delete removes the user's mappings, then the user.
func (s *UserStore[T, PT]) Delete(ctx context.Context, user PT) (err error) {
	start := time.Now()
	defer func() { s.docs.observe("delete", start, err) }()

	rec := user.UserRecord()
	if rec.ID == "" {
		return shared.ErrMissingID(identity.KindUser.String())
	}

	if s.opts.partitioned {
		if err = s.indexer.Unindex(ctx, rec); err != nil {
			return err
		}
	}
	if err = s.docs.delete(ctx, rec.ID); err != nil {
		s.docs.logger.Error("Failed to delete user", zap.String("user_id", rec.ID), zap.Error(err))
		return err
	}

	s.docs.logger.Debug("User deleted", zap.String("user_id", rec.ID))
	s.publish(ctx, &events.UserDeletedEvent{
		UserID:             rec.ID,
		NormalizedUserName: rec.NormalizedUserName,
		Timestamp:          time.Now().UTC(),
		RequestID:          events.RequestID(ctx),
	})
	return nil
}

// FindByID returns the user with the given id, or nil.
func (s *UserStore[T, PT]) FindByID(ctx context.Context, id string) (PT, error) {
	doc, err := s.docs.read(ctx, id)
	if err != nil {
		return nil, err
	}
	return decode[T, PT](doc)
}

// FindByName returns the user holding a normalized user name, or nil.
func (s *UserStore[T, PT]) FindByName(ctx context.Context, normalizedUserName string) (PT, error) {
	return s.findBy(ctx, lookup.UserByUserName, normalizedUserName)
}

// FindByEmail returns the user holding a normalized email, or nil.
func (s *UserStore[T, PT]) FindByEmail(ctx context.Context, normalizedEmail string) (PT, error) {
	return s.findBy(ctx, lookup.UserByEmail, normalizedEmail)
}

// FindByLogin scans every user for an external login.
func (s *UserStore[T, PT]) FindByLogin(ctx context.Context, loginProvider, providerKey string) (PT, error) {
	docs, err := s.docs.scan(ctx, 1, docstore.Any("logins", map[string]string{
		"loginProvider": loginProvider,
		"providerKey":   providerKey,
	}))
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return decode[T, PT](docs[0])
}

// UsersInRole scans every user for membership in a normalized role name.
func (s *UserStore[T, PT]) UsersInRole(ctx context.Context, normalizedRoleName string) ([]PT, error) {
	docs, err := s.docs.scan(ctx, 0, docstore.Contains("roles", normalizedRoleName))
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](docs)
}

// UsersForClaim scans every user for a claim.
func (s *UserStore[T, PT]) UsersForClaim(ctx context.Context, claim identity.Claim) ([]PT, error) {
	docs, err := s.docs.scan(ctx, 0, docstore.Any("claims", map[string]string{
		"type":  claim.Type,
		"value": claim.Value,
	}))
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](docs)
}

// Users lists every user. It is a cross-partition scan.
func (s *UserStore[T, PT]) Users(ctx context.Context) ([]PT, error) {
	docs, err := s.docs.scan(ctx, 0)
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](docs)
}

func (s *UserStore[T, PT]) findBy(ctx context.Context, kind lookup.MappingKind, key string) (PT, error) {
	if key == "" {
		return nil, nil
	}
	if !s.opts.partitioned {
		field, _ := s.indexer.Field(kind)
		docs, err := s.docs.scan(ctx, 1, docstore.Eq(field.Path, key))
		if err != nil || len(docs) == 0 {
			return nil, err
		}
		return decode[T, PT](docs[0])
	}

	return resolve(ctx, s.indexer.Manager(), s.docs.logger, kind, key, s.FindByID)
}

func (s *UserStore[T, PT]) normalize(rec *identity.User) {
	if s.opts.normalizer != nil {
		rec.Normalize(s.opts.normalizer)
	}
}

func (s *UserStore[T, PT]) publish(ctx context.Context, event any) {
	publish(ctx, s.opts.publisher, s.docs.logger, event)
}
