package lookup

import (
	"context"

	"github.com/danghamo/docidentity/internal/domain/identity"
)

// Field declares one indexed secondary key of an entity type.
type Field[T any] struct {
	Mapping MappingKind
	// Path is the body path of the key, used when lookups fall back to queries.
	Path string
	Key  func(T) string
}

// UserFields lists the indexed keys of a user.
var UserFields = []Field[*identity.User]{
	{
		Mapping: UserByUserName,
		Path:    "normalizedUserName",
		Key:     func(u *identity.User) string { return u.NormalizedUserName },
	},
	{
		Mapping: UserByEmail,
		Path:    "normalizedEmail",
		Key:     func(u *identity.User) string { return u.NormalizedEmail },
	},
}

// RoleFields lists the indexed keys of a role.
var RoleFields = []Field[*identity.Role]{
	{
		Mapping: RoleByName,
		Path:    "normalizedName",
		Key:     func(r *identity.Role) string { return r.NormalizedName },
	},
}

// Indexer applies the mapping choreography for every field of an entity type.
// Fields are processed in declaration order and each step completes before
// the next starts; the first failure stops the sequence with earlier writes
// left in place.
type Indexer[T any] struct {
	manager *Manager
	fields  []Field[T]
}

// NewIndexer binds a field table to a manager.
func NewIndexer[T any](manager *Manager, fields []Field[T]) *Indexer[T] {
	return &Indexer[T]{manager: manager, fields: fields}
}

// Manager returns the underlying manager.
func (ix *Indexer[T]) Manager() *Manager {
	return ix.manager
}

// Field returns the declaration for a mapping kind.
func (ix *Indexer[T]) Field(kind MappingKind) (Field[T], bool) {
	for _, f := range ix.fields {
		if f.Mapping == kind {
			return f, true
		}
	}
	return Field[T]{}, false
}

// Index creates a mapping for every non-empty key of entity.
func (ix *Indexer[T]) Index(ctx context.Context, entity T, targetID string) error {
	for _, f := range ix.fields {
		if err := ix.manager.CreateMapping(ctx, f.Mapping, f.Key(entity), targetID); err != nil {
			return err
		}
	}
	return nil
}

// Unindex deletes the mapping of every non-empty key of entity.
func (ix *Indexer[T]) Unindex(ctx context.Context, entity T) error {
	for _, f := range ix.fields {
		if err := ix.manager.DeleteMapping(ctx, f.Mapping, f.Key(entity)); err != nil {
			return err
		}
	}
	return nil
}

// Reindex rekeys every field whose key differs between prev and next.
func (ix *Indexer[T]) Reindex(ctx context.Context, prev, next T, targetID string) error {
	for _, f := range ix.fields {
		if err := ix.manager.Rekey(ctx, f.Mapping, f.Key(prev), f.Key(next), targetID); err != nil {
			return err
		}
	}
	return nil
}
