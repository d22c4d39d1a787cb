package lookup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/docstore/memdoc"
	"github.com/danghamo/docidentity/internal/docstore/storetest"
	"github.com/danghamo/docidentity/internal/domain/identity"
)

type fakeMetrics struct {
	ops     map[string]int
	lookups map[Outcome]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{ops: map[string]int{}, lookups: map[Outcome]int{}}
}

func (f *fakeMetrics) RecordMappingOp(kind MappingKind, op string, err error) {
	if err == nil {
		f.ops[kind.String()+":"+op]++
	}
}

func (f *fakeMetrics) RecordLookup(_ MappingKind, outcome Outcome) {
	f.lookups[outcome]++
}

func newTestManager(t *testing.T) (*Manager, *storetest.Recorder, *fakeMetrics) {
	t.Helper()
	inner, err := memdoc.New(nil)
	require.NoError(t, err)
	rec := storetest.NewRecorder(inner)
	metrics := newFakeMetrics()
	return NewManager(rec, WithMetrics(metrics)), rec, metrics
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("should create and resolve a mapping", func(t *testing.T) {
		m, rec, metrics := newTestManager(t)

		require.NoError(t, m.CreateMapping(ctx, UserByUserName, "ALICE", "u1"))

		target, ok, err := m.Resolve(ctx, UserByUserName, "ALICE")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "u1", target)
		assert.Equal(t, []string{"create ALICE/user-by-username", "read ALICE/user-by-username"}, rec.Ops())
		assert.Equal(t, 1, metrics.ops["user-by-username:create"])
	})

	t.Run("should store the mapping document in the key's partition", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		require.NoError(t, m.CreateMapping(ctx, RoleByName, "ADMIN", "r1"))

		doc, err := rec.Client.Read(ctx, "ADMIN", "role-by-name")
		require.NoError(t, err)
		assert.Equal(t, "role-by-name", doc.Kind)
		assert.JSONEq(t, `{"partition":"ADMIN","id":"role-by-name","type":"role-by-name","targetId":"r1"}`, string(doc.Body))
	})

	t.Run("should ignore empty keys", func(t *testing.T) {
		m, rec, _ := newTestManager(t)

		require.NoError(t, m.CreateMapping(ctx, UserByEmail, "", "u1"))
		require.NoError(t, m.DeleteMapping(ctx, UserByEmail, ""))
		_, ok, err := m.Resolve(ctx, UserByEmail, "")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, rec.Calls(), "empty keys must not reach the store")
	})

	t.Run("should report a missing mapping as not found without error", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		_, ok, err := m.Resolve(ctx, UserByUserName, "NOBODY")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should swallow not found on delete", func(t *testing.T) {
		m, _, metrics := newTestManager(t)
		require.NoError(t, m.DeleteMapping(ctx, UserByUserName, "NOBODY"))
		assert.Equal(t, 1, metrics.ops["user-by-username:delete"])
	})

	t.Run("should propagate other delete faults unchanged", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		boom := errors.New("network down")
		rec.FailOn("delete", nil, boom)

		err := m.DeleteMapping(ctx, UserByUserName, "ALICE")
		assert.Same(t, boom, err)
	})

	t.Run("should reject a second mapping for the same key", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		require.NoError(t, m.CreateMapping(ctx, UserByEmail, "A@X.COM", "u1"))

		err := m.CreateMapping(ctx, UserByEmail, "A@X.COM", "u2")
		assert.ErrorIs(t, err, docstore.ErrConflict)

		target, _, err := m.Resolve(ctx, UserByEmail, "A@X.COM")
		require.NoError(t, err)
		assert.Equal(t, "u1", target)
	})

	t.Run("should keep kinds isolated within one partition", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		require.NoError(t, m.CreateMapping(ctx, UserByUserName, "ADMIN", "u1"))
		require.NoError(t, m.CreateMapping(ctx, RoleByName, "ADMIN", "r1"))

		u, _, err := m.Resolve(ctx, UserByUserName, "ADMIN")
		require.NoError(t, err)
		r, _, err := m.Resolve(ctx, RoleByName, "ADMIN")
		require.NoError(t, err)
		assert.Equal(t, "u1", u)
		assert.Equal(t, "r1", r)
	})
}

func TestManagerRekey(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete the stale mapping before creating the fresh one", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		require.NoError(t, m.CreateMapping(ctx, UserByUserName, "BOB", "u1"))
		rec.Reset()

		require.NoError(t, m.Rekey(ctx, UserByUserName, "BOB", "BOBBY", "u1"))
		assert.Equal(t, []string{"read BOB/user-by-username", "delete BOB/user-by-username", "create BOBBY/user-by-username"}, rec.Ops())

		_, ok, _ := m.Resolve(ctx, UserByUserName, "BOB")
		assert.False(t, ok)
		target, ok, _ := m.Resolve(ctx, UserByUserName, "BOBBY")
		assert.True(t, ok)
		assert.Equal(t, "u1", target)
	})

	t.Run("should do nothing when the key is unchanged", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		require.NoError(t, m.Rekey(ctx, UserByUserName, "BOB", "BOB", "u1"))
		assert.Empty(t, rec.Calls())
	})

	t.Run("should only create when the old key was empty", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		require.NoError(t, m.Rekey(ctx, UserByEmail, "", "B@X.COM", "u1"))
		assert.Equal(t, []string{"create B@X.COM/user-by-email"}, rec.Ops())
	})

	t.Run("should only delete when the new key is empty", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		require.NoError(t, m.CreateMapping(ctx, UserByEmail, "B@X.COM", "u1"))
		rec.Reset()

		require.NoError(t, m.Rekey(ctx, UserByEmail, "B@X.COM", "", "u1"))
		assert.Equal(t, []string{"read B@X.COM/user-by-email", "delete B@X.COM/user-by-email"}, rec.Ops())
	})

	t.Run("should keep a stale key that maps to another record", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		require.NoError(t, m.CreateMapping(ctx, UserByUserName, "BOB", "u2"))
		rec.Reset()

		require.NoError(t, m.Rekey(ctx, UserByUserName, "BOB", "ALICE", "u1"))
		assert.Equal(t, []string{"read BOB/user-by-username", "create ALICE/user-by-username"}, rec.Ops())

		owner, ok, err := m.Resolve(ctx, UserByUserName, "BOB")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "u2", owner)
	})

	t.Run("should leave the entity unfindable when the create step fails", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		require.NoError(t, m.CreateMapping(ctx, UserByUserName, "BOB", "u1"))
		boom := errors.New("timeout")
		rec.FailOn("create", nil, boom)

		err := m.Rekey(ctx, UserByUserName, "BOB", "BOBBY", "u1")
		assert.ErrorIs(t, err, boom)

		_, okOld, _ := m.Resolve(ctx, UserByUserName, "BOB")
		_, okNew, _ := m.Resolve(ctx, UserByUserName, "BOBBY")
		assert.False(t, okOld)
		assert.False(t, okNew)
	})
}

func TestIndexer(t *testing.T) {
	ctx := context.Background()
	n := identity.UpperInvariantNormalizer{}

	user := func(name, email string) *identity.User {
		u := identity.NewUser(name)
		u.Email = email
		u.Normalize(n)
		return u
	}

	t.Run("should index every non-empty field in order", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		ix := NewIndexer(m, UserFields)

		require.NoError(t, ix.Index(ctx, user("alice", "a@x.com"), "u1"))
		assert.Equal(t, []string{"create ALICE/user-by-username", "create A@X.COM/user-by-email"}, rec.Ops())
	})

	t.Run("should skip empty fields", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		ix := NewIndexer(m, UserFields)

		require.NoError(t, ix.Index(ctx, user("alice", ""), "u1"))
		assert.Equal(t, []string{"create ALICE/user-by-username"}, rec.Ops())
	})

	t.Run("should unindex every non-empty field", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		ix := NewIndexer(m, UserFields)
		u := user("alice", "a@x.com")
		require.NoError(t, ix.Index(ctx, u, "u1"))
		rec.Reset()

		require.NoError(t, ix.Unindex(ctx, u))
		assert.Equal(t, []string{"delete ALICE/user-by-username", "delete A@X.COM/user-by-email"}, rec.Ops())
	})

	t.Run("should reindex only changed fields", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		ix := NewIndexer(m, UserFields)
		prev := user("bob", "b@x.com")
		require.NoError(t, ix.Index(ctx, prev, "u1"))
		rec.Reset()

		require.NoError(t, ix.Reindex(ctx, prev, user("bobby", "b@x.com"), "u1"))
		assert.Equal(t, []string{"read BOB/user-by-username", "delete BOB/user-by-username", "create BOBBY/user-by-username"}, rec.Ops())
	})

	t.Run("should stop at the first failure", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		ix := NewIndexer(m, UserFields)
		boom := errors.New("throttled")
		rec.FailOn("create", func(p, _ string) bool { return p == "ALICE" }, boom)

		err := ix.Index(ctx, user("alice", "a@x.com"), "u1")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"create ALICE/user-by-username"}, rec.Ops())
	})

	t.Run("should expose field declarations", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		ix := NewIndexer(m, RoleFields)
		f, ok := ix.Field(RoleByName)
		require.True(t, ok)
		assert.Equal(t, "normalizedName", f.Path)
		_, ok = ix.Field(UserByEmail)
		assert.False(t, ok)
	})
}
