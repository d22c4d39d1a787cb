package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/docstore/memdoc"
	"github.com/danghamo/docidentity/internal/docstore/storetest"
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/domain/shared"
	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/lookup"
)

type appUser struct {
	identity.User
	Department string `json:"department,omitempty"`
}

type appRole struct {
	identity.Role
	Description string `json:"description,omitempty"`
}

type lookupCounter struct {
	mu       sync.Mutex
	outcomes map[lookup.Outcome]int
}

func (c *lookupCounter) RecordMappingOp(lookup.MappingKind, string, error) {}

func (c *lookupCounter) RecordLookup(_ lookup.MappingKind, outcome lookup.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
}

type capturePublisher struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type fixture struct {
	rec   *storetest.Recorder
	users *UserStore[identity.User, *identity.User]
	roles *RoleStore[identity.Role, *identity.Role]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	inner, err := memdoc.New(nil)
	require.NoError(t, err)
	rec := storetest.NewRecorder(inner)
	return &fixture{
		rec:   rec,
		users: NewUserStore[identity.User](rec, opts...),
		roles: NewRoleStore[identity.Role](rec, opts...),
	}
}

func newUser(id, name, email string) *identity.User {
	u := identity.NewUser(name)
	u.ID = id
	u.Email = email
	u.Normalize(identity.UpperInvariantNormalizer{})
	return u
}

func newRole(id, name string) *identity.Role {
	r := identity.NewRole(name)
	r.ID = id
	r.Normalize(identity.UpperInvariantNormalizer{})
	return r
}

func TestUserStoreCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("should round trip by id", func(t *testing.T) {
		f := newFixture(t)
		u := newUser("u1", "alice", "a@x.com")
		u.AddClaims(identity.Claim{Type: "dept", Value: "eng"})
		u.AddToRole("ADMIN")

		require.NoError(t, f.users.Create(ctx, u))

		got, err := f.users.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, u, got)
	})

	t.Run("should assign an id and kind when absent", func(t *testing.T) {
		f := newFixture(t)
		u := newUser("", "alice", "")

		require.NoError(t, f.users.Create(ctx, u))
		assert.NotEmpty(t, u.ID)
		assert.Equal(t, identity.KindUser, u.Kind)

		doc, err := f.rec.Client.Read(ctx, u.ID, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "User", doc.Kind)
		assert.NotEmpty(t, doc.ResourceID)
	})

	t.Run("should write the record before its mappings", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "alice", "a@x.com")))

		assert.Equal(t, []string{
			"create u1/u1",
			"create ALICE/user-by-username",
			"create A@X.COM/user-by-email",
		}, f.rec.Ops())
	})

	t.Run("should find the user by name and email", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "alice", "a@x.com")))

		byName, err := f.users.FindByName(ctx, "ALICE")
		require.NoError(t, err)
		require.NotNil(t, byName)
		assert.Equal(t, "u1", byName.ID)

		byEmail, err := f.users.FindByEmail(ctx, "A@X.COM")
		require.NoError(t, err)
		require.NotNil(t, byEmail)
		assert.Equal(t, "u1", byEmail.ID)
	})

	t.Run("should not index an empty email", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "carol", "")))

		assert.Equal(t, []string{"create u1/u1", "create CAROL/user-by-username"}, f.rec.Ops())

		f.rec.Reset()
		got, err := f.users.FindByEmail(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Empty(t, f.rec.Calls())
	})

	t.Run("should leave an unindexed record when a mapping write fails", func(t *testing.T) {
		f := newFixture(t)
		boom := errors.New("request timeout")
		f.rec.FailOn("create", func(p, _ string) bool { return p == "A@X.COM" }, boom)

		err := f.users.Create(ctx, newUser("u1", "alice", "a@x.com"))
		assert.Same(t, boom, err)

		got, err := f.users.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.NotNil(t, got)

		byEmail, err := f.users.FindByEmail(ctx, "A@X.COM")
		require.NoError(t, err)
		assert.Nil(t, byEmail)
	})

	t.Run("should reject a duplicate user name with a conflict", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "alice", "")))

		err := f.users.Create(ctx, newUser("u2", "Alice", ""))
		assert.ErrorIs(t, err, docstore.ErrConflict)

		got, err := f.users.FindByName(ctx, "ALICE")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.ID)

		orphan, err := f.users.FindByID(ctx, "u2")
		require.NoError(t, err)
		assert.NotNil(t, orphan, "the second record stays in place without a mapping")
	})

	t.Run("should not touch the store with a cancelled context", func(t *testing.T) {
		f := newFixture(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := f.users.Create(cctx, newUser("u1", "alice", ""))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.rec.Calls())
	})

	t.Run("should fill normalized keys with a normalizer", func(t *testing.T) {
		f := newFixture(t, WithNormalizer(identity.UpperInvariantNormalizer{}))
		u := identity.NewUser("müller")
		u.ID = "u1"

		require.NoError(t, f.users.Create(ctx, u))
		assert.Equal(t, "MÜLLER", u.NormalizedUserName)

		got, err := f.users.FindByName(ctx, "MÜLLER")
		require.NoError(t, err)
		require.NotNil(t, got)
	})
}

func TestUserStoreUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("should move the mapping on rename", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "bob", "b@x.com")))
		f.rec.Reset()

		renamed := newUser("u1", "bobby", "b@x.com")
		require.NoError(t, f.users.Update(ctx, renamed))

		assert.Equal(t, []string{
			"read u1/u1",
			"replace u1/u1",
			"read BOB/user-by-username",
			"delete BOB/user-by-username",
			"create BOBBY/user-by-username",
		}, f.rec.Ops())

		old, err := f.users.FindByName(ctx, "BOB")
		require.NoError(t, err)
		assert.Nil(t, old)

		got, err := f.users.FindByName(ctx, "BOBBY")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "bobby", got.UserName)
	})

	t.Run("should not remove another user's mapping when renaming back after a conflict", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "alice", "")))
		require.NoError(t, f.users.Create(ctx, newUser("u2", "bob", "")))

		err := f.users.Update(ctx, newUser("u1", "bob", ""))
		assert.True(t, docstore.IsConflict(err))

		require.NoError(t, f.users.Update(ctx, newUser("u1", "alice", "")))

		bob, err := f.users.FindByName(ctx, "BOB")
		require.NoError(t, err)
		require.NotNil(t, bob)
		assert.Equal(t, "u2", bob.ID)

		alice, err := f.users.FindByName(ctx, "ALICE")
		require.NoError(t, err)
		require.NotNil(t, alice)
		assert.Equal(t, "u1", alice.ID)
	})

	t.Run("should touch no mapping when keys are unchanged", func(t *testing.T) {
		f := newFixture(t)
		u := newUser("u1", "bob", "b@x.com")
		require.NoError(t, f.users.Create(ctx, u))
		f.rec.Reset()

		u.PhoneNumber = "555-0100"
		u.IncrementAccessFailedCount()
		require.NoError(t, f.users.Update(ctx, u))
		assert.Equal(t, []string{"read u1/u1", "replace u1/u1"}, f.rec.Ops())

		got, err := f.users.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "555-0100", got.PhoneNumber)
		assert.Equal(t, 1, got.AccessFailedCount)
	})

	t.Run("should add and remove the email mapping", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "bob", "")))

		require.NoError(t, f.users.Update(ctx, newUser("u1", "bob", "b@x.com")))
		got, err := f.users.FindByEmail(ctx, "B@X.COM")
		require.NoError(t, err)
		require.NotNil(t, got)

		require.NoError(t, f.users.Update(ctx, newUser("u1", "bob", "")))
		got, err = f.users.FindByEmail(ctx, "B@X.COM")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("should fail for a missing record", func(t *testing.T) {
		f := newFixture(t)
		err := f.users.Update(ctx, newUser("ghost", "ghost", ""))
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("should fail without an id", func(t *testing.T) {
		f := newFixture(t)
		err := f.users.Update(ctx, newUser("", "bob", ""))
		require.Error(t, err)
		assert.Equal(t, "MISSING_ID", shared.Code(err))
		assert.Empty(t, f.rec.Calls())
	})

	t.Run("should refuse to overwrite a role", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.roles.Create(ctx, newRole("r1", "admin")))

		err := f.users.Update(ctx, newUser("r1", "admin", ""))
		require.Error(t, err)
		assert.Equal(t, "WRONG_KIND", shared.Code(err))
	})

	t.Run("should keep the last write", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.users.Create(ctx, newUser("u1", "bob", "")))

		first := newUser("u1", "bob", "")
		first.PhoneNumber = "1"
		second := newUser("u1", "bob", "")
		second.PhoneNumber = "2"
		require.NoError(t, f.users.Update(ctx, first))
		require.NoError(t, f.users.Update(ctx, second))

		got, err := f.users.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "2", got.PhoneNumber)
	})
}

func TestUserStoreDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete mappings before the record", func(t *testing.T) {
		f := newFixture(t)
		u := newUser("u1", "alice", "a@x.com")
		require.NoError(t, f.users.Create(ctx, u))
		f.rec.Reset()

		require.NoError(t, f.users.Delete(ctx, u))
		assert.Equal(t, []string{
			"delete ALICE/user-by-username",
			"delete A@X.COM/user-by-email",
			"delete u1/u1",
		}, f.rec.Ops())

		byName, err := f.users.FindByName(ctx, "ALICE")
		require.NoError(t, err)
		assert.Nil(t, byName)
		byEmail, err := f.users.FindByEmail(ctx, "A@X.COM")
		require.NoError(t, err)
		assert.Nil(t, byEmail)
		byID, err := f.users.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, byID)
	})

	t.Run("should tolerate a mapping that is already gone", func(t *testing.T) {
		f := newFixture(t)
		u := newUser("u1", "alice", "a@x.com")
		require.NoError(t, f.users.Create(ctx, u))
		require.NoError(t, f.rec.Client.Delete(ctx, "A@X.COM", "user-by-email"))

		assert.NoError(t, f.users.Delete(ctx, u))
	})

	t.Run("should propagate a missing record", func(t *testing.T) {
		f := newFixture(t)
		err := f.users.Delete(ctx, newUser("ghost", "", ""))
		assert.ErrorIs(t, err, docstore.ErrNotFound)
	})

	t.Run("should leave the record when its delete fails", func(t *testing.T) {
		f := newFixture(t)
		u := newUser("u1", "alice", "")
		require.NoError(t, f.users.Create(ctx, u))
		boom := errors.New("service unavailable")
		f.rec.FailOn("delete", func(p, _ string) bool { return p == "u1" }, boom)

		assert.Same(t, boom, f.users.Delete(ctx, u))

		got, err := f.users.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.NotNil(t, got)
		byName, err := f.users.FindByName(ctx, "ALICE")
		require.NoError(t, err)
		assert.Nil(t, byName)
	})
}

func TestUserStoreLookups(t *testing.T) {
	ctx := context.Background()

	t.Run("should treat a dangling mapping as not found", func(t *testing.T) {
		counter := &lookupCounter{outcomes: map[lookup.Outcome]int{}}
		f := newFixture(t, WithLookupMetrics(counter))
		require.NoError(t, f.users.Create(ctx, newUser("u1", "alice", "")))
		require.NoError(t, f.rec.Client.Delete(ctx, "u1", "u1"))

		got, err := f.users.FindByName(ctx, "ALICE")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 1, counter.outcomes[lookup.OutcomeDangling])

		_, err = f.users.FindByName(ctx, "NOBODY")
		require.NoError(t, err)
		assert.Equal(t, 1, counter.outcomes[lookup.OutcomeMiss])
	})

	t.Run("should keep users and roles with the same name apart", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.roles.Create(ctx, newRole("r1", "admin")))
		require.NoError(t, f.users.Create(ctx, newUser("u1", "admin", "")))

		u, err := f.users.FindByName(ctx, "ADMIN")
		require.NoError(t, err)
		r, err := f.roles.FindByName(ctx, "ADMIN")
		require.NoError(t, err)
		require.NotNil(t, u)
		require.NotNil(t, r)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "r1", r.ID)
	})

	t.Run("should filter find by id on kind", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.roles.Create(ctx, newRole("r1", "admin")))

		got, err := f.users.FindByID(ctx, "r1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("should propagate store faults from lookups", func(t *testing.T) {
		f := newFixture(t)
		boom := errors.New("throttled")
		f.rec.FailOn("read", nil, boom)

		_, err := f.users.FindByName(ctx, "ALICE")
		assert.Same(t, boom, err)
		_, err = f.users.FindByID(ctx, "u1")
		assert.Same(t, boom, err)
	})

	t.Run("should scan for role members, claims and logins", func(t *testing.T) {
		f := newFixture(t)
		alice := newUser("u1", "alice", "")
		alice.AddToRole("ADMIN")
		alice.AddClaims(identity.Claim{Type: "dept", Value: "eng"})
		alice.AddLogin(identity.Login{LoginProvider: "github", ProviderKey: "42", ProviderDisplayName: "GitHub"})
		bob := newUser("u2", "bob", "")
		bob.AddToRole("ADMIN")
		carol := newUser("u3", "carol", "")
		carol.AddClaims(identity.Claim{Type: "dept", Value: "ops"})
		for _, u := range []*identity.User{alice, bob, carol} {
			require.NoError(t, f.users.Create(ctx, u))
		}
		require.NoError(t, f.roles.Create(ctx, newRole("r1", "admin")))

		admins, err := f.users.UsersInRole(ctx, "ADMIN")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"u1", "u2"}, ids(admins))

		eng, err := f.users.UsersForClaim(ctx, identity.Claim{Type: "dept", Value: "eng"})
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, ids(eng))

		byLogin, err := f.users.FindByLogin(ctx, "github", "42")
		require.NoError(t, err)
		require.NotNil(t, byLogin)
		assert.Equal(t, "u1", byLogin.ID)

		missing, err := f.users.FindByLogin(ctx, "github", "43")
		require.NoError(t, err)
		assert.Nil(t, missing)

		all, err := f.users.Users(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2", "u3"}, ids(all))
	})
}

func TestUnpartitioned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithPartitioning(false))

	u := newUser("u1", "alice", "a@x.com")
	require.NoError(t, f.users.Create(ctx, u))
	require.NoError(t, f.roles.Create(ctx, newRole("r1", "admin")))
	assert.Equal(t, []string{"create u1/u1", "create r1/r1"}, f.rec.Ops())

	f.rec.Reset()
	got, err := f.users.FindByName(ctx, "ALICE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"query */User"}, f.rec.Ops())

	byEmail, err := f.users.FindByEmail(ctx, "A@X.COM")
	require.NoError(t, err)
	require.NotNil(t, byEmail)

	role, err := f.roles.FindByName(ctx, "ADMIN")
	require.NoError(t, err)
	require.NotNil(t, role)

	renamed := newUser("u1", "alicia", "a@x.com")
	require.NoError(t, f.users.Update(ctx, renamed))
	old, err := f.users.FindByName(ctx, "ALICE")
	require.NoError(t, err)
	assert.Nil(t, old)

	f.rec.Reset()
	require.NoError(t, f.users.Delete(ctx, renamed))
	assert.Equal(t, []string{"delete u1/u1"}, f.rec.Ops())
}

func TestExtendedTypes(t *testing.T) {
	ctx := context.Background()
	inner, err := memdoc.New(nil)
	require.NoError(t, err)

	users := NewUserStore[appUser](inner)
	roles := NewRoleStore[appRole](inner)

	u := &appUser{User: *identity.NewUser("alice"), Department: "eng"}
	u.Normalize(identity.UpperInvariantNormalizer{})
	require.NoError(t, users.Create(ctx, u))

	got, err := users.FindByName(ctx, "ALICE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "eng", got.Department)
	assert.Equal(t, u.ID, got.ID)

	r := &appRole{Role: *identity.NewRole("ops"), Description: "on call"}
	r.Normalize(identity.UpperInvariantNormalizer{})
	require.NoError(t, roles.Create(ctx, r))

	r.Description = "operations"
	require.NoError(t, roles.Update(ctx, r))
	gotRole, err := roles.FindByName(ctx, "OPS")
	require.NoError(t, err)
	require.NotNil(t, gotRole)
	assert.Equal(t, "operations", gotRole.Description)
}

func TestEvents(t *testing.T) {
	ctx := events.WithRequestID(context.Background(), "req-7")

	t.Run("should publish one event per committed write", func(t *testing.T) {
		pub := &capturePublisher{}
		f := newFixture(t, WithPublisher(pub))

		u := newUser("u1", "bob", "")
		require.NoError(t, f.users.Create(ctx, u))
		require.NoError(t, f.users.Update(ctx, newUser("u1", "bobby", "")))
		require.NoError(t, f.users.Delete(ctx, newUser("u1", "bobby", "")))
		r := newRole("r1", "admin")
		require.NoError(t, f.roles.Create(ctx, r))
		require.NoError(t, f.roles.Delete(ctx, r))

		require.Len(t, pub.events, 5)
		created := pub.events[0].(*events.UserCreatedEvent)
		assert.Equal(t, "u1", created.UserID)
		assert.Equal(t, "req-7", created.RequestID)

		updated := pub.events[1].(*events.UserUpdatedEvent)
		assert.Equal(t, "bobby", updated.Changes["userName"])
		assert.Equal(t, "BOBBY", updated.Changes["normalizedUserName"])

		assert.IsType(t, &events.UserDeletedEvent{}, pub.events[2])
		assert.IsType(t, &events.RoleCreatedEvent{}, pub.events[3])
		assert.IsType(t, &events.RoleDeletedEvent{}, pub.events[4])
	})

	t.Run("should not fail a write when publishing fails", func(t *testing.T) {
		pub := &capturePublisher{err: errors.New("broker down")}
		f := newFixture(t, WithPublisher(pub))

		require.NoError(t, f.users.Create(ctx, newUser("u1", "bob", "")))
	})

	t.Run("should not publish after a failed write", func(t *testing.T) {
		pub := &capturePublisher{}
		f := newFixture(t, WithPublisher(pub))
		f.rec.FailOn("create", nil, errors.New("down"))

		require.Error(t, f.users.Create(ctx, newUser("u1", "bob", "")))
		assert.Empty(t, pub.events)
	})
}

func TestRegister(t *testing.T) {
	inner, err := memdoc.New(nil)
	require.NoError(t, err)

	t.Run("should build stores for matching types", func(t *testing.T) {
		b := identity.AddIdentity[appUser, identity.Role]()
		stores, err := Register[appUser, identity.Role](b, inner)
		require.NoError(t, err)
		assert.NotNil(t, stores.Users)
		assert.NotNil(t, stores.Roles)
	})

	t.Run("should fail fast on a type mismatch", func(t *testing.T) {
		b := identity.AddIdentity[appUser, identity.Role]()
		stores, err := Register[identity.User, identity.Role](b, inner)
		require.Error(t, err)
		assert.Nil(t, stores)
		assert.Equal(t, "TYPE_MISMATCH", shared.Code(err))
		assert.Contains(t, err.Error(), "store.appUser")
		assert.Contains(t, err.Error(), "identity.User")
	})
}

func ids[PT identity.UserDocument](users []PT) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.UserRecord().ID
	}
	return out
}
