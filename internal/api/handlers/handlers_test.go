package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
	"github.com/danghamo/docidentity/internal/api/middleware"
	"github.com/danghamo/docidentity/internal/docstore/memdoc"
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/store"
	"github.com/danghamo/docidentity/pkg/logger"
)

type fixture struct {
	users *UserHandler
	roles *RoleHandler
	store *store.UserStore[identity.User, *identity.User]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, err := memdoc.New(nil)
	require.NoError(t, err)

	users := store.NewUserStore[identity.User](client)
	roles := store.NewRoleStore[identity.Role](client)
	log := logger.NewNop()

	return &fixture{
		users: NewUserHandler(log, users, roles),
		roles: NewRoleHandler(log, roles),
		store: users,
	}
}

// call posts a JSON-RPC request to h and decodes the result into out when non-nil.
func call(t *testing.T, h http.HandlerFunc, params any, out any) *jsonrpcx.JSONRPCError {
	t.Helper()

	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "test", "params": params, "id": 1})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	middleware.ErrorAdapter(logger.NewNop())(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result json.RawMessage        `json:"result"`
		Error  *jsonrpcx.JSONRPCError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if resp.Error == nil && out != nil {
		require.NoError(t, json.Unmarshal(resp.Result, out))
	}
	return resp.Error
}

func requireCode(t *testing.T, code int, rpcErr *jsonrpcx.JSONRPCError) {
	t.Helper()
	require.NotNil(t, rpcErr, "expected error %d", code)
	assert.Equal(t, code, rpcErr.Code, rpcErr.Message)
}

func TestParse(t *testing.T) {
	f := newFixture(t)

	t.Run("should reject non-POST", func(t *testing.T) {
		w := httptest.NewRecorder()
		middleware.ErrorAdapter(logger.NewNop())(http.HandlerFunc(f.users.Get)).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Contains(t, w.Body.String(), `"code":-32601`)
	})

	t.Run("should reject a wrong version", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := bytes.NewBufferString(`{"jsonrpc":"1.0","method":"x","id":1}`)
		middleware.ErrorAdapter(logger.NewNop())(http.HandlerFunc(f.users.Get)).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", body))
		assert.Contains(t, w.Body.String(), `"code":-32700`)
	})

	t.Run("should name failed validations", func(t *testing.T) {
		rpcErr := call(t, f.users.Create, CreateUserRequest{UserName: "alice", Email: "not-an-email"}, nil)
		requireCode(t, jsonrpcx.InvalidParams, rpcErr)
		assert.Contains(t, rpcErr.Message, "Email")
	})
}

func TestUserHandlerLifecycle(t *testing.T) {
	f := newFixture(t)

	var created UserView
	require.Nil(t, call(t, f.users.Create, CreateUserRequest{
		UserName: "Alice",
		Email:    "Alice@Example.com",
		Password: "correct-horse",
	}, &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.HasPassword)

	t.Run("should not leak secrets", func(t *testing.T) {
		w := httptest.NewRecorder()
		body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": "user.Get", "params": UserIDRequest{ID: created.ID}, "id": 1})
		f.users.Get(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
		assert.NotContains(t, w.Body.String(), "passwordHash")
		assert.NotContains(t, w.Body.String(), "securityStamp")
	})

	t.Run("should find by name in any casing", func(t *testing.T) {
		var found UserView
		require.Nil(t, call(t, f.users.FindByName, FindUserByNameRequest{UserName: "aLiCe"}, &found))
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("should find by email", func(t *testing.T) {
		var found UserView
		require.Nil(t, call(t, f.users.FindByEmail, FindUserByEmailRequest{Email: "alice@example.COM"}, &found))
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("should reject a taken user name", func(t *testing.T) {
		requireCode(t, jsonrpcx.Conflict, call(t, f.users.Create, CreateUserRequest{UserName: "ALICE"}, nil))
	})

	t.Run("should move the name lookup on rename", func(t *testing.T) {
		name := "alicia"
		var updated UserView
		require.Nil(t, call(t, f.users.Update, UpdateUserRequest{ID: created.ID, UserName: &name}, &updated))
		assert.Equal(t, "alicia", updated.UserName)

		requireCode(t, jsonrpcx.NotFound, call(t, f.users.FindByName, FindUserByNameRequest{UserName: "alice"}, nil))
		require.Nil(t, call(t, f.users.FindByName, FindUserByNameRequest{UserName: "ALICIA"}, nil))
	})

	t.Run("should reset email confirmation on email change", func(t *testing.T) {
		confirmed := true
		require.Nil(t, call(t, f.users.Update, UpdateUserRequest{ID: created.ID, EmailConfirmed: &confirmed}, nil))

		email := "alicia@example.com"
		var updated UserView
		require.Nil(t, call(t, f.users.Update, UpdateUserRequest{ID: created.ID, Email: &email}, &updated))
		assert.False(t, updated.EmailConfirmed)
	})

	t.Run("should delete", func(t *testing.T) {
		require.Nil(t, call(t, f.users.Delete, UserIDRequest{ID: created.ID}, nil))
		requireCode(t, jsonrpcx.NotFound, call(t, f.users.Get, UserIDRequest{ID: created.ID}, nil))
		requireCode(t, jsonrpcx.NotFound, call(t, f.users.Delete, UserIDRequest{ID: created.ID}, nil))
		requireCode(t, jsonrpcx.NotFound, call(t, f.users.FindByEmail, FindUserByEmailRequest{Email: "alicia@example.com"}, nil))
	})
}

func TestUserRenameToTakenKey(t *testing.T) {
	f := newFixture(t)

	var alice, bob UserView
	require.Nil(t, call(t, f.users.Create, CreateUserRequest{UserName: "alice", Email: "alice@example.com"}, &alice))
	require.Nil(t, call(t, f.users.Create, CreateUserRequest{UserName: "bob", Email: "bob@example.com"}, &bob))

	t.Run("should reject a name owned by another user and keep both lookups", func(t *testing.T) {
		name := "Bob"
		requireCode(t, jsonrpcx.Conflict, call(t, f.users.Update, UpdateUserRequest{ID: alice.ID, UserName: &name}, nil))

		stored, err := f.store.FindByID(context.Background(), alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "ALICE", stored.NormalizedUserName)

		var found UserView
		require.Nil(t, call(t, f.users.FindByName, FindUserByNameRequest{UserName: "alice"}, &found))
		assert.Equal(t, alice.ID, found.ID)
		require.Nil(t, call(t, f.users.FindByName, FindUserByNameRequest{UserName: "bob"}, &found))
		assert.Equal(t, bob.ID, found.ID)
	})

	t.Run("should reject an email owned by another user", func(t *testing.T) {
		email := "BOB@example.com"
		requireCode(t, jsonrpcx.Conflict, call(t, f.users.Update, UpdateUserRequest{ID: alice.ID, Email: &email}, nil))

		var found UserView
		require.Nil(t, call(t, f.users.FindByEmail, FindUserByEmailRequest{Email: "alice@example.com"}, &found))
		assert.Equal(t, alice.ID, found.ID)
		require.Nil(t, call(t, f.users.FindByEmail, FindUserByEmailRequest{Email: "bob@example.com"}, &found))
		assert.Equal(t, bob.ID, found.ID)
	})

	t.Run("should allow a casing change of the user's own name", func(t *testing.T) {
		name := "ALICE"
		var updated UserView
		require.Nil(t, call(t, f.users.Update, UpdateUserRequest{ID: alice.ID, UserName: &name}, &updated))
		assert.Equal(t, "ALICE", updated.UserName)
	})
}

func TestUserRolesClaimsLogins(t *testing.T) {
	f := newFixture(t)

	var user UserView
	require.Nil(t, call(t, f.users.Create, CreateUserRequest{UserName: "bob"}, &user))

	t.Run("should refuse an unknown role", func(t *testing.T) {
		requireCode(t, jsonrpcx.NotFound, call(t, f.users.AddToRole, UserRoleRequest{ID: user.ID, RoleName: "admin"}, nil))
	})

	t.Run("should add and list role members", func(t *testing.T) {
		require.Nil(t, call(t, f.roles.Create, CreateRoleRequest{Name: "Admin"}, nil))

		var updated UserView
		require.Nil(t, call(t, f.users.AddToRole, UserRoleRequest{ID: user.ID, RoleName: "admin"}, &updated))
		assert.Equal(t, []string{"ADMIN"}, updated.Roles)

		var members ListUsersResponse
		require.Nil(t, call(t, f.users.InRole, RoleNameRequest{RoleName: "Admin"}, &members))
		require.Equal(t, 1, members.Total)
		assert.Equal(t, user.ID, members.Users[0].ID)

		require.Nil(t, call(t, f.users.RemoveFromRole, UserRoleRequest{ID: user.ID, RoleName: "ADMIN"}, &updated))
		assert.Empty(t, updated.Roles)
	})

	t.Run("should add and scan claims", func(t *testing.T) {
		require.Nil(t, call(t, f.users.AddClaim, UserClaimRequest{ID: user.ID, Type: "dept", Value: "eng"}, nil))

		var holders ListUsersResponse
		require.Nil(t, call(t, f.users.ForClaim, ClaimRequest{Type: "dept", Value: "eng"}, &holders))
		assert.Equal(t, 1, holders.Total)

		require.Nil(t, call(t, f.users.RemoveClaim, UserClaimRequest{ID: user.ID, Type: "dept", Value: "eng"}, nil))
		require.Nil(t, call(t, f.users.ForClaim, ClaimRequest{Type: "dept", Value: "eng"}, &holders))
		assert.Zero(t, holders.Total)
	})

	t.Run("should link a login to one user only", func(t *testing.T) {
		login := UserLoginRequest{ID: user.ID, LoginProvider: "github", ProviderKey: "42"}
		require.Nil(t, call(t, f.users.AddLogin, login, nil))

		var found UserView
		require.Nil(t, call(t, f.users.FindByLogin, LoginKeyRequest{LoginProvider: "github", ProviderKey: "42"}, &found))
		assert.Equal(t, user.ID, found.ID)

		var other UserView
		require.Nil(t, call(t, f.users.Create, CreateUserRequest{UserName: "carol"}, &other))
		requireCode(t, jsonrpcx.Conflict, call(t, f.users.AddLogin, UserLoginRequest{ID: other.ID, LoginProvider: "github", ProviderKey: "42"}, nil))

		require.Nil(t, call(t, f.users.RemoveLogin, login, nil))
		requireCode(t, jsonrpcx.NotFound, call(t, f.users.FindByLogin, LoginKeyRequest{LoginProvider: "github", ProviderKey: "42"}, nil))
	})

	t.Run("should list users", func(t *testing.T) {
		var all ListUsersResponse
		require.Nil(t, call(t, f.users.List, nil, &all))
		assert.Equal(t, 2, all.Total)
	})
}

func TestVerifyPassword(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.users.now = func() time.Time { return now }

	var user UserView
	require.Nil(t, call(t, f.users.Create, CreateUserRequest{UserName: "dave", Password: "s3cret-pass", LockoutEnabled: true}, &user))

	verify := func(password string) VerifyPasswordResponse {
		var out VerifyPasswordResponse
		require.Nil(t, call(t, f.users.VerifyPassword, VerifyPasswordRequest{UserName: "dave", Password: password}, &out))
		return out
	}

	assert.True(t, verify("s3cret-pass").Succeeded)

	for i := 1; i < MaxFailedAccessAttempts; i++ {
		out := verify("wrong")
		assert.False(t, out.Succeeded)
		assert.False(t, out.LockedOut, "attempt %d", i)
	}

	out := verify("wrong")
	assert.True(t, out.LockedOut)
	require.NotNil(t, out.LockoutEnd)
	assert.True(t, now.Add(DefaultLockoutDuration).Equal(*out.LockoutEnd))

	out = verify("s3cret-pass")
	assert.False(t, out.Succeeded, "locked users cannot sign in")
	assert.True(t, out.LockedOut)

	now = now.Add(DefaultLockoutDuration + time.Second)
	assert.True(t, verify("s3cret-pass").Succeeded)

	stored, err := f.store.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.AccessFailedCount)

	t.Run("should rotate the stamp on a new password", func(t *testing.T) {
		before := stored.SecurityStamp
		require.Nil(t, call(t, f.users.SetPassword, SetPasswordRequest{ID: user.ID, Password: "another-pass"}, nil))
		assert.True(t, verify("another-pass").Succeeded)

		after, err := f.store.FindByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.NotEqual(t, before, after.SecurityStamp)
	})

	t.Run("should report unknown users", func(t *testing.T) {
		requireCode(t, jsonrpcx.NotFound, call(t, f.users.VerifyPassword, VerifyPasswordRequest{UserName: "nobody", Password: "x"}, nil))
	})
}

func TestRoleHandler(t *testing.T) {
	f := newFixture(t)

	var role identity.Role
	require.Nil(t, call(t, f.roles.Create, CreateRoleRequest{Name: "Editor"}, &role))
	assert.Equal(t, "EDITOR", role.NormalizedName)

	requireCode(t, jsonrpcx.Conflict, call(t, f.roles.Create, CreateRoleRequest{Name: "editor"}, nil))

	var found identity.Role
	require.Nil(t, call(t, f.roles.FindByName, FindRoleByNameRequest{Name: "editor"}, &found))
	assert.Equal(t, role.ID, found.ID)

	var renamed identity.Role
	require.Nil(t, call(t, f.roles.Update, UpdateRoleRequest{ID: role.ID, Name: "Author"}, &renamed))
	assert.Equal(t, "AUTHOR", renamed.NormalizedName)
	requireCode(t, jsonrpcx.NotFound, call(t, f.roles.FindByName, FindRoleByNameRequest{Name: "editor"}, nil))

	var viewer identity.Role
	require.Nil(t, call(t, f.roles.Create, CreateRoleRequest{Name: "Viewer"}, &viewer))
	requireCode(t, jsonrpcx.Conflict, call(t, f.roles.Update, UpdateRoleRequest{ID: viewer.ID, Name: "author"}, nil))
	require.Nil(t, call(t, f.roles.FindByName, FindRoleByNameRequest{Name: "viewer"}, &found))
	assert.Equal(t, viewer.ID, found.ID)
	require.Nil(t, call(t, f.roles.FindByName, FindRoleByNameRequest{Name: "author"}, &found))
	assert.Equal(t, role.ID, found.ID)
	require.Nil(t, call(t, f.roles.Delete, RoleIDRequest{ID: viewer.ID}, nil))

	require.Nil(t, call(t, f.roles.AddClaim, RoleClaimRequest{ID: role.ID, Type: "perm", Value: "write"}, &renamed))
	assert.Len(t, renamed.Claims, 1)
	require.Nil(t, call(t, f.roles.RemoveClaim, RoleClaimRequest{ID: role.ID, Type: "perm", Value: "write"}, &renamed))
	assert.Empty(t, renamed.Claims)

	var list ListRolesResponse
	require.Nil(t, call(t, f.roles.List, nil, &list))
	assert.Equal(t, 1, list.Total)

	require.Nil(t, call(t, f.roles.Delete, RoleIDRequest{ID: role.ID}, nil))
	requireCode(t, jsonrpcx.NotFound, call(t, f.roles.Get, RoleIDRequest{ID: role.ID}, nil))
}

func TestAuditHandler(t *testing.T) {
	t.Run("should return an empty trail without events", func(t *testing.T) {
		var out RecentAuditResponse
		require.Nil(t, call(t, NewAuditHandler(nil).Recent, nil, &out))
		assert.Empty(t, out.Entries)
	})

	t.Run("should return newest first", func(t *testing.T) {
		trail := events.NewAuditHandler(nil, 10)
		require.NoError(t, trail.HandleUserCreated(context.Background(), &events.UserCreatedEvent{UserID: "u1"}))
		require.NoError(t, trail.HandleUserDeleted(context.Background(), &events.UserDeletedEvent{UserID: "u1"}))

		var out RecentAuditResponse
		require.Nil(t, call(t, NewAuditHandler(trail).Recent, RecentAuditRequest{Limit: 1}, &out))
		require.Len(t, out.Entries, 1)
		assert.Equal(t, "user.deleted", out.Entries[0].Event)
	})
}

func TestServerInfo(t *testing.T) {
	var info ServerInfo
	require.Nil(t, call(t, NewServerHandler(ServerInfo{Version: "1.2.3", Backend: "memory", Partitioned: true}).Info, nil, &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.True(t, info.Partitioned)
}
