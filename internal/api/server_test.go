package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/docidentity/internal/api/auth"
	"github.com/danghamo/docidentity/internal/api/handlers"
	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
	"github.com/danghamo/docidentity/internal/docstore/memdoc"
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/store"
	"github.com/danghamo/docidentity/pkg/config"
	"github.com/danghamo/docidentity/pkg/logger"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            0,
			HealthCheckPath: "/health",
		},
		Metrics: config.MetricsConfig{Enabled: false, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, health map[string]HealthChecker) (*Server, *auth.JWTService) {
	t.Helper()
	srv, jwt, _ := newTestServerWithAudit(t, health)
	return srv, jwt
}

func newTestServerWithAudit(t *testing.T, health map[string]HealthChecker) (*Server, *auth.JWTService, *events.AuditHandler) {
	t.Helper()

	client, err := memdoc.New(nil)
	require.NoError(t, err)

	jwt := auth.NewJWTService("0123456789abcdef", "docidentity", time.Hour)
	audit := events.NewAuditHandler(nil, 16)
	srv, err := NewServer(testConfig(), logger.NewNop(), Dependencies{
		Users:  store.NewUserStore[identity.User](client),
		Roles:  store.NewRoleStore[identity.Role](client),
		JWT:    jwt,
		Audit:  audit,
		Health: health,
		Info:   handlers.ServerInfo{Version: "test", Backend: "memory"},
	})
	require.NoError(t, err)
	t.Cleanup(srv.stream.Close)
	return srv, jwt, audit
}

func rpc(t *testing.T, h http.Handler, path, token string, params any) (*httptest.ResponseRecorder, jsonrpcx.JSONRPCResponse) {
	t.Helper()

	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": path, "params": params, "id": "1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/"+path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp jsonrpcx.JSONRPCResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestNewServerRequiresStores(t *testing.T) {
	_, err := NewServer(testConfig(), logger.NewNop(), Dependencies{})
	assert.Error(t, err)
}

func TestServerRoutes(t *testing.T) {
	srv, jwt := newTestServer(t, nil)
	h := srv.Handler()

	paths := map[string]bool{}
	for _, r := range srv.Routes() {
		paths[r.URLPath] = r.HasAuth
	}
	assert.False(t, paths["/api/v1/server.Info"])
	assert.True(t, paths["/api/v1/user.Create"])
	assert.True(t, paths["/api/v1/role.FindByName"])
	assert.True(t, paths["/api/v1/audit.Recent"])

	admin, err := jwt.GenerateToken("ops-1", "operator", auth.RoleAdmin)
	require.NoError(t, err)
	viewer, err := jwt.GenerateToken("ops-2", "viewer")
	require.NoError(t, err)

	t.Run("should serve info without a token", func(t *testing.T) {
		w, resp := rpc(t, h, "server.Info", "", nil)
		assert.Nil(t, resp.Error)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("should require a token for user methods", func(t *testing.T) {
		_, resp := rpc(t, h, "user.List", "", nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpcx.Unauthorized, resp.Error.Code)
	})

	t.Run("should require the admin role for user methods", func(t *testing.T) {
		_, resp := rpc(t, h, "user.List", viewer, nil)
		require.NotNil(t, resp.Error)
		assert.Equal(t, jsonrpcx.Unauthorized, resp.Error.Code)
	})

	t.Run("should let any valid token read the audit trail", func(t *testing.T) {
		_, resp := rpc(t, h, "audit.Recent", viewer, nil)
		assert.Nil(t, resp.Error)
	})

	t.Run("should create and find a user end to end", func(t *testing.T) {
		_, resp := rpc(t, h, "user.Create", admin, map[string]any{"userName": "erin", "email": "erin@example.com"})
		require.Nil(t, resp.Error)

		_, resp = rpc(t, h, "user.FindByEmail", admin, map[string]any{"email": "ERIN@example.com"})
		require.Nil(t, resp.Error)
		result, ok := resp.Result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "erin", result["userName"])
	})
}

func TestSwaggerDoc(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/user.FindByEmail")
	assert.Contains(t, w.Body.String(), "BearerAuth")
}

func TestHealthCheck(t *testing.T) {
	t.Run("should report healthy", func(t *testing.T) {
		srv, _ := newTestServer(t, map[string]HealthChecker{
			"redis": checkFunc(func(context.Context) error { return nil }),
		})

		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	})

	t.Run("should report a failing dependency", func(t *testing.T) {
		srv, _ := newTestServer(t, map[string]HealthChecker{
			"redis": checkFunc(func(context.Context) error { return errors.New("connection refused") }),
		})

		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")
	})
}

func TestAuditStream(t *testing.T) {
	srv, jwt, audit := newTestServerWithAudit(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Run("should require a token", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/audit.Stream")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body jsonrpcx.JSONRPCResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotNil(t, body.Error)
		assert.Equal(t, jsonrpcx.Unauthorized, body.Error.Code)
	})

	t.Run("should push audit entries", func(t *testing.T) {
		token, err := jwt.GenerateToken("dash", "dashboard")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/audit.Stream", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		require.Eventually(t, func() bool { return srv.stream.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, audit.HandleUserCreated(ctx, &events.UserCreatedEvent{UserID: "u-1", NormalizedUserName: "ERIN"}))

		reader := bufio.NewReader(resp.Body)
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(line, "data: "))

		var n jsonrpcx.Notification
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n))
		assert.Equal(t, "audit.entry", n.Method)
		params, ok := n.Params.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "u-1", params["subject_id"])
	})
}
