// Package api serves the identity stores over JSON-RPC 2.0.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/api/auth"
	"github.com/danghamo/docidentity/internal/api/docs"
	"github.com/danghamo/docidentity/internal/api/handlers"
	"github.com/danghamo/docidentity/internal/api/middleware"
	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/metrics"
	"github.com/danghamo/docidentity/pkg/autorouter"
	"github.com/danghamo/docidentity/pkg/config"
	"github.com/danghamo/docidentity/pkg/logger"
	"github.com/danghamo/docidentity/pkg/sse"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the collaborators the server routes to. Bus, Audit and
// Health are optional.
type Dependencies struct {
	Users  handlers.UserStore
	Roles  handlers.RoleStore
	JWT    *auth.JWTService
	Bus    *events.Bus
	Audit  *events.AuditHandler
	Health map[string]HealthChecker
	Info   handlers.ServerInfo
}

// Server represents the HTTP server
type Server struct {
	httpServer     *http.Server
	logger         *logger.Logger
	cfg            *config.Config
	deps           Dependencies
	mux            *http.ServeMux
	authMiddleware *middleware.AuthMiddleware
	routes         []autorouter.HandlerInfo
	stream         *sse.Broadcaster
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, logger *logger.Logger, deps Dependencies) (*Server, error) {
	if deps.Users == nil || deps.Roles == nil || deps.JWT == nil {
		return nil, errors.New("api server needs user and role stores and a JWT service")
	}

	apiLogger := logger.WithComponent("api")
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.GetServerAddr(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		logger:         apiLogger,
		cfg:            cfg,
		deps:           deps,
		mux:            mux,
		authMiddleware: middleware.NewAuthMiddleware(deps.JWT, apiLogger),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.setupMiddleware()

	return s, nil
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() error {
	healthPath := s.cfg.Server.HealthCheckPath
	if healthPath == "" {
		healthPath = "/health"
	}
	s.mux.HandleFunc(healthPath, s.healthCheckHandler)

	if s.cfg.Metrics.Enabled && metrics.IsEnabled() {
		s.mux.Handle(s.cfg.Metrics.Path, metrics.Handler())
	}

	s.mux.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	// Server info (no auth required)
	info := autorouter.NewAutoRouter(s.mux, autorouter.RegistrationOptions{
		Prefix:       "/api/v1/",
		MethodPrefix: "server.",
		Logger:       s.logger,
	})
	routes, err := info.RegisterHandlers(handlers.NewServerHandler(s.deps.Info))
	if err != nil {
		return err
	}
	s.routes = append(s.routes, routes...)

	var trail handlers.AuditTrail
	if s.deps.Audit != nil {
		trail = s.deps.Audit
		s.setupAuditStream()
	}

	groups := []struct {
		prefix  string
		handler any
		guard   autorouter.Middleware
	}{
		{"user.", handlers.NewUserHandler(s.logger, s.deps.Users, s.deps.Roles), autorouter.Middleware(s.authMiddleware.RequireRole(auth.RoleAdmin))},
		{"role.", handlers.NewRoleHandler(s.logger, s.deps.Roles), autorouter.Middleware(s.authMiddleware.RequireRole(auth.RoleAdmin))},
		{"audit.", handlers.NewAuditHandler(trail), s.authMiddleware.RequireAuth},
	}

	for _, g := range groups {
		router := autorouter.NewAutoRouter(s.mux, autorouter.RegistrationOptions{
			Prefix:       "/api/v1/",
			MethodPrefix: g.prefix,
			Logger:       s.logger,
		})
		routes, err := router.RegisterHandlersWithAuth(g.handler, g.guard)
		if err != nil {
			return err
		}
		s.routes = append(s.routes, routes...)
	}

	s.logger.Info("Routes registered", zap.Int("count", len(s.routes)))

	return docs.Publish(docs.Info{
		Title:       "docidentity admin API",
		Version:     s.deps.Info.Version,
		Description: "JSON-RPC 2.0 management of identity users and roles",
	}, s.routes)
}

// setupAuditStream pushes every audit entry to SSE subscribers of audit.Stream.
func (s *Server) setupAuditStream() {
	s.stream = sse.NewBroadcaster(s.logger)
	s.deps.Audit.Subscribe(func(entry events.AuditEntry) {
		s.stream.Broadcast("audit.entry", entry)
	})

	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		subject, _ := middleware.GetSubject(r.Context())
		s.stream.Serve(w, r, subject)
	})
	s.mux.Handle("/api/v1/audit.Stream", s.authMiddleware.RequireAuth(stream))
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware() {
	chain := []middleware.Middleware{
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.ErrorAdapter(s.logger),
		middleware.CORS(s.cfg.CORS),
	}
	if s.cfg.Server.RateLimit > 0 {
		chain = append(chain, middleware.RateLimit(s.logger, s.cfg.Server.RateLimit, s.cfg.Server.RateBurst))
	}
	chain = append(chain, middleware.Logging(s.logger))

	s.httpServer.Handler = middleware.Chain(chain...)(s.mux)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Routes lists the JSON-RPC routes.
func (s *Server) Routes() []autorouter.HandlerInfo {
	return s.routes
}

// Start runs the event router and the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))

	if s.deps.Bus != nil {
		go func() {
			if err := s.deps.Bus.Run(ctx); err != nil {
				s.logger.Error("Event router error", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		_ = s.Shutdown()
		return err
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	if s.stream != nil {
		s.stream.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}

	if s.deps.Bus != nil {
		s.logger.Info("Closing event bus")
		if err := s.deps.Bus.Close(); err != nil {
			s.logger.Error("Event bus shutdown error", zap.Error(err))
			return err
		}
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

type healthStatus struct {
	Status string                  `json:"status"`
	Checks map[string]healthResult `json:"checks,omitempty"`
}

type healthResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// healthCheckHandler pings every registered dependency.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "healthy", Checks: map[string]healthResult{}}
	code := http.StatusOK

	for name, checker := range s.deps.Health {
		if err := checker.HealthCheck(r.Context()); err != nil {
			s.logger.Error("Health check failed", zap.String("check", name), zap.Error(err))
			status.Status = "unhealthy"
			status.Checks[name] = healthResult{Status: "down", Error: err.Error()}
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[name] = healthResult{Status: "up"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
