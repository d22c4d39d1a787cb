package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/api/auth"
	"github.com/danghamo/docidentity/internal/api/jsonrpcx"
	"github.com/danghamo/docidentity/pkg/logger"
)

type claimsContextKey struct{}

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	jwtService *auth.JWTService
	logger     *logger.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(jwtService *auth.JWTService, logger *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		logger:     logger.WithComponent("auth-middleware"),
	}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.logger.Debug("Missing Authorization header")
			jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "Missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.logger.Debug("Invalid Authorization header format")
			jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "Invalid Authorization header format")
			return
		}

		claims, err := m.jwtService.ValidateToken(parts[1])
		if err != nil {
			m.logger.Debug("Invalid JWT token", zap.Error(err))
			jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "Invalid or expired token")
			return
		}

		m.logger.Debug("JWT authentication successful",
			zap.String("subject", claims.Subject),
			zap.Strings("roles", claims.Roles))

		ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole wraps RequireAuth and additionally demands role.
func (m *AuthMiddleware) RequireRole(role string) Middleware {
	return func(next http.Handler) http.Handler {
		return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := GetClaims(r.Context())
			if !claims.HasRole(role) {
				m.logger.Debug("Missing role", zap.String("subject", claims.Subject), zap.String("role", role))
				jsonrpcx.WithError(r, nil, jsonrpcx.Unauthorized, "Role "+role+" required")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// GetClaims returns the validated token claims stored by RequireAuth.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims, ok
}

// GetSubject returns the token subject.
func GetSubject(ctx context.Context) (string, bool) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return "", false
	}
	return claims.Subject, true
}
