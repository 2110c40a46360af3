package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/HanTheDev/adinsight-api/internal/httpx"
	"github.com/HanTheDev/adinsight-api/internal/logger"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// AdminTokenHeader carries the static admin credential.
const AdminTokenHeader = "X-Admin-Token"

type Middleware struct {
	jwtSecret  string
	adminToken string
	log        *zap.Logger
}

func NewMiddleware(jwtSecret, adminToken string) *Middleware {
	return &Middleware{
		jwtSecret:  jwtSecret,
		adminToken: adminToken,
		log:        logger.WithModule("auth"),
	}
}

// Authenticate requires a valid tenant bearer token and stores its claims
// in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httpx.WriteError(w, m.log, httpx.ErrUnauthorized.WithMessage("Missing authorization header"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			httpx.WriteError(w, m.log, httpx.ErrUnauthorized.WithMessage("Invalid authorization header format"))
			return
		}

		claims, err := ValidateToken(token, m.jwtSecret)
		if err != nil {
			m.log.Debug("rejected tenant token", zap.Error(err))
			httpx.WriteError(w, m.log, httpx.ErrUnauthorized.WithMessage("Invalid token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), claims)))
	})
}

// RequireAdmin guards admin routes with the static admin token. With no token
// configured every admin request is refused.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(AdminTokenHeader)
		if m.adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(m.adminToken)) != 1 {
			m.log.Warn("rejected admin request", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			httpx.WriteError(w, m.log, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithTenant(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, tenantContextKey, claims)
}

func GetTenantFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(tenantContextKey).(*Claims)
	return claims, ok
}
