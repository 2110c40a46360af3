package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/adinsight-api/internal/auth"
)

const secret = "test-secret"

func TestTokenRoundTrip(t *testing.T) {
	token, err := auth.GenerateToken(42, secret, time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.TenantID)
	assert.Equal(t, "42", claims.Subject)
}

func TestValidateTokenRejects(t *testing.T) {
	expired, err := auth.GenerateToken(1, secret, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	wrongKey, err := auth.GenerateToken(1, "other-secret", time.Hour, time.Now())
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"tenant_id": 1, "iss": "adinsight-api", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"alg none":  none,
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := auth.ValidateToken(token, secret)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	mw := auth.NewMiddleware(secret, "")
	var gotTenant int
	h := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetTenantFromContext(r.Context())
		require.True(t, ok)
		gotTenant = claims.TenantID
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := auth.GenerateToken(9, secret, time.Hour, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + token, want: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer " + token, want: http.StatusNoContent},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "basic", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer abc", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/analyses", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, 9, gotTenant)
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{name: "match", configured: "admin-token", sent: "admin-token", want: http.StatusOK},
		{name: "mismatch", configured: "admin-token", sent: "nope", want: http.StatusForbidden},
		{name: "missing header", configured: "admin-token", want: http.StatusForbidden},
		{name: "not configured", configured: "", sent: "", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/tenants", nil)
			if tt.sent != "" {
				req.Header.Set(auth.AdminTokenHeader, tt.sent)
			}
			rec := httptest.NewRecorder()
			auth.NewMiddleware(secret, tt.configured).RequireAdmin(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
