package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func authHandler(t *testing.T, cfg AuthConfig) http.Handler {
	t.Helper()
	mw := NewAuthMiddleware(cfg)
	return mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hashToken(t *testing.T, token string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthMiddleware_NoHashesDisablesAuth(t *testing.T) {
	h := authHandler(t, AuthConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/workflows", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_AcceptsValidToken(t *testing.T) {
	h := authHandler(t, AuthConfig{TokenHashes: []string{hashToken(t, "s3cret")}})

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	h := authHandler(t, AuthConfig{TokenHashes: []string{hashToken(t, "s3cret")}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/workflows", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing bearer token")
}

func TestAuthMiddleware_RejectsWrongToken(t *testing.T) {
	h := authHandler(t, AuthConfig{TokenHashes: []string{hashToken(t, "s3cret")}})

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_SecondHashMatches(t *testing.T) {
	h := authHandler(t, AuthConfig{TokenHashes: []string{
		hashToken(t, "old-token"),
		hashToken(t, "new-token"),
	}})

	req := httptest.NewRequest("GET", "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer new-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_ExemptPathsSkipAuth(t *testing.T) {
	h := authHandler(t, AuthConfig{
		TokenHashes: []string{hashToken(t, "s3cret")},
		ExemptPaths: []string{"/health", "/ready"},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/workflows", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
