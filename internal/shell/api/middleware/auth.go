// Package middleware provides HTTP middleware for the flowstack API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// Auth Configuration
// =============================================================================

// AuthConfig holds configuration for the bearer-token auth middleware.
type AuthConfig struct {
	// TokenHashes are bcrypt hashes of accepted API tokens. An empty
	// list disables authentication entirely (local development).
	TokenHashes []string

	// ExemptPaths are served without a token (health probes).
	ExemptPaths []string

	// Logger for auth middleware logging.
	Logger *slog.Logger
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware checks the Authorization bearer token against a set of
// bcrypt hashes. Only hashes are configured, so a leaked config file
// does not leak usable tokens.
type AuthMiddleware struct {
	config AuthConfig
	exempt map[string]bool
}

// NewAuthMiddleware creates an auth middleware with the given config.
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = true
	}
	return &AuthMiddleware{config: cfg, exempt: exempt}
}

// Handler returns the middleware handler function.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.config.TokenHashes) == 0 || m.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "Missing bearer token")
			return
		}

		if !m.tokenAccepted(token) {
			m.config.Logger.Warn("rejected API token",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized", "Invalid bearer token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// tokenAccepted compares the presented token against every configured hash.
func (m *AuthMiddleware) tokenAccepted(token string) bool {
	for _, hash := range m.config.TokenHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// =============================================================================
// JSON Error Response
// =============================================================================

// JSONAPIError represents a JSON:API error object.
type JSONAPIError struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// JSONAPIErrorResponse represents a JSON:API error response.
type JSONAPIErrorResponse struct {
	Errors []JSONAPIError `json:"errors"`
}

// writeJSONError writes a JSON:API formatted error response.
func writeJSONError(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(JSONAPIErrorResponse{
		Errors: []JSONAPIError{
			{
				Status: http.StatusText(status),
				Title:  title,
				Detail: detail,
			},
		},
	})
}
