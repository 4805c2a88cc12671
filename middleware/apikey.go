package middleware

import (
	"context"
	"net/http"

	"github.com/finbridge/finbridge/keys"
)

// KeyVerifier verifies a candidate secret against a user's active keys
type KeyVerifier interface {
	Verify(ctx context.Context, userID, candidate string) bool
}

// APIKeyMiddleware authenticates programmatic access with an issued API
// key. The key travels in HTTP Basic credentials: user id as the
// username, key secret as the password.
type APIKeyMiddleware struct {
	verifier KeyVerifier
}

// NewAPIKeyMiddleware creates a new API key middleware
func NewAPIKeyMiddleware(verifier KeyVerifier) *APIKeyMiddleware {
	return &APIKeyMiddleware{verifier: verifier}
}

// RequireAPIKey is a middleware that requires a valid API key
func (m *APIKeyMiddleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, secret, ok := r.BasicAuth()
		if !ok || userID == "" {
			respondUnauthorized(w, "missing api key credentials")
			return
		}
		if !keys.ValidateFormat(secret) {
			respondUnauthorized(w, "malformed api key")
			return
		}
		if !m.verifier.Verify(r.Context(), userID, secret) {
			respondUnauthorized(w, "invalid api key")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
