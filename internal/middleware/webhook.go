// Package middleware provides HTTP middleware for the chatbridge API surface.
package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// WebhookBearer returns middleware that validates the Authorization bearer
// token on chat-provider webhook deliveries against a bcrypt hash of the
// configured token. Only the hash is held in configuration.
func WebhookBearer(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				http.Error(w, `{"error":"webhook token not configured"}`, http.StatusServiceUnavailable)
				return
			}

			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			if bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
				http.Error(w, "invalid webhook token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
