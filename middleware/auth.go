package middleware

import (
	"context"
	"net/http"
	"strings"

	"communitychat/auth"
	"communitychat/models"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// SessionCookie is the cookie carrying an opaque session token
const SessionCookie = "session"

// Auth middleware verifies the bearer token and adds the identity to context
func Auth(verifier auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := verifier.Verify(r.Context(), TokenFromRequest(r))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest finds the bearer token: Authorization header first,
// then the token query parameter (browsers cannot set headers on a
// WebSocket handshake), then the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// WithIdentity stores an identity in a context
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// GetIdentityFromContext retrieves the identity from the request context
func GetIdentityFromContext(r *http.Request) (models.Identity, bool) {
	identity, ok := r.Context().Value(IdentityContextKey).(models.Identity)
	return identity, ok
}

// RequireAdmin rejects identities without the admin role
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentityFromContext(r)
		if !ok || !identity.IsAdmin() {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error": "Forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
