package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"communitychat/auth"
	"communitychat/models"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"none", func(*http.Request) {}, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc"},
		{"bearer lower case", func(r *http.Request) { r.Header.Set("Authorization", "bearer abc ") }, "abc"},
		{"basic ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9vOmJhcg==") }, ""},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "c1"}) }, "c1"},
		{"header beats query", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer h")
			q := r.URL.Query()
			q.Set("token", "q")
			r.URL.RawQuery = q.Encode()
		}, "h"},
		{"query beats cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "c"})
			r.URL.RawQuery = "token=q"
		}, "q"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.setup(r)
			if got := TokenFromRequest(r); got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func staticVerifier(token string, identity models.Identity) auth.Verifier {
	return auth.VerifierFunc(func(_ context.Context, got string) (models.Identity, error) {
		if got != token {
			return models.Identity{}, auth.ErrUnauthenticated
		}
		return identity, nil
	})
}

func TestAuthAndRequireAdmin(t *testing.T) {
	verifier := auth.Chain{
		staticVerifier("resident-token", models.Identity{UserID: 10, Role: models.RoleResident}),
		staticVerifier("admin-token", models.Identity{UserID: 1, Role: models.RoleAdmin}),
	}

	var seen models.Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentityFromContext(r)
		if !ok {
			t.Error("identity missing from context")
		}
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	})
	open := Auth(verifier)(inner)
	adminOnly := Auth(verifier)(RequireAdmin(inner))

	tests := []struct {
		name    string
		handler http.Handler
		token   string
		want    int
		userID  int64
	}{
		{"no token", open, "", http.StatusUnauthorized, 0},
		{"bad token", open, "nope", http.StatusUnauthorized, 0},
		{"resident", open, "resident-token", http.StatusNoContent, 10},
		{"resident on admin route", adminOnly, "resident-token", http.StatusForbidden, 0},
		{"admin on admin route", adminOnly, "admin-token", http.StatusNoContent, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = models.Identity{}
			r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			tt.handler.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if seen.UserID != tt.userID {
				t.Fatalf("handler saw user %d, want %d", seen.UserID, tt.userID)
			}
		})
	}
}
