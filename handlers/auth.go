package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"communitychat/auth"
	"communitychat/middleware"
)

// SessionStore revokes opaque session tokens. Tokens are issued by the
// community app, which writes their hashes to the same table.
type SessionStore interface {
	DeleteSession(ctx context.Context, tokenHash string) error
}

// SessionHandler serves the identity behind a request and logs it out
type SessionHandler struct {
	store SessionStore
	log   *slog.Logger
}

func NewSessionHandler(store SessionStore, log *slog.Logger) *SessionHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SessionHandler{store: store, log: log}
}

// Logout revokes the session token the request was made with. JWTs are
// not revocable here and simply expire.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r); token != "" {
		if err := h.store.DeleteSession(r.Context(), auth.HashToken(token)); err != nil {
			h.log.Error("delete session", "err", err)
			writeError(w, http.StatusInternalServerError, "Failed to log out")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me returns the current authenticated identity
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
