package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"communitychat/auth"
	"communitychat/middleware"
)

// Pinger reports whether the database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the socket endpoint and the REST routes. users and
// sessions may be nil to leave their routes out.
func NewRouter(g *Gateway, users *UserHandler, sessions *SessionHandler, verifier auth.Verifier, db Pinger) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", health(db)).Methods(http.MethodGet)
	r.HandleFunc("/ws", g.HandleWebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(verifier))
	api.HandleFunc("/conversations", g.GetConversations).Methods(http.MethodGet)
	api.HandleFunc("/messages/{userId:[0-9]+}", g.GetMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/{userId:[0-9]+}", g.SendMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/{userId:[0-9]+}/read", g.MarkAsRead).Methods(http.MethodPost)
	api.HandleFunc("/messages/{userId:[0-9]+}/unread", g.GetUnread).Methods(http.MethodGet)
	api.HandleFunc("/admin", g.GetAdmin).Methods(http.MethodGet)

	admin := api.PathPrefix("/users").Subrouter()
	admin.Use(middleware.RequireAdmin)
	if users != nil {
		admin.HandleFunc("/{userId:[0-9]+}", users.PutUser).Methods(http.MethodPut)
		admin.HandleFunc("/{userId:[0-9]+}", users.UpdateUser).Methods(http.MethodPatch)
	}
	if sessions != nil {
		api.HandleFunc("/me", sessions.Me).Methods(http.MethodGet)
		api.HandleFunc("/session", sessions.Logout).Methods(http.MethodDelete)
	}

	return r
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
