package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"communitychat/auth"
	"communitychat/database"
	"communitychat/middleware"
	"communitychat/models"
)

// MessageStore is the conversation store as the gateway uses it
type MessageStore interface {
	Append(ctx context.Context, senderID, receiverID int64, body string) (*models.Message, error)
	FetchConversation(ctx context.Context, a, b int64, page database.Page) ([]models.Message, error)
	MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error)
	UnreadCount(ctx context.Context, receiverID, senderID int64) (int, error)
}

// Directory is the presence and unread directory plus user lookups
type Directory interface {
	ListPartners(ctx context.Context, userID int64) ([]models.ChatPartner, error)
	DefaultAdmin(ctx context.Context) (models.Profile, error)
	Role(ctx context.Context, userID int64) (models.Role, bool, error)
}

// Options tune the socket layer
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	EventTimeout   time.Duration
	MaxPageSize    int
	AllowedOrigins []string
}

// DefaultOptions returns the settings used when a field is left zero
func DefaultOptions() Options {
	return Options{
		SendBuffer:     256,
		MaxMessageSize: 1 << 20,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		EventTimeout:   10 * time.Second,
		MaxPageSize:    500,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = d.EventTimeout
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Gateway authenticates sockets and routes chat events between them
type Gateway struct {
	store    MessageStore
	dir      Directory
	verifier auth.Verifier
	hub      *Hub
	log      *slog.Logger
	opts     Options
	upgrader websocket.Upgrader

	// pumps counts read pumps still able to call the store
	pumps sync.WaitGroup
}

// NewGateway wires the gateway to its collaborators
func NewGateway(store MessageStore, dir Directory, verifier auth.Verifier, hub *Hub, log *slog.Logger, opts Options) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	opts = opts.withDefaults()
	g := &Gateway{
		store:    store,
		dir:      dir,
		verifier: verifier,
		hub:      hub,
		log:      log,
		opts:     opts,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

// HandleWebSocket authenticates before upgrading: a rejected token never
// gets a socket.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	identity, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		g.log.Info("websocket rejected", "remote", r.RemoteAddr, "err", err)
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade error", "err", err)
		return
	}

	client := newClient(conn, identity, g.opts.SendBuffer)
	if first := g.hub.Register(client); first {
		g.hub.BroadcastOnlineStatus(identity.UserID, true)
	}
	g.log.Info("client connected",
		"user_id", identity.UserID, "role", identity.Role, "session", client.id)

	// Start goroutines for reading and writing
	g.pumps.Add(1)
	go client.writePump(g)
	go client.readPump(g)
}

// Shutdown closes every socket and waits for their read pumps to finish,
// so the store can be closed afterwards. http.Server.Shutdown does not
// track hijacked connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	n := g.hub.CloseAll()
	done := make(chan struct{})
	go func() {
		g.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.log.Info("websocket sessions closed", "count", n)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close websocket sessions: %w", ctx.Err())
	}
}

func (g *Gateway) unregister(c *Client) {
	if last := g.hub.Unregister(c); last {
		g.hub.BroadcastOnlineStatus(c.identity.UserID, false)
	}
	g.log.Info("client disconnected", "user_id", c.identity.UserID, "session", c.id)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
