package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"communitychat/auth"
	"communitychat/database"
	"communitychat/directory"
	"communitychat/models"
)

const testSecret = "gateway-test-secret"

const (
	adminID     int64 = 1
	residentID  int64 = 10
	neighbourID int64 = 11
)

type testEnv struct {
	t     *testing.T
	store *database.Store
	hub   *Hub
	gw    *Gateway
	srv   *httptest.Server
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv starts a gateway over a fresh database. wrap, when set,
// replaces the store the gateway writes through.
func newTestEnv(t *testing.T, wrap func(*database.Store) MessageStore) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := database.Open(ctx, database.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "gw.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	for _, u := range []models.User{
		{ID: adminID, DisplayName: "Front desk", Role: models.RoleAdmin},
		{ID: residentID, DisplayName: "Apt 4B", Role: models.RoleResident},
		{ID: neighbourID, DisplayName: "Apt 5C", Role: models.RoleResident},
	} {
		u := u
		if err := store.UpsertUser(ctx, &u); err != nil {
			t.Fatal(err)
		}
	}

	logger := quietLogger()
	hub := NewHub(logger)
	dir := directory.New(store, store, 0)
	dir.SetPresence(hub)

	var messages MessageStore = store
	if wrap != nil {
		messages = wrap(store)
	}

	verifier := auth.Chain{auth.NewJWTVerifier(testSecret), auth.NewSessionVerifier(store)}
	gw := NewGateway(messages, dir, verifier, hub, logger, Options{})
	router := NewRouter(gw, NewUserHandler(store, hub, logger), NewSessionHandler(store, logger), verifier, store)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{t: t, store: store, hub: hub, gw: gw, srv: srv}
}

func tokenFor(t *testing.T, userID int64, role models.Role) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (e *testEnv) wsURL(token string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

// dial connects and waits for one round trip, which proves the session
// is registered in the hub.
func (e *testEnv) dial(userID int64, role models.Role) *testConn {
	e.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(tokenFor(e.t, userID, role)), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		e.t.Fatalf("dial user %d: %v (status %d)", userID, err, status)
	}
	c := &testConn{t: e.t, conn: conn}
	e.t.Cleanup(func() { conn.Close() })

	c.send(models.EventGetChatPartners, nil)
	c.next(models.EventChatPartnersList)
	return c
}

func (c *testConn) send(eventType string, payload interface{}) {
	c.t.Helper()
	msg := map[string]interface{}{"type": eventType}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("write %s: %v", eventType, err)
	}
}

func (c *testConn) sendRaw(raw string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		c.t.Fatal(err)
	}
}

// next reads until an event of one of the wanted types arrives,
// skipping anything else (presence notices arrive at arbitrary times).
func (c *testConn) next(types ...string) envelope {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c.conn.SetReadDeadline(deadline)
		var ev envelope
		if err := c.conn.ReadJSON(&ev); err != nil {
			c.t.Fatalf("waiting for %v: %v", types, err)
		}
		for _, want := range types {
			if ev.Type == want {
				return ev
			}
		}
	}
}

// expectNone fails if an event of the given type arrives within wait
func (c *testConn) expectNone(eventType string, wait time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		c.conn.SetReadDeadline(deadline)
		var ev envelope
		if err := c.conn.ReadJSON(&ev); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return
			}
			if strings.Contains(err.Error(), "timeout") {
				return
			}
			c.t.Fatalf("read: %v", err)
		}
		if ev.Type == eventType {
			c.t.Fatalf("unexpected %s event: %s", eventType, ev.Payload)
		}
	}
}

func decode[T any](t *testing.T, ev envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		t.Fatalf("decode %s payload %s: %v", ev.Type, ev.Payload, err)
	}
	return v
}

func (e *testEnv) request(method, path string, userID int64, role models.Role, body string) *http.Response {
	e.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	if err != nil {
		e.t.Fatal(err)
	}
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+tokenFor(e.t, userID, role))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatal(err)
	}
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
