package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"communitychat/auth"
	"communitychat/models"
)

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.request(http.MethodGet, "/healthz", 0, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRESTRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/conversations", "/api/messages/1", "/api/admin"} {
		if resp := env.request(http.MethodGet, path, 0, "", ""); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
	}
}

func TestRESTSendPushesToSockets(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.dial(adminID, models.RoleAdmin)

	resp := env.request(http.MethodPost, "/api/messages/1", residentID, models.RoleResident, `{"message":"Boiler is out"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	sent := decodeBody[models.WireMessage](t, resp)

	pushed := decode[models.WireMessage](t, admin.next(models.EventReceiveMessage))
	if pushed.ID != sent.ID || pushed.Message != "Boiler is out" {
		t.Fatalf("pushed %+v, stored %+v", pushed, sent)
	}

	resp = env.request(http.MethodGet, "/api/messages/10", adminID, models.RoleAdmin, "")
	messages := decodeBody[[]models.WireMessage](t, resp)
	if len(messages) != 1 || messages[0].ID != sent.ID {
		t.Fatalf("messages = %+v", messages)
	}

	resp = env.request(http.MethodGet, "/api/conversations", adminID, models.RoleAdmin, "")
	partners := decodeBody[[]models.ChatPartner](t, resp)
	if len(partners) != 1 || partners[0].UnreadCount != 1 {
		t.Fatalf("partners = %+v", partners)
	}

	resp = env.request(http.MethodGet, "/api/messages/10/unread", adminID, models.RoleAdmin, "")
	if got := decodeBody[map[string]int](t, resp); got["unread"] != 1 {
		t.Fatalf("unread before mark read = %v", got)
	}

	resp = env.request(http.MethodPost, "/api/messages/10/read", adminID, models.RoleAdmin, "")
	if got := decodeBody[map[string]int64](t, resp); got["updated"] != 1 {
		t.Fatalf("updated = %v", got)
	}
	resp = env.request(http.MethodPost, "/api/messages/10/read", adminID, models.RoleAdmin, "")
	if got := decodeBody[map[string]int64](t, resp); got["updated"] != 0 {
		t.Fatalf("second mark read updated = %v", got)
	}
	resp = env.request(http.MethodGet, "/api/messages/10/unread", adminID, models.RoleAdmin, "")
	if got := decodeBody[map[string]int](t, resp); got["unread"] != 0 {
		t.Fatalf("unread after mark read = %v", got)
	}
}

func TestRESTSendValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty body", "/api/messages/1", `{"message":""}`, http.StatusBadRequest},
		{"not json", "/api/messages/1", `hello`, http.StatusBadRequest},
		{"self", "/api/messages/10", `{"message":"hi"}`, http.StatusBadRequest},
		{"unknown", "/api/messages/999", `{"message":"hi"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.request(http.MethodPost, tt.path, residentID, models.RoleResident, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRESTAdminLookup(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(http.MethodGet, "/api/admin", residentID, models.RoleResident, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if admin := decodeBody[models.Profile](t, resp); admin.ID != adminID {
		t.Fatalf("admin = %+v", admin)
	}

	resp = env.request(http.MethodGet, "/api/admin", adminID, models.RoleAdmin, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin lookup by admin: status = %d", resp.StatusCode)
	}
}

func TestUpdateUserPushesProfile(t *testing.T) {
	env := newTestEnv(t, nil)
	resident := env.dial(neighbourID, models.RoleResident)

	resp := env.request(http.MethodPatch, "/api/users/11", residentID, models.RoleResident, `{"role":"admin"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resident PATCH: status = %d", resp.StatusCode)
	}

	resp = env.request(http.MethodPatch, "/api/users/11", adminID, models.RoleAdmin, `{"display_name":" Caretaker ","role":"staff"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	profile := decodeBody[models.Profile](t, resp)
	if profile.DisplayName != "Caretaker" || profile.Role != models.RoleAdmin {
		t.Fatalf("profile = %+v", profile)
	}

	pushed := decode[models.Profile](t, resident.next(models.EventProfileUpdated))
	if pushed.DisplayName != "Caretaker" || !pushed.Online {
		t.Fatalf("profile_updated = %+v", pushed)
	}
	change := decode[models.RoleChange](t, resident.next(models.EventRoleChanged))
	if change.From != models.RoleResident || change.To != models.RoleAdmin {
		t.Fatalf("role_changed = %+v", change)
	}

	for name, body := range map[string]string{
		"nothing":    `{}`,
		"bad role":   `{"role":"landlord"}`,
		"blank name": `{"display_name":"  "}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := env.request(http.MethodPatch, "/api/users/11", adminID, models.RoleAdmin, body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d", resp.StatusCode)
			}
		})
	}

	resp = env.request(http.MethodPatch, "/api/users/404", adminID, models.RoleAdmin, `{"display_name":"x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing user: status = %d", resp.StatusCode)
	}
}

func TestPutUserCreatesAndUpdates(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.request(http.MethodPut, "/api/users/20", adminID, models.RoleAdmin, `{"display_name":"Apt 9F"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}
	if p := decodeBody[models.Profile](t, resp); p.Role != models.RoleResident || p.DisplayName != "Apt 9F" {
		t.Fatalf("created = %+v", p)
	}

	resident := env.dial(20, models.RoleResident)
	resp = env.request(http.MethodPut, "/api/users/20", adminID, models.RoleAdmin, `{"display_name":"Apt 9F","role":"manager"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status = %d", resp.StatusCode)
	}
	change := decode[models.RoleChange](t, resident.next(models.EventRoleChanged))
	if change.To != models.RoleAdmin {
		t.Fatalf("role_changed = %+v", change)
	}

	if resp := env.request(http.MethodPut, "/api/users/20", residentID, models.RoleResident, `{}`); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resident PUT: status = %d", resp.StatusCode)
	}
}

func TestSessionTokens(t *testing.T) {
	env := newTestEnv(t, nil)

	// the community app issues the token and stores its hash
	const token = "3f1c0a9e5b7d42c8a1e6f0b2d9c4e7a1"
	if err := env.store.CreateSession(context.Background(), auth.HashToken(token), residentID, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	withSession := func(method, path string) *http.Response {
		req, err := http.NewRequest(method, env.srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.AddCookie(&http.Cookie{Name: "session", Value: token})
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := withSession(http.MethodGet, "/api/me")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status = %d", resp.StatusCode)
	}
	if me := decodeBody[models.Identity](t, resp); me.UserID != residentID || me.Role != models.RoleResident || me.DisplayName != "Apt 4B" {
		t.Fatalf("me = %+v", me)
	}

	// the same token opens a socket
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(token), nil)
	if err != nil {
		t.Fatalf("dial with session token: %v", err)
	}
	conn.Close()

	if resp := withSession(http.MethodDelete, "/api/session"); resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status = %d", resp.StatusCode)
	}
	if resp := withSession(http.MethodGet, "/api/me"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked session still accepted: %d", resp.StatusCode)
	}
	if _, _, err := websocket.DefaultDialer.Dial(env.wsURL(token), nil); err == nil {
		t.Fatal("revoked session opened a socket")
	}
}

func TestRoleChangeRevokesSessionTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	const token = "9b2e4d6f8a1c3e5f7a9b0d2f4a6c8e0b"
	if err := env.store.CreateSession(ctx, auth.HashToken(token), neighbourID, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	// a rename keeps the session
	resp := env.request(http.MethodPatch, "/api/users/11", adminID, models.RoleAdmin, `{"display_name":"Apt 5C (north)"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename: status = %d", resp.StatusCode)
	}
	if _, err := env.store.GetSession(ctx, auth.HashToken(token)); err != nil {
		t.Fatalf("session lost on rename: %v", err)
	}

	resp = env.request(http.MethodPatch, "/api/users/11", adminID, models.RoleAdmin, `{"role":"admin"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promote: status = %d", resp.StatusCode)
	}
	if _, err := env.store.GetSession(ctx, auth.HashToken(token)); err == nil {
		t.Fatal("session survived a role change")
	}
}
