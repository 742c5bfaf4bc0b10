package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"communitychat/directory"
	"communitychat/middleware"
	"communitychat/models"
)

// REST mirror of the socket events, for clients that only need a one-off
// read or cannot keep a socket open.

type sendMessageRequest struct {
	Message string `json:"message"`
}

// GetConversations returns the chat partners of the current user
func (g *Gateway) GetConversations(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	partners, err := g.dir.ListPartners(r.Context(), identity.UserID)
	if err != nil {
		g.log.Error("list partners", "user_id", identity.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to get conversations")
		return
	}
	writeJSON(w, http.StatusOK, partners)
}

// GetMessages returns messages between current user and another user
func (g *Gateway) GetMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	otherUserID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	// Get pagination params
	var afterID int64
	var limit int
	if a := r.URL.Query().Get("after_id"); a != "" {
		if parsed, err := strconv.ParseInt(a, 10, 64); err == nil && parsed > 0 {
			afterID = parsed
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := g.store.FetchConversation(r.Context(), identity.UserID, otherUserID, g.page(afterID, limit))
	if err != nil {
		g.log.Error("fetch conversation", "user_id", identity.UserID, "partner_id", otherUserID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, models.WireMessages(messages))
}

// SendMessage stores a message and pushes it like send_message does
func (g *Gateway) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	receiverID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := g.deliver(r.Context(), identity, receiverID, req.Message, nil)
	if err != nil {
		writeEventError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg.Wire())
}

// MarkAsRead marks messages from a user as read
func (g *Gateway) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	senderID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	n, err := g.markConversationRead(r.Context(), identity.UserID, senderID, nil)
	if err != nil {
		writeEventError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// GetUnread returns how many messages from a user are still unread, for
// launchers that show a badge without holding a socket
func (g *Gateway) GetUnread(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	senderID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	n, err := g.store.UnreadCount(r.Context(), identity.UserID, senderID)
	if err != nil {
		g.log.Error("unread count", "user_id", identity.UserID, "sender_id", senderID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to count unread messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

// GetAdmin returns the admin residents are routed to
func (g *Gateway) GetAdmin(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if identity.Role != models.RoleResident {
		writeError(w, http.StatusForbidden, "Only residents look up an admin")
		return
	}

	admin, err := g.dir.DefaultAdmin(r.Context())
	if errors.Is(err, directory.ErrNoAdmin) {
		writeError(w, http.StatusNotFound, "No admin available")
		return
	}
	if err != nil {
		g.log.Error("default admin", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to find admin")
		return
	}
	writeJSON(w, http.StatusOK, admin)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

func writeEventError(w http.ResponseWriter, err error) {
	var ee *eventError
	if !errors.As(err, &ee) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch ee.code {
	case models.CodeValidation, models.CodeBadRequest:
		status = http.StatusBadRequest
	case models.CodeForbidden:
		status = http.StatusForbidden
	case models.CodeNotFound:
		status = http.StatusNotFound
	}
	writeError(w, status, ee.message)
}
