package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"communitychat/database"
	"communitychat/models"
)

// ProfileStore reads and writes user directory rows
type ProfileStore interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, id int64, displayName *string, role *models.Role) (before, after *models.User, err error)
	DeleteUserSessions(ctx context.Context, userID int64) error
}

// UserHandler serves profile changes and pushes them to live sessions,
// so headers don't have to poll for name or role updates.
type UserHandler struct {
	store ProfileStore
	hub   *Hub
	log   *slog.Logger
}

func NewUserHandler(store ProfileStore, hub *Hub, log *slog.Logger) *UserHandler {
	if log == nil {
		log = slog.Default()
	}
	return &UserHandler{store: store, hub: hub, log: log}
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name"`
	Role        *string `json:"role"`
}

// UpdateUser changes a user's display name and/or role
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DisplayName == nil && req.Role == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	var role *models.Role
	if req.Role != nil {
		parsed, ok := models.ParseRole(*req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown role")
			return
		}
		role = &parsed
	}
	if req.DisplayName != nil {
		trimmed := strings.TrimSpace(*req.DisplayName)
		if trimmed == "" {
			writeError(w, http.StatusBadRequest, "Display name cannot be empty")
			return
		}
		req.DisplayName = &trimmed
	}

	before, after, err := h.store.UpdateProfile(r.Context(), userID, req.DisplayName, role)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.log.Error("update profile", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	h.revokeOnRoleChange(r.Context(), before, after)
	h.hub.PushProfileUpdated(before, after)
	writeJSON(w, http.StatusOK, after.ToProfile())
}

type putUserRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// PutUser creates or replaces a directory row. The community app calls it
// when a resident registers or an admin is appointed.
func (h *UserHandler) PutUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req putUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	role := models.RoleResident
	if req.Role != "" {
		parsed, ok := models.ParseRole(req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown role")
			return
		}
		role = parsed
	}

	before, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		h.log.Error("lookup user", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to save user")
		return
	}

	user := &models.User{ID: userID, DisplayName: strings.TrimSpace(req.DisplayName), Role: role}
	if before != nil {
		user.CreatedAt = before.CreatedAt
	}
	if err := h.store.UpsertUser(r.Context(), user); err != nil {
		h.log.Error("upsert user", "user_id", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to save user")
		return
	}

	status := http.StatusCreated
	if before != nil {
		status = http.StatusOK
		h.revokeOnRoleChange(r.Context(), before, user)
		h.hub.PushProfileUpdated(before, user)
	}
	writeJSON(w, status, user.ToProfile())
}

// revokeOnRoleChange drops the user's session tokens so the next connect
// goes through the community app and picks up the new role. Live sockets
// are told through role_changed.
func (h *UserHandler) revokeOnRoleChange(ctx context.Context, before, after *models.User) {
	if before == nil || before.Role == after.Role {
		return
	}
	if err := h.store.DeleteUserSessions(ctx, after.ID); err != nil {
		h.log.Error("revoke sessions", "user_id", after.ID, "err", err)
		return
	}
	h.log.Info("sessions revoked after role change", "user_id", after.ID, "from", before.Role, "to", after.Role)
}
