package database

import (
	"context"
	"fmt"

	"communitychat/models"
)

// User queries. The users table mirrors the community's user directory:
// ids come from the outside, this module only reads names and roles.

// UpsertUser inserts a user or updates its name and role
func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	if user.ID <= 0 {
		return ErrInvalidParticipant
	}
	if user.Role == "" {
		user.Role = models.RoleResident
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.stamp()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, display_name, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, role = excluded.role`),
		user.ID, user.DisplayName, string(user.Role), user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", user.ID, err)
	}
	return nil
}

// GetUserByID retrieves a user by their ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	var role string
	err := s.db.QueryRowContext(ctx, s.q(
		"SELECT id, display_name, role, created_at FROM users WHERE id = ?"), id,
	).Scan(&user.ID, &user.DisplayName, &role, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	user.Role = normalizeStoredRole(role)
	return user, nil
}

// DefaultAdmin returns the admin with the lowest id
func (s *Store) DefaultAdmin(ctx context.Context) (*models.User, error) {
	user := &models.User{}
	var role string
	err := s.db.QueryRowContext(ctx, s.q(
		"SELECT id, display_name, role, created_at FROM users WHERE role = ? ORDER BY id ASC LIMIT 1"),
		string(models.RoleAdmin),
	).Scan(&user.ID, &user.DisplayName, &role, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	user.Role = normalizeStoredRole(role)
	return user, nil
}

// UpdateProfile changes a user's display name and role, returning the
// row before and after the change.
func (s *Store) UpdateProfile(ctx context.Context, id int64, displayName *string, role *models.Role) (before, after *models.User, err error) {
	before, err = s.GetUserByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	updated := *before
	if displayName != nil {
		updated.DisplayName = *displayName
	}
	if role != nil {
		updated.Role = *role
	}
	if _, err := s.db.ExecContext(ctx, s.q(
		"UPDATE users SET display_name = ?, role = ? WHERE id = ?"),
		updated.DisplayName, string(updated.Role), id,
	); err != nil {
		return nil, nil, fmt.Errorf("update user %d: %w", id, err)
	}
	return before, &updated, nil
}

func normalizeStoredRole(s string) models.Role {
	if role, ok := models.ParseRole(s); ok {
		return role
	}
	return models.RoleResident
}
