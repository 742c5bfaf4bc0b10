package database

import (
	"context"
	"time"

	"communitychat/models"
)

// Session queries. Tokens are issued elsewhere; only their hashes are stored.

// CreateSession stores a session for a user
func (s *Store) CreateSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(
		"INSERT INTO sessions (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)"),
		tokenHash, userID, s.stamp(), expiresAt.UTC(),
	)
	return err
}

// GetSession retrieves an unexpired session by token hash
func (s *Store) GetSession(ctx context.Context, tokenHash string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.QueryRowContext(ctx, s.q(
		"SELECT token_hash, user_id, created_at, expires_at FROM sessions WHERE token_hash = ? AND expires_at > ?"),
		tokenHash, s.stamp(),
	).Scan(&session.TokenHash, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, s.q("DELETE FROM sessions WHERE token_hash = ?"), tokenHash)
	return err
}

// DeleteUserSessions removes all sessions for a user
func (s *Store) DeleteUserSessions(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, s.q("DELETE FROM sessions WHERE user_id = ?"), userID)
	return err
}
