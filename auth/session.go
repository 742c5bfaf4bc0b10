package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"communitychat/database"
	"communitychat/models"
)

// SessionStore is what SessionVerifier needs from the database
type SessionStore interface {
	GetSession(ctx context.Context, tokenHash string) (*models.Session, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// SessionVerifier accepts opaque session tokens stored by hash
type SessionVerifier struct {
	store SessionStore
}

func NewSessionVerifier(store SessionStore) *SessionVerifier {
	return &SessionVerifier{store: store}
}

// HashToken is the key a session token is stored under
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (v *SessionVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrMissingToken
	}

	session, err := v.store.GetSession(ctx, HashToken(token))
	if errors.Is(err, database.ErrNotFound) {
		return models.Identity{}, reject("invalid session")
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("lookup session: %w", err)
	}

	user, err := v.store.GetUserByID(ctx, session.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return models.Identity{}, reject("user %d not found", session.UserID)
	}
	if err != nil {
		return models.Identity{}, fmt.Errorf("lookup user: %w", err)
	}

	return models.Identity{
		UserID:      user.ID,
		Role:        user.Role,
		DisplayName: user.Name(),
	}, nil
}
