// Package directory derives chat partner lists and unread counts from the
// conversation store. It keeps no state of its own: every call re-reads
// the store so counts are never stale after a concurrent mark-read.
package directory

import (
	"context"
	"errors"
	"fmt"

	"communitychat/database"
	"communitychat/models"
)

// ErrNoAdmin is returned when the community has no admin to chat with
var ErrNoAdmin = errors.New("no admin available")

// MessageSource is the read side of the conversation store
type MessageSource interface {
	PartnerSummaries(ctx context.Context, userID int64) ([]database.PartnerSummary, error)
}

// Users is the user directory collaborator
type Users interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	DefaultAdmin(ctx context.Context) (*models.User, error)
}

// Presence reports whether a user has at least one live session
type Presence interface {
	IsUserOnline(userID int64) bool
}

type offline struct{}

func (offline) IsUserOnline(int64) bool { return false }

// Directory answers "who can I talk to" questions
type Directory struct {
	messages       MessageSource
	users          Users
	presence       Presence
	defaultAdminID int64
}

// New creates a Directory. defaultAdminID, when non-zero, pins the admin
// residents are routed to; otherwise the lowest-id admin is used.
func New(messages MessageSource, users Users, defaultAdminID int64) *Directory {
	return &Directory{
		messages:       messages,
		users:          users,
		presence:       offline{},
		defaultAdminID: defaultAdminID,
	}
}

// SetPresence wires the live session registry in after construction
func (d *Directory) SetPresence(p Presence) {
	if p == nil {
		p = offline{}
	}
	d.presence = p
}

// ListPartners returns one entry per user that exchanged messages with
// userID, annotated with unread counts. Order follows the store: most
// recent conversation first, ties by partner id.
func (d *Directory) ListPartners(ctx context.Context, userID int64) ([]models.ChatPartner, error) {
	summaries, err := d.messages.PartnerSummaries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list partners of %d: %w", userID, err)
	}

	partners := make([]models.ChatPartner, 0, len(summaries))
	for _, s := range summaries {
		partners = append(partners, models.ChatPartner{
			ID:            s.PartnerID,
			DisplayName:   d.displayName(ctx, s.PartnerID),
			UnreadCount:   s.Unread,
			Online:        d.presence.IsUserOnline(s.PartnerID),
			LastMessageID: s.LastMessageID,
		})
	}
	return partners, nil
}

// DefaultAdmin returns the public profile of the admin residents chat with
func (d *Directory) DefaultAdmin(ctx context.Context) (models.Profile, error) {
	var (
		admin *models.User
		err   error
	)
	if d.defaultAdminID > 0 {
		admin, err = d.users.GetUserByID(ctx, d.defaultAdminID)
		if errors.Is(err, database.ErrNotFound) {
			// configured but not mirrored in the directory yet
			admin, err = &models.User{ID: d.defaultAdminID, Role: models.RoleAdmin}, nil
		}
	} else {
		admin, err = d.users.DefaultAdmin(ctx)
		if errors.Is(err, database.ErrNotFound) {
			return models.Profile{}, ErrNoAdmin
		}
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("default admin: %w", err)
	}

	profile := admin.ToProfile()
	profile.Online = d.presence.IsUserOnline(admin.ID)
	return profile, nil
}

// Role returns the directory role of userID. The pinned default admin is
// an admin even without a row. known is false for anyone else.
func (d *Directory) Role(ctx context.Context, userID int64) (role models.Role, known bool, err error) {
	if userID <= 0 {
		return "", false, nil
	}
	user, err := d.users.GetUserByID(ctx, userID)
	switch {
	case err == nil:
		return user.Role, true, nil
	case errors.Is(err, database.ErrNotFound):
		if userID == d.defaultAdminID {
			return models.RoleAdmin, true, nil
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf("role of %d: %w", userID, err)
	}
}


// displayName never drops a partner: unknown users get a placeholder
func (d *Directory) displayName(ctx context.Context, id int64) string {
	user, err := d.users.GetUserByID(ctx, id)
	if err != nil {
		return models.FallbackName(id)
	}
	return user.Name()
}
