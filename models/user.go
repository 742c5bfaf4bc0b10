package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the normalized role of an authenticated user
type Role string

const (
	RoleResident Role = "resident"
	RoleAdmin    Role = "admin"
)

// ParseRole maps the role spellings seen in tokens and the users table
// onto a Role. The second result is false for unknown values.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "administrator", "manager", "staff", "superadmin":
		return RoleAdmin, true
	case "resident", "user", "tenant", "member":
		return RoleResident, true
	}
	return "", false
}

// User is a row of the user directory
type User struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the display name, falling back to a placeholder
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return FallbackName(u.ID)
}

// FallbackName is shown for users the directory knows nothing about
func FallbackName(id int64) string {
	return fmt.Sprintf("User #%d", id)
}

// Profile is the public view of a user sent to other users
type Profile struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Online      bool   `json:"online"`
}

// ToProfile converts User to Profile
func (u *User) ToProfile() Profile {
	return Profile{
		ID:          u.ID,
		DisplayName: u.Name(),
		Role:        u.Role,
		Online:      false,
	}
}

// Identity is who a connection or request belongs to, after verification
type Identity struct {
	UserID      int64  `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// IsAdmin reports whether the identity has the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Session is an opaque login session stored by hash
type Session struct {
	TokenHash string    `json:"-"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
