package domain

import (
	"strings"
	"time"
)

// Role is the application role derived from user metadata. Roles are
// totally ordered: RoleUser < RoleAdmin.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps unknown or empty values to RoleUser.
func ParseRole(s string) Role {
	if Role(strings.ToLower(strings.TrimSpace(s))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

func (r Role) rank() int {
	if r == RoleAdmin {
		return 1
	}
	return 0
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank()
}

// Compare orders roles, returning -1, 0 or +1.
func (r Role) Compare(other Role) int {
	return r.rank() - other.rank()
}

// User is the authenticated identity as issued by the auth service.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Metadata         map[string]any `json:"user_metadata"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// MetadataString returns a string metadata value, or "".
func (u *User) MetadataString(key string) string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	s, _ := u.Metadata[key].(string)
	return s
}

// LocalPart returns the part of the email before the '@'.
func (u *User) LocalPart() string {
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// Session is the signed-in state handed to the rest of the core.
type Session struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`

	// MFAVerified is set once a second factor was verified for the session.
	MFAVerified bool `json:"mfa_verified"`
}

// Profile is a user_profiles row, the store of record for admin sweeps.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
