// Package jwtx reads and mints the HS256 access tokens issued by the backend's
// auth service. The workspace client only ever inspects its own tokens; the
// signing half exists for local fixtures and integration environments that
// share the backend's JWT secret.
package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Database roles carried in the "role" claim.
const (
	RoleAuthenticated = "authenticated"
	RoleAnon          = "anon"
)

// Authenticator assurance levels.
const (
	AAL1 = "aal1"
	AAL2 = "aal2"
)

// DefaultAccessTokenTTL matches the backend's default JWT expiry.
const DefaultAccessTokenTTL = time.Hour

// AMREntry records one authentication method used for the session.
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// Claims are the access-token claims the backend issues.
type Claims struct {
	jwt.RegisteredClaims

	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	AAL       string     `json:"aal,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	AMR       []AMREntry `json:"amr,omitempty"`

	// Free-form profile data, including the application role under "role".
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

// NewAccessClaims builds claims for an authenticated user session.
func NewAccessClaims(
	subject, email, sessionID string,
	userMetadata map[string]any,
	ttl time.Duration,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{RoleAuthenticated},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:        email,
		Role:         RoleAuthenticated,
		AAL:          AAL1,
		SessionID:    sessionID,
		AMR:          []AMREntry{{Method: "password", Timestamp: now.Unix()}},
		UserMetadata: userMetadata,
	}
}

// ValidateAudience checks that at least one expected audience is present.
func (c *Claims) ValidateAudience(expected ...string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ExpiresAtTime returns exp, or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// MFAVerified reports whether the session was stepped up to aal2.
func (c *Claims) MFAVerified() bool { return c.AAL == AAL2 }
