package baas

import (
	"encoding/json"
	"time"

	"github.com/pquerna/otp"

	"github.com/aussiebroadwan/workspace/pkg/jwtx"
)

// User is the auth service's view of an account.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	Factors          []Factor       `json:"factors,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Session is the token bundle returned by sign-in and refresh.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Expiry returns the access token expiry.
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !now.Add(d).Before(s.Expiry())
}

// restorable reports whether a stored session carries a readable access
// token for its user. A missing user id is taken from the token subject.
func (s *Session) restorable() bool {
	c, err := jwtx.ParseUnverified(s.AccessToken)
	if err != nil {
		return false
	}
	if s.User.ID == "" {
		s.User.ID = c.Subject
	}
	return s.User.ID == c.Subject
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// normalise fills ExpiresAt from ExpiresIn when the server omitted it, or
// from the access token's exp claim when both are missing.
func (s *Session) normalise(now time.Time) {
	switch {
	case s.ExpiresAt != 0:
	case s.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	default:
		if c, err := jwtx.ParseUnverified(s.AccessToken); err == nil && !c.ExpiresAtTime().IsZero() {
			s.ExpiresAt = c.ExpiresAtTime().Unix()
		}
	}
}

// MFAVerified reports whether the access token was issued at aal2. An
// unreadable token is not verified.
func (s *Session) MFAVerified() bool {
	c, err := jwtx.ParseUnverified(s.AccessToken)
	return err == nil && c.MFAVerified()
}

// SignUpParams is the sign-up request.
type SignUpParams struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// UserAttributes is a partial user update. Nil fields are left unchanged.
type UserAttributes struct {
	Email    *string        `json:"email,omitempty"`
	Password *string        `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Factor is an enrolled MFA factor.
type Factor struct {
	ID           string    `json:"id"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	FactorType   string    `json:"factor_type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Factor states.
const (
	FactorStatusUnverified = "unverified"
	FactorStatusVerified   = "verified"
)

// TOTPEnrollment is returned when enrolling a TOTP factor.
type TOTPEnrollment struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	FriendlyName string `json:"friendly_name,omitempty"`
	TOTP         struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
		URI    string `json:"uri"`
	} `json:"totp"`
}

// Key parses the otpauth:// URI of the enrollment.
func (e *TOTPEnrollment) Key() (*otp.Key, error) {
	return otp.NewKeyFromURL(e.TOTP.URI)
}

// Challenge is an open MFA challenge.
type Challenge struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// signUpResponse is either a session (auto-confirm) or a bare user (email
// confirmation pending).
type signUpResponse struct {
	Session *Session
	User    User
}

func (r *signUpResponse) UnmarshalJSON(b []byte) error {
	var probe struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}

	if probe.AccessToken != "" {
		var s Session
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.Session = &s
		r.User = s.User
		return nil
	}
	return json.Unmarshal(b, &r.User)
}
