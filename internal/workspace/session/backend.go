package session

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/pkg/baas"
)

// Event names an auth state transition reported by the backend.
type Event string

const (
	EventInitialSession Event = Event(baas.EventInitialSession)
	EventSignedIn       Event = Event(baas.EventSignedIn)
	EventSignedOut      Event = Event(baas.EventSignedOut)
	EventTokenRefreshed Event = Event(baas.EventTokenRefreshed)
	EventUserUpdated    Event = Event(baas.EventUserUpdated)
)

// Listener receives backend auth events. session is nil when signed out.
type Listener func(event Event, session *domain.Session)

// UserUpdate is a partial update of the signed-in account.
type UserUpdate struct {
	Email    *string        `json:"email,omitempty" validate:"omitempty,email"`
	Password *string        `json:"password,omitempty" validate:"omitempty,min=6,max=72"`
	Metadata map[string]any `json:"data,omitempty"`
}

// Enrollment is a pending TOTP factor. The URI is the otpauth:// link an
// authenticator app scans.
type Enrollment struct {
	FactorID string `json:"factor_id"`
	URI      string `json:"uri"`
	Secret   string `json:"secret"`
	QRCode   string `json:"qr_code"`
	Issuer   string `json:"issuer"`
	Account  string `json:"account"`
}

// Backend is the auth service as the manager sees it.
type Backend interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.User, *domain.Session, error)
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error

	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*domain.Session, error)
	UpdateUser(ctx context.Context, update UserUpdate) (*domain.User, error)

	// OnAuthStateChange registers fn and returns its cancel function.
	OnAuthStateChange(fn Listener) (cancel func())

	EnrollTOTP(ctx context.Context, friendlyName string) (*Enrollment, error)
	VerifyTOTP(ctx context.Context, factorID, code string) (*domain.Session, error)
}

// NewBackend adapts the SDK auth client. Password reset links point at
// redirectTo when it is set.
func NewBackend(auth *baas.AuthClient, redirectTo string) Backend {
	return &baasBackend{auth: auth, redirectTo: redirectTo}
}

type baasBackend struct {
	auth       *baas.AuthClient
	redirectTo string
}

func (b *baasBackend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.User, *domain.Session, error) {
	u, s, err := b.auth.SignUp(ctx, baas.SignUpParams{Email: email, Password: password, Data: metadata})
	if err != nil {
		return nil, nil, err
	}
	return toUser(u), toSession(s), nil
}

func (b *baasBackend) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	s, err := b.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return toSession(s), nil
}

func (b *baasBackend) SignOut(ctx context.Context) error {
	return b.auth.SignOut(ctx)
}

func (b *baasBackend) ResetPassword(ctx context.Context, email string) error {
	return b.auth.ResetPasswordForEmail(ctx, email, b.redirectTo)
}

func (b *baasBackend) GetSession(ctx context.Context) (*domain.Session, error) {
	s, err := b.auth.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	return toSession(s), nil
}

func (b *baasBackend) UpdateUser(ctx context.Context, update UserUpdate) (*domain.User, error) {
	u, err := b.auth.UpdateUser(ctx, baas.UserAttributes{
		Email:    update.Email,
		Password: update.Password,
		Data:     update.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return toUser(u), nil
}

func (b *baasBackend) OnAuthStateChange(fn Listener) func() {
	sub := b.auth.OnAuthStateChange(func(ev baas.AuthChangeEvent, s *baas.Session) {
		fn(Event(ev), toSession(s))
	})
	return sub.Unsubscribe
}

func (b *baasBackend) EnrollTOTP(ctx context.Context, friendlyName string) (*Enrollment, error) {
	e, err := b.auth.EnrollTOTP(ctx, friendlyName)
	if err != nil {
		return nil, err
	}
	key, err := e.Key()
	if err != nil {
		return nil, fmt.Errorf("parse totp uri: %w", err)
	}
	return &Enrollment{
		FactorID: e.ID,
		URI:      e.TOTP.URI,
		Secret:   key.Secret(),
		QRCode:   e.TOTP.QRCode,
		Issuer:   key.Issuer(),
		Account:  key.AccountName(),
	}, nil
}

// VerifyTOTP opens a challenge for the factor and answers it with code.
func (b *baasBackend) VerifyTOTP(ctx context.Context, factorID, code string) (*domain.Session, error) {
	ch, err := b.auth.ChallengeFactor(ctx, factorID)
	if err != nil {
		return nil, err
	}
	s, err := b.auth.VerifyFactor(ctx, factorID, ch.ID, code)
	if err != nil {
		return nil, err
	}
	return toSession(s), nil
}

func toUser(u *baas.User) *domain.User {
	if u == nil {
		return nil
	}
	return &domain.User{
		ID:               u.ID,
		Email:            u.Email,
		Metadata:         u.UserMetadata,
		EmailConfirmedAt: u.EmailConfirmedAt,
		CreatedAt:        u.CreatedAt,
	}
}

func toSession(s *baas.Session) *domain.Session {
	if s == nil {
		return nil
	}
	return &domain.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.Expiry(),
		User:         *toUser(&s.User),
		MFAVerified:  s.MFAVerified(),
	}
}
