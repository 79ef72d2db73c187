package baas

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ExpiryMargin is how long before expiry an access token is refreshed.
const ExpiryMargin = 30 * time.Second

// AuthChangeEvent names a transition of the auth state.
type AuthChangeEvent string

const (
	EventInitialSession       AuthChangeEvent = "INITIAL_SESSION"
	EventSignedIn             AuthChangeEvent = "SIGNED_IN"
	EventSignedOut            AuthChangeEvent = "SIGNED_OUT"
	EventTokenRefreshed       AuthChangeEvent = "TOKEN_REFRESHED"
	EventUserUpdated          AuthChangeEvent = "USER_UPDATED"
	EventPasswordRecovery     AuthChangeEvent = "PASSWORD_RECOVERY"
	EventMFAChallengeVerified AuthChangeEvent = "MFA_CHALLENGE_VERIFIED"
)

// AuthStateListener receives auth events. session is nil after sign-out.
// Listeners run on the goroutine that caused the change and must not block.
type AuthStateListener func(event AuthChangeEvent, session *Session)

// Subscription is returned by OnAuthStateChange.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// AuthClient wraps the auth API and owns the current session.
type AuthClient struct {
	c          *Client
	storage    SessionStorage
	storageKey string
	now        func() time.Time

	mu      sync.RWMutex
	session *Session
	loaded  bool

	// refreshMu serialises token refreshes so concurrent callers share one.
	refreshMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[uint64]AuthStateListener
	nextSub uint64
}

func newAuthClient(c *Client, storage SessionStorage, key string, now func() time.Time) *AuthClient {
	return &AuthClient{
		c:          c,
		storage:    storage,
		storageKey: key,
		now:        now,
		subs:       make(map[uint64]AuthStateListener),
	}
}

// OnAuthStateChange registers fn. An EventInitialSession carrying the
// restored session (or nil) is delivered asynchronously right after
// registration.
func (a *AuthClient) OnAuthStateChange(fn AuthStateListener) *Subscription {
	a.subsMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subsMu.Unlock()

	sub := &Subscription{cancel: func() {
		a.subsMu.Lock()
		delete(a.subs, id)
		a.subsMu.Unlock()
	}}

	go func() {
		a.ensureLoaded(context.Background())

		a.subsMu.Lock()
		_, live := a.subs[id]
		a.subsMu.Unlock()
		if live {
			fn(EventInitialSession, a.current())
		}
	}()

	return sub
}

func (a *AuthClient) emit(ev AuthChangeEvent, s *Session) {
	a.subsMu.Lock()
	listeners := make([]AuthStateListener, 0, len(a.subs))
	for _, fn := range a.subs {
		listeners = append(listeners, fn)
	}
	a.subsMu.Unlock()

	for _, fn := range listeners {
		fn(ev, s.clone())
	}
}

// SignUp registers a new account. The returned session is nil when the
// project requires email confirmation.
func (a *AuthClient) SignUp(ctx context.Context, params SignUpParams) (*User, *Session, error) {
	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/signup", params, "")
	if err != nil {
		return nil, nil, err
	}

	var resp signUpResponse
	if err := a.c.do(req, &resp); err != nil {
		return nil, nil, err
	}

	if resp.Session != nil {
		a.setSession(ctx, resp.Session)
		a.emit(EventSignedIn, resp.Session)
	}
	return &resp.User, resp.Session.clone(), nil
}

// SignInWithPassword exchanges credentials for a session.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	s, err := a.tokenRequest(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	a.setSession(ctx, s)
	a.emit(EventSignedIn, s)
	return s.clone(), nil
}

// SignOut revokes the session server side and always clears it locally. The
// remote error, if any, is returned after the local state is gone.
func (a *AuthClient) SignOut(ctx context.Context) error {
	s := a.current()
	var remoteErr error

	if s != nil {
		req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/logout?scope=global", nil, s.AccessToken)
		if err == nil {
			err = a.c.do(req, nil)
		}
		// The session is already gone server side.
		if st := StatusOf(err); st == http.StatusUnauthorized || st == http.StatusForbidden || st == http.StatusNotFound {
			err = nil
		}
		remoteErr = err
	}

	a.clearSession(ctx)
	a.emit(EventSignedOut, nil)
	return remoteErr
}

// ResetPasswordForEmail sends a recovery email.
func (a *AuthClient) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}

	req, err := a.c.newRequest(ctx, http.MethodPost, path, map[string]string{"email": email}, "")
	if err != nil {
		return err
	}
	return a.c.do(req, nil)
}

// GetSession returns the current session, refreshing it first when the
// access token is about to expire. It returns (nil, nil) when signed out.
func (a *AuthClient) GetSession(ctx context.Context) (*Session, error) {
	a.ensureLoaded(ctx)

	s := a.current()
	if s == nil {
		return nil, nil
	}
	if !s.ExpiresWithin(a.now(), ExpiryMargin) {
		return s, nil
	}
	return a.refresh(ctx, false)
}

// RefreshSession forces a token refresh.
func (a *AuthClient) RefreshSession(ctx context.Context) (*Session, error) {
	a.ensureLoaded(ctx)
	return a.refresh(ctx, true)
}

// AccessToken returns a valid access token, or "" when signed out.
func (a *AuthClient) AccessToken(ctx context.Context) (string, error) {
	s, err := a.GetSession(ctx)
	if err != nil || s == nil {
		return "", err
	}
	return s.AccessToken, nil
}

// GetUser fetches the signed-in user from the server.
func (a *AuthClient) GetUser(ctx context.Context) (*User, error) {
	token, err := a.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := a.c.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil, token)
	if err != nil {
		return nil, err
	}

	var u User
	if err := a.c.do(req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser applies attrs to the signed-in user and refreshes the cached
// copy in the session.
func (a *AuthClient) UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error) {
	token, err := a.requireToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := a.c.newRequest(ctx, http.MethodPut, "/auth/v1/user", attrs, token)
	if err != nil {
		return nil, err
	}

	var u User
	if err := a.c.do(req, &u); err != nil {
		return nil, err
	}

	a.mu.Lock()
	var updated *Session
	if a.session != nil {
		a.session.User = u
		updated = a.session.clone()
	}
	a.mu.Unlock()

	if updated != nil {
		a.persist(ctx, updated)
		a.emit(EventUserUpdated, updated)
	}
	return &u, nil
}

func (a *AuthClient) requireToken(ctx context.Context) (string, error) {
	token, err := a.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

func (a *AuthClient) tokenRequest(ctx context.Context, grantType string, body any) (*Session, error) {
	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grantType, body, "")
	if err != nil {
		return nil, err
	}

	var s Session
	if err := a.c.do(req, &s); err != nil {
		return nil, err
	}
	s.normalise(a.now())
	return &s, nil
}

// refresh exchanges the refresh token. Without force, a caller that lost
// the race to another refresh reuses the fresh session.
func (a *AuthClient) refresh(ctx context.Context, force bool) (*Session, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	cur := a.current()
	if cur == nil {
		return nil, ErrNoSession
	}
	if !force && !cur.ExpiresWithin(a.now(), ExpiryMargin) {
		return cur, nil
	}

	next, err := a.tokenRequest(ctx, "refresh_token", map[string]string{
		"refresh_token": cur.RefreshToken,
	})
	if err != nil {
		if IsCode(err, ErrorCodeRefreshTokenNotFound, ErrorCodeRefreshTokenAlreadyUsed,
			ErrorCodeSessionNotFound, ErrorCodeInvalidGrant) {
			a.clearSession(ctx)
			a.emit(EventSignedOut, nil)
		}
		return nil, err
	}

	a.setSession(ctx, next)
	a.emit(EventTokenRefreshed, next)
	return next.clone(), nil
}

func (a *AuthClient) current() *Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session.clone()
}

func (a *AuthClient) setSession(ctx context.Context, s *Session) {
	a.mu.Lock()
	a.session = s.clone()
	a.loaded = true
	a.mu.Unlock()

	a.persist(ctx, s)
}

func (a *AuthClient) clearSession(ctx context.Context) {
	a.mu.Lock()
	a.session = nil
	a.loaded = true
	a.mu.Unlock()

	if err := a.storage.Delete(context.WithoutCancel(ctx), a.storageKey); err != nil {
		a.c.logger.Warn("baas: failed to delete stored session", "error", err)
	}
}

func (a *AuthClient) persist(ctx context.Context, s *Session) {
	b, err := json.Marshal(s)
	if err == nil {
		err = a.storage.Save(context.WithoutCancel(ctx), a.storageKey, b)
	}
	if err != nil {
		a.c.logger.Warn("baas: failed to persist session", "error", err)
	}
}

// ensureLoaded restores the session from storage once.
func (a *AuthClient) ensureLoaded(ctx context.Context) {
	a.mu.RLock()
	loaded := a.loaded
	a.mu.RUnlock()
	if loaded {
		return
	}

	raw, err := a.storage.Load(ctx, a.storageKey)
	if err != nil {
		a.c.logger.Warn("baas: failed to load stored session", "error", err)
		return
	}

	var restored *Session
	if raw != nil {
		var s Session
		if err := json.Unmarshal(raw, &s); err != nil || !s.restorable() {
			a.c.logger.Warn("baas: discarding unreadable stored session")
			_ = a.storage.Delete(ctx, a.storageKey)
		} else {
			s.normalise(a.now())
			restored = &s
		}
	}

	a.mu.Lock()
	if !a.loaded {
		a.session = restored
		a.loaded = true
	}
	a.mu.Unlock()
}

// IsNoSession reports whether err means the caller is signed out.
func IsNoSession(err error) bool {
	return errors.Is(err, ErrNoSession)
}
