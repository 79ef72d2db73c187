// Package session owns the signed-in user, their tenant and their role. It
// bootstraps the session on start, follows auth events from the backend and
// republishes the combined state to subscribers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/metrics"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
)

const (
	DefaultSessionTimeout = 1500 * time.Millisecond
	DefaultLoadingTimeout = 2 * time.Second
	DefaultTenantTimeout  = 10 * time.Second
	DefaultSignInBurst    = 5
	DefaultSignInInterval = 10 * time.Second
)

// Config tunes the manager. Zero values take the defaults above.
type Config struct {
	// SessionTimeout bounds the bootstrap session lookup.
	SessionTimeout time.Duration

	// LoadingTimeout clears the loading flag even if the lookup hangs.
	LoadingTimeout time.Duration

	TenantTimeout time.Duration

	// SignInBurst attempts are allowed at once, refilled one per
	// SignInInterval.
	SignInBurst    int
	SignInInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.LoadingTimeout <= 0 {
		c.LoadingTimeout = DefaultLoadingTimeout
	}
	if c.TenantTimeout <= 0 {
		c.TenantTimeout = DefaultTenantTimeout
	}
	if c.SignInBurst <= 0 {
		c.SignInBurst = DefaultSignInBurst
	}
	if c.SignInInterval <= 0 {
		c.SignInInterval = DefaultSignInInterval
	}
	return c
}

// State is the published session state. Values are snapshots; the pointers
// are never mutated after publication.
type State struct {
	User              *domain.User   `json:"user"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty"`
	Tenant            *domain.Tenant `json:"tenant"`
	Role              domain.Role    `json:"role"`
	IsAdmin           bool           `json:"is_admin"`
	IsDesignatedAdmin bool           `json:"is_designated_admin"`
	Loading           bool           `json:"loading"`
	TenantLoading     bool           `json:"tenant_loading"`
	TenantError       string         `json:"tenant_error,omitempty"`
	MFAVerified       bool           `json:"mfa_verified"`

	// Generation changes whenever the signed-in user changes.
	Generation uint64 `json:"generation"`
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool { return s.User != nil }

// SignUpResult is the outcome of a successful registration. A tenant
// creation failure is reported in TenantErr; the account still exists.
type SignUpResult struct {
	User                 *domain.User   `json:"user"`
	Tenant               *domain.Tenant `json:"tenant,omitempty"`
	ConfirmationRequired bool           `json:"confirmation_required"`
	TenantErr            error          `json:"-"`
}

type Manager struct {
	backend Backend
	tenants *service.TenantService
	perms   *service.PermissionService
	logger  *slog.Logger
	cfg     Config
	limiter *rate.Limiter

	// ctx scopes background work and is cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready *cell[string]

	// pubMu orders publications so subscribers see changes in order.
	pubMu sync.Mutex

	mu        sync.Mutex
	state     State
	alive     bool
	started   bool
	unsub     func()
	applied   uint64 // session applications, to spot stale bootstrap results
	resolving uint64 // generation with a tenant lookup in flight
	subs      map[uint64]func(State)
	nextSub   uint64
}

func New(backend Backend, tenants *service.TenantService, perms *service.PermissionService, logger *slog.Logger, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		backend: backend,
		tenants: tenants,
		perms:   perms,
		logger:  logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SignInInterval), cfg.SignInBurst),
		ctx:     ctx,
		cancel:  cancel,
		ready:   newCell[string](),
		state:   State{Loading: true, Role: domain.RoleUser},
		alive:   true,
		subs:    make(map[uint64]func(State)),
	}
}

// Start subscribes to auth events and races the stored session lookup
// against the loading timer. It does not block; use WaitReady.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if !m.alive || m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	applied := m.applied
	m.wg.Add(2)
	m.mu.Unlock()

	unsub := m.backend.OnAuthStateChange(m.onAuthEvent)
	m.mu.Lock()
	m.unsub = unsub
	stopped := !m.alive
	m.mu.Unlock()
	if stopped {
		unsub()
	}

	go func() {
		defer m.wg.Done()

		lookupCtx, cancel := context.WithTimeout(m.ctx, m.cfg.SessionTimeout)
		defer cancel()

		s, err := m.backend.GetSession(lookupCtx)
		if err != nil {
			m.logger.WarnContext(ctx, "session lookup failed", "error", err)
		} else {
			m.apply(s, &applied)
		}
		m.markReady("session")
	}()

	go func() {
		defer m.wg.Done()

		t := time.NewTimer(m.cfg.LoadingTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			m.markReady("timer")
		case <-m.ctx.Done():
		}
	}()
}

// WaitReady blocks until the loading phase is over.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unsubscribes from the backend and waits for background work. Late
// callbacks become no-ops.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.alive = false
	unsub := m.unsub
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.cancel()
	m.wg.Wait()
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authenticated reports whether a user is signed in.
func (m *Manager) Authenticated() bool {
	return m.State().Authenticated()
}

// CurrentTenant implements service.TenantSource.
func (m *Manager) CurrentTenant(context.Context) (domain.TenantID, error) {
	st := m.State()
	if st.Tenant == nil {
		return "", domain.ErrNoTenant
	}
	return st.Tenant.ID, nil
}

// Subscribe calls fn with every published state, in publication order.
// fn runs synchronously and must not call back into the manager's
// mutating methods.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registration struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// SignUp registers an account with sanitised profile metadata and creates
// its tenant.
func (m *Manager) SignUp(ctx context.Context, email, password string, profile map[string]any) (SignUpResult, error) {
	email = strings.TrimSpace(email)
	if err := service.Validate(registration{Email: email, Password: password}); err != nil {
		return SignUpResult{}, err
	}

	reg := m.perms.ValidateRegistration(profile)
	if reg.Message != "" {
		m.logger.WarnContext(ctx, "sign-up metadata sanitised", "email", email, "reason", reg.Message)
	}

	user, s, err := m.backend.SignUp(ctx, email, password, reg.Sanitized)
	if err != nil {
		return SignUpResult{}, service.TranslateAuthError(err)
	}

	res := SignUpResult{User: user, ConfirmationRequired: s == nil}
	if s != nil {
		m.applySession(s)
		m.markReady("sign_up")
	}

	tenant, err := m.tenants.CreateTenant(ctx, user)
	if err != nil {
		m.logger.ErrorContext(ctx, "tenant creation failed", "user_id", user.ID, "error", err)
		res.TenantErr = err
		return res, nil
	}
	res.Tenant = &tenant
	m.setTenant(user.ID, tenant)
	return res, nil
}

// SignIn authenticates with email and password. Attempts beyond the local
// throttle fail with domain.ErrRateLimited without reaching the backend.
func (m *Manager) SignIn(ctx context.Context, email, password string) (State, error) {
	email = strings.TrimSpace(email)
	if err := service.Validate(credentials{Email: email, Password: password}); err != nil {
		return State{}, err
	}
	if !m.limiter.Allow() {
		return State{}, fmt.Errorf("%w: too many sign-in attempts", domain.ErrRateLimited)
	}

	s, err := m.backend.SignIn(ctx, email, password)
	if err != nil {
		return State{}, service.TranslateAuthError(err)
	}

	m.applySession(s)
	m.markReady("sign_in")
	m.sweep()
	return m.State(), nil
}

// SignOut ends the session. Local state is cleared even when the backend
// call fails; that failure is still returned.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.backend.SignOut(ctx)
	m.applySession(nil)
	if err != nil {
		m.logger.WarnContext(ctx, "remote sign-out failed", "error", err)
		return service.TranslateAuthError(err)
	}
	return nil
}

// ResetPassword sends a password recovery email.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := service.Validate(struct {
		Email string `json:"email" validate:"required,email"`
	}{email}); err != nil {
		return err
	}
	return service.TranslateAuthError(m.backend.ResetPassword(ctx, email))
}

// UpdateUser changes the signed-in account. The role is not user-editable:
// a role key in the metadata is dropped.
func (m *Manager) UpdateUser(ctx context.Context, update UserUpdate) (*domain.User, error) {
	if err := service.Validate(update); err != nil {
		return nil, err
	}
	if _, ok := update.Metadata["role"]; ok {
		update.Metadata = maps.Clone(update.Metadata)
		delete(update.Metadata, "role")
		m.logger.WarnContext(ctx, "ignored role change in profile update")
	}

	user, err := m.backend.UpdateUser(ctx, update)
	if err != nil {
		return nil, service.TranslateAuthError(err)
	}

	m.update(func(st *State) bool {
		if st.User == nil || st.User.ID != user.ID {
			return false
		}
		st.User = user
		m.setRole(st)
		return true
	})
	return user, nil
}

// ClaimAdmin grants the admin role to the signed-in user when they are the
// designated admin.
func (m *Manager) ClaimAdmin(ctx context.Context) (service.ClaimResult, error) {
	return m.perms.ClaimAdmin(ctx, m.State().User)
}

// EnrollTOTP starts enrolling an authenticator app for the signed-in user.
func (m *Manager) EnrollTOTP(ctx context.Context, friendlyName string) (*Enrollment, error) {
	if !m.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	e, err := m.backend.EnrollTOTP(ctx, friendlyName)
	if err != nil {
		return nil, service.TranslateAuthError(err)
	}
	return e, nil
}

type totpCode struct {
	FactorID string `json:"factor_id" validate:"required"`
	Code     string `json:"code" validate:"required,len=6,numeric"`
}

// VerifyTOTP confirms a factor with a code from the authenticator app. The
// code format is checked before any network call.
func (m *Manager) VerifyTOTP(ctx context.Context, factorID, code string) (State, error) {
	code = strings.TrimSpace(code)
	if err := service.Validate(totpCode{FactorID: factorID, Code: code}); err != nil {
		return State{}, err
	}
	if !m.Authenticated() {
		return State{}, domain.ErrNotAuthenticated
	}

	s, err := m.backend.VerifyTOTP(ctx, factorID, code)
	if err != nil {
		return State{}, service.TranslateAuthError(err)
	}
	m.applySession(s)
	return m.State(), nil
}

func (m *Manager) onAuthEvent(ev Event, s *domain.Session) {
	m.logger.Debug("auth event", "event", ev)
	metrics.AuthEventsTotal.WithLabelValues(string(ev)).Inc()
	if ev == EventSignedOut {
		s = nil
	}
	m.applySession(s)
	m.markReady(string(ev))
}

// applySession makes s the current session. A different user starts a new
// generation and drops the tenant; a signed-in user without a tenant gets
// an asynchronous tenant lookup.
func (m *Manager) applySession(s *domain.Session) {
	m.apply(s, nil)
}

// apply is applySession guarded by ifApplied: when set, s is dropped if any
// session was applied since that count was taken.
func (m *Manager) apply(s *domain.Session, ifApplied *uint64) {
	var (
		lookup *domain.User
		gen    uint64
	)

	m.update(func(st *State) bool {
		if ifApplied != nil && *ifApplied != m.applied {
			return false
		}
		m.applied++

		var user *domain.User
		st.ExpiresAt = nil
		st.MFAVerified = false
		if s != nil {
			u := s.User
			user = &u
			exp := s.ExpiresAt
			st.ExpiresAt = &exp
			st.MFAVerified = s.MFAVerified
		}

		if userID(st.User) != userID(user) {
			st.Generation++
			st.Tenant = nil
			st.TenantError = ""
			st.TenantLoading = false
		}
		st.User = user
		m.setRole(st)

		if user != nil && st.Tenant == nil && m.resolving != st.Generation {
			m.resolving = st.Generation
			st.TenantLoading = true
			lookup, gen = user, st.Generation
			m.wg.Add(1)
		}
		return true
	})

	if lookup != nil {
		go m.resolveTenant(gen, lookup)
	}
}

func (m *Manager) resolveTenant(gen uint64, user *domain.User) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.TenantTimeout)
	defer cancel()

	tenant, err := m.tenants.GetCurrentTenant(ctx, user)

	m.update(func(st *State) bool {
		if st.Generation != gen {
			return false
		}
		if m.resolving == gen {
			m.resolving = 0
		}
		st.TenantLoading = false
		if err != nil {
			m.logger.Warn("tenant resolution failed", "user_id", user.ID, "error", err)
			if st.Tenant == nil {
				st.TenantError = err.Error()
			}
			return true
		}
		st.Tenant = &tenant
		st.TenantError = ""
		return true
	})
}

// setTenant installs a tenant created for userID if that user is still
// signed in.
func (m *Manager) setTenant(userID string, t domain.Tenant) {
	m.update(func(st *State) bool {
		if st.User == nil || st.User.ID != userID {
			return false
		}
		st.Tenant = &t
		st.TenantError = ""
		return true
	})
}

// sweep runs the admin security sweep in the background.
func (m *Manager) sweep() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		report, err := m.perms.EnforceAdminSecurity(m.ctx)
		if err != nil {
			m.logger.Error("admin security sweep failed", "error", err)
			return
		}
		if len(report.Downgraded) > 0 {
			m.logger.Warn("unauthorized admins downgraded", "emails", report.Downgraded)
		}
	}()
}

func (m *Manager) markReady(source string) {
	if !m.ready.Put(source) {
		return
	}
	m.update(func(st *State) bool {
		st.Loading = false
		return true
	})
	m.logger.Debug("session ready", "source", source)
}

// update mutates the state under the lock and publishes the result when fn
// reports a change. It is a no-op once the manager is stopped.
func (m *Manager) update(fn func(*State) bool) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if !m.alive || !fn(&m.state) {
		m.mu.Unlock()
		return
	}
	snap := m.state
	subs := slices.Collect(maps.Values(m.subs))
	m.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Manager) setRole(st *State) {
	st.Role = m.perms.UserRole(st.User)
	st.IsAdmin = st.Role == domain.RoleAdmin
	st.IsDesignatedAdmin = m.perms.IsDesignatedAdmin(st.User)
}

func userID(u *domain.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
