package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/internal/workspace/store/drivers/sqlite"
	"github.com/aussiebroadwan/workspace/pkg/baas"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

// fakeBackend is a scriptable auth backend.
type fakeBackend struct {
	mu       sync.Mutex
	listener Listener
	unsubbed bool

	session     *domain.Session
	sessionGate chan struct{} // GetSession waits on it when set
	accounts    map[string]string
	users       map[string]domain.User
	signInCalls int
	signOutErr  error
	signUpMeta  map[string]any
	verifyCalls int
	lastUpdate  UserUpdate
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{accounts: map[string]string{}, users: map[string]domain.User{}}
}

func (f *fakeBackend) addUser(id, email, password string, md map[string]any) domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := domain.User{ID: id, Email: email, Metadata: md}
	f.accounts[email] = password
	f.users[email] = u
	return u
}

func sessionFor(u domain.User) *domain.Session {
	return &domain.Session{AccessToken: "at-" + u.ID, RefreshToken: "rt-" + u.ID, ExpiresAt: time.Now().Add(time.Hour), User: u}
}

func (f *fakeBackend) emit(ev Event, s *domain.Session) {
	f.mu.Lock()
	fn := f.listener
	f.mu.Unlock()
	if fn != nil {
		fn(ev, s)
	}
}

func (f *fakeBackend) SignUp(_ context.Context, email, password string, md map[string]any) (*domain.User, *domain.Session, error) {
	f.mu.Lock()
	f.signUpMeta = md
	f.mu.Unlock()
	u := f.addUser("id-"+email, email, password, md)
	return &u, sessionFor(u), nil
}

func (f *fakeBackend) SignIn(_ context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	f.signInCalls++
	want, ok := f.accounts[email]
	u := f.users[email]
	f.mu.Unlock()

	if !ok || want != password {
		return nil, &baas.APIError{StatusCode: 400, Code: baas.ErrorCodeInvalidCredentials, Message: "Invalid login credentials"}
	}
	s := sessionFor(u)
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	f.emit(EventSignedIn, s)
	return s, nil
}

func (f *fakeBackend) SignOut(context.Context) error {
	f.mu.Lock()
	f.session = nil
	err := f.signOutErr
	f.mu.Unlock()
	f.emit(EventSignedOut, nil)
	return err
}

func (f *fakeBackend) ResetPassword(context.Context, string) error { return nil }

func (f *fakeBackend) GetSession(ctx context.Context) (*domain.Session, error) {
	f.mu.Lock()
	gate := f.sessionGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeBackend) UpdateUser(_ context.Context, upd UserUpdate) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = upd
	if f.session == nil {
		return nil, baas.ErrNoSession
	}
	u := f.session.User
	u.Metadata = upd.Metadata
	return &u, nil
}

func (f *fakeBackend) OnAuthStateChange(fn Listener) func() {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listener = nil
		f.unsubbed = true
		f.mu.Unlock()
	}
}

func (f *fakeBackend) EnrollTOTP(context.Context, string) (*Enrollment, error) {
	return &Enrollment{FactorID: "factor-1"}, nil
}

func (f *fakeBackend) VerifyTOTP(context.Context, string, string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	s.MFAVerified = true
	f.session = &s
	return &s, nil
}

// gatedTenants blocks GetByUser for one user until released.
type gatedTenants struct {
	store.Tenants
	userID  string
	release chan struct{}
}

func (g gatedTenants) GetByUser(ctx context.Context, userID string) (domain.Tenant, error) {
	if userID == g.userID {
		<-g.release
	}
	return g.Tenants.GetByUser(ctx, userID)
}

type tenantsOverride struct {
	store.Store
	tenants store.Tenants
}

func (t tenantsOverride) Tenants() store.Tenants { return t.tenants }

type harness struct {
	backend *fakeBackend
	store   *sqlite.Store
	mgr     *Manager
}

func newHarness(t *testing.T, cfg Config, wrap func(store.Store) store.Store) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	var s store.Store = st
	if wrap != nil {
		s = wrap(st)
	}

	backend := newFakeBackend()
	tenants := &service.TenantService{Store: s}
	perms := &service.PermissionService{Store: s, AdminEmail: "boss@example.com", Logger: slogx.Discard()}
	mgr := New(backend, tenants, perms, slogx.Discard(), cfg)
	t.Cleanup(mgr.Stop)

	return &harness{backend: backend, store: st, mgr: mgr}
}

func (h *harness) createTenant(t *testing.T, userID string) domain.Tenant {
	t.Helper()
	tenant, err := h.store.Tenants().Create(context.Background(), domain.Tenant{UserID: userID, Name: userID})
	require.NoError(t, err)
	return tenant
}

func waitReady(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitReady(ctx))
}

func tenantOf(m *Manager) domain.TenantID {
	st := m.State()
	if st.Tenant == nil {
		return ""
	}
	return st.Tenant.ID
}

func TestBootstrapRestoresSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{LoadingTimeout: time.Minute}, nil)

	u := h.backend.addUser("u1", "ada@example.com", "secret", nil)
	h.backend.session = sessionFor(u)
	tenant := h.createTenant(t, "u1")

	require.True(t, h.mgr.State().Loading)
	h.mgr.Start(context.Background())
	waitReady(t, h.mgr)

	st := h.mgr.State()
	require.False(t, st.Loading)
	require.NotNil(t, st.User)
	require.Equal(t, "u1", st.User.ID)

	require.Eventually(t, func() bool { return tenantOf(h.mgr) == tenant.ID }, 2*time.Second, 5*time.Millisecond)
	id, err := h.mgr.CurrentTenant(context.Background())
	require.NoError(t, err)
	require.Equal(t, tenant.ID, id)
}

func TestBootstrapLoadingTimerWinsHungLookup(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SessionTimeout: time.Minute, LoadingTimeout: 20 * time.Millisecond}, nil)

	u := h.backend.addUser("u1", "ada@example.com", "secret", nil)
	h.backend.session = sessionFor(u)
	gate := make(chan struct{})
	h.backend.sessionGate = gate

	h.mgr.Start(context.Background())
	waitReady(t, h.mgr)

	st := h.mgr.State()
	require.False(t, st.Loading)
	require.Nil(t, st.User)

	// The late lookup result is still applied.
	close(gate)
	require.Eventually(t, func() bool { return h.mgr.State().User != nil }, 2*time.Second, 5*time.Millisecond)
	require.False(t, h.mgr.State().Loading)
}

func TestBootstrapLookupTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SessionTimeout: 10 * time.Millisecond, LoadingTimeout: time.Minute}, nil)
	h.backend.sessionGate = make(chan struct{})

	h.mgr.Start(context.Background())
	waitReady(t, h.mgr)
	require.Nil(t, h.mgr.State().User)
}

func TestSignInThrottle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{SignInBurst: 2, SignInInterval: time.Hour}, nil)
	h.backend.addUser("u1", "ada@example.com", "secret", nil)

	for range 2 {
		_, err := h.mgr.SignIn(context.Background(), "ada@example.com", "wrong")
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	_, err := h.mgr.SignIn(context.Background(), "ada@example.com", "secret")
	require.ErrorIs(t, err, domain.ErrRateLimited)
	require.Equal(t, 2, h.backend.signInCalls)

	_, err = h.mgr.SignIn(context.Background(), "not-an-email", "secret")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSignInResolvesTenantAndSweeps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	h.mgr.Start(ctx)

	h.backend.addUser("u1", "ada@example.com", "secret", nil)
	tenant := h.createTenant(t, "u1")
	_, err := h.store.Profiles().Create(ctx, domain.Profile{ID: "x", Email: "eve@example.com", Role: domain.RoleAdmin})
	require.NoError(t, err)

	st, err := h.mgr.SignIn(ctx, " ada@example.com ", "secret")
	require.NoError(t, err)
	require.NotNil(t, st.User)
	require.Equal(t, domain.RoleUser, st.Role)
	require.False(t, st.IsAdmin)
	require.False(t, st.Loading)

	require.Eventually(t, func() bool { return tenantOf(h.mgr) == tenant.ID }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		admins, err := h.store.Profiles().ListByRole(ctx, domain.RoleAdmin)
		return err == nil && len(admins) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMissingTenantKeepsUserSignedIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	h.mgr.Start(ctx)
	h.backend.addUser("u1", "ada@example.com", "secret", nil)

	_, err := h.mgr.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !h.mgr.State().TenantLoading }, 2*time.Second, 5*time.Millisecond)
	st := h.mgr.State()
	require.NotNil(t, st.User)
	require.Nil(t, st.Tenant)
	require.Contains(t, st.TenantError, domain.ErrNoTenant.Error())

	_, err = h.mgr.CurrentTenant(ctx)
	require.ErrorIs(t, err, domain.ErrNoTenant)
}

func TestSignOutClearsStateOnRemoteFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	h.mgr.Start(ctx)
	h.backend.addUser("u1", "ada@example.com", "secret", nil)
	h.createTenant(t, "u1")

	_, err := h.mgr.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tenantOf(h.mgr) != "" }, 2*time.Second, 5*time.Millisecond)

	h.backend.signOutErr = &baas.APIError{StatusCode: 500, Message: "down"}
	err = h.mgr.SignOut(ctx)
	require.ErrorIs(t, err, domain.ErrBackend)

	st := h.mgr.State()
	require.Nil(t, st.User)
	require.Nil(t, st.Tenant)
	require.False(t, h.mgr.Authenticated())
}

func TestStaleTenantResultIsDiscarded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })
	h := newHarness(t, Config{}, func(s store.Store) store.Store {
		return tenantsOverride{Store: s, tenants: gatedTenants{Tenants: s.Tenants(), userID: "a", release: release}}
	})
	t.Cleanup(unblock)
	h.mgr.Start(ctx)

	h.backend.addUser("a", "a@example.com", "secret", nil)
	h.backend.addUser("b", "b@example.com", "secret", nil)
	h.createTenant(t, "a")
	tenantB := h.createTenant(t, "b")

	_, err := h.mgr.SignIn(ctx, "a@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, h.mgr.SignOut(ctx))
	_, err = h.mgr.SignIn(ctx, "b@example.com", "secret")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tenantOf(h.mgr) == tenantB.ID }, 2*time.Second, 5*time.Millisecond)

	// User a's lookup finishes last and must not leak into b's state.
	unblock()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, tenantB.ID, tenantOf(h.mgr))
	require.Equal(t, "b", h.mgr.State().User.ID)
}

func TestCallbacksAfterStopAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{LoadingTimeout: time.Minute}, nil)
	h.mgr.Start(context.Background())
	waitReady(t, h.mgr)

	var mu sync.Mutex
	published := 0
	h.mgr.Subscribe(func(State) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	h.mgr.Stop()
	require.True(t, h.backend.unsubbed)

	// Deliver directly, as a backend racing the unsubscribe would.
	h.mgr.onAuthEvent(EventSignedIn, sessionFor(domain.User{ID: "late"}))
	require.Nil(t, h.mgr.State().User)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, published)
}

func TestSubscribeAndCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	h.backend.addUser("u1", "ada@example.com", "secret", nil)

	var mu sync.Mutex
	var states []State
	cancel := h.mgr.Subscribe(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	_, err := h.mgr.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)

	mu.Lock()
	require.NotEmpty(t, states)
	require.NotNil(t, states[len(states)-1].User)
	mu.Unlock()

	cancel()
	cancel()
	require.NoError(t, h.mgr.SignOut(ctx))

	mu.Lock()
	defer mu.Unlock()
	for _, s := range states {
		require.NotNil(t, s.User)
	}
}

func TestSignUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sanitises role and creates tenant", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{}, nil)

		res, err := h.mgr.SignUp(ctx, "ada@example.com", "secret1", map[string]any{"role": "admin", "fullName": "Ada"})
		require.NoError(t, err)
		require.NoError(t, res.TenantErr)
		require.NotNil(t, res.Tenant)
		require.Equal(t, "ada's Workspace", res.Tenant.Name)
		require.Equal(t, "user", h.backend.signUpMeta["role"])
		require.Equal(t, "Ada", h.backend.signUpMeta["fullName"])

		require.Eventually(t, func() bool { return tenantOf(h.mgr) == res.Tenant.ID }, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("tenant failure is not an auth failure", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{}, nil)
		h.createTenant(t, "id-ada@example.com")

		res, err := h.mgr.SignUp(ctx, "ada@example.com", "secret1", nil)
		require.NoError(t, err)
		require.ErrorIs(t, res.TenantErr, domain.ErrDuplicateTenant)
		require.NotNil(t, res.User)
	})

	t.Run("weak password rejected locally", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{}, nil)

		_, err := h.mgr.SignUp(ctx, "ada@example.com", "123", nil)
		require.ErrorIs(t, err, domain.ErrValidation)
		require.Nil(t, h.backend.signUpMeta)
	})
}

func TestUpdateUserDropsRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)
	h.backend.addUser("u1", "ada@example.com", "secret", nil)
	_, err := h.mgr.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)

	md := map[string]any{"role": "admin", "fullName": "Ada L"}
	user, err := h.mgr.UpdateUser(ctx, UserUpdate{Metadata: md})
	require.NoError(t, err)
	require.NotContains(t, h.backend.lastUpdate.Metadata, "role")
	require.Equal(t, "admin", md["role"])
	require.Equal(t, "Ada L", user.MetadataString("fullName"))
	require.Equal(t, domain.RoleUser, h.mgr.State().Role)
	require.Equal(t, "Ada L", h.mgr.State().User.MetadataString("fullName"))
}

func TestVerifyTOTPChecksCodeLocally(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	_, err := h.mgr.VerifyTOTP(ctx, "factor-1", "12ab56")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.mgr.VerifyTOTP(ctx, "factor-1", "123456")
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, err = h.mgr.EnrollTOTP(ctx, "phone")
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	require.Zero(t, h.backend.verifyCalls)

	h.backend.addUser("u1", "ada@example.com", "secret", nil)
	st, err := h.mgr.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	require.False(t, st.MFAVerified)

	e, err := h.mgr.EnrollTOTP(ctx, "phone")
	require.NoError(t, err)
	st, err = h.mgr.VerifyTOTP(ctx, e.FactorID, "123456")
	require.NoError(t, err)
	require.NotNil(t, st.User)
	require.True(t, st.MFAVerified)
	require.Equal(t, 1, h.backend.verifyCalls)
}

func TestClaimAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, Config{}, nil)

	_, err := h.mgr.ClaimAdmin(ctx)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	h.backend.addUser("boss", "BOSS@example.com", "secret", map[string]any{"role": "admin"})
	st, err := h.mgr.SignIn(ctx, "BOSS@example.com", "secret")
	require.NoError(t, err)
	require.True(t, st.IsAdmin)
	require.True(t, st.IsDesignatedAdmin)

	res, err := h.mgr.ClaimAdmin(ctx)
	require.NoError(t, err)
	require.True(t, res.Created)
}
