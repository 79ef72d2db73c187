package rest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/baas"
	"github.com/aussiebroadwan/workspace/pkg/baas/baastest"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

func newSignedInStore(t *testing.T) (*Store, *baastest.Server, string) {
	t.Helper()

	srv := baastest.NewServer(t)
	userID := srv.CreateUser("ada@example.com", "hunter22", nil)

	client := srv.Client(baas.WithLogger(slogx.Discard()))
	_, err := client.Auth.SignInWithPassword(context.Background(), "ada@example.com", "hunter22")
	require.NoError(t, err)

	return NewStore(client), srv, userID
}

func TestTenants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, userID := newSignedInStore(t)

	_, err := s.Tenants().GetByUser(ctx, userID)
	require.ErrorIs(t, err, store.ErrNotFound)

	created, err := s.Tenants().Create(ctx, domain.Tenant{UserID: userID, Name: domain.WorkspaceName("ada@example.com")})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "ada's Workspace", created.Name)
	require.NotNil(t, created.Settings)

	_, err = s.Tenants().Create(ctx, domain.Tenant{UserID: userID, Name: "again"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.Tenants().GetByUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	later := time.Now().Add(time.Minute)
	updated, err := s.Tenants().UpdateSettings(ctx, created.ID, map[string]any{"theme": "dark"}, later)
	require.NoError(t, err)
	require.Equal(t, "dark", updated.Settings["theme"])
	require.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	_, err = s.Tenants().GetByUser(ctx, "not-a-uuid")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCollectionTenantScoping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, srv, _ := newSignedInStore(t)

	mine := domain.TenantID(uuid.NewString())
	theirs := domain.TenantID(uuid.NewString())
	now := time.Now()

	srv.Seed("tasks", map[string]any{"tenant_id": theirs.String(), "title": "secret", "status": "pending", "priority": "low"})
	foreign := srv.Rows("tasks")[0]["id"].(string)

	first, err := s.Tasks().Create(ctx, mine, domain.TaskInput{Title: "first"}.Draft(mine, now))
	require.NoError(t, err)
	second, err := s.Tasks().Create(ctx, mine, domain.TaskInput{Title: "second", Status: domain.TaskCompleted}.Draft(mine, now))
	require.NoError(t, err)
	require.NotNil(t, second.CompletedAt)
	require.Nil(t, first.CompletedAt)

	t.Run("list is newest first and scoped", func(t *testing.T) {
		tasks, err := s.Tasks().List(ctx, mine, store.ListOptions{})
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		require.Equal(t, second.ID, tasks[0].ID)
		for _, task := range tasks {
			require.Equal(t, mine, task.TenantID)
		}
	})

	t.Run("list by status", func(t *testing.T) {
		tasks, err := s.Tasks().List(ctx, mine, store.ListOptions{Eq: map[string]string{"status": "completed"}})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		require.Equal(t, second.ID, tasks[0].ID)
	})

	t.Run("foreign rows cannot be updated or deleted", func(t *testing.T) {
		_, err := s.Tasks().Update(ctx, mine, foreign, map[string]any{"title": "pwned"})
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.Tasks().Delete(ctx, mine, foreign))
		require.Len(t, srv.Rows("tasks"), 3)
		require.Equal(t, "secret", srv.Rows("tasks")[0]["title"])
	})

	t.Run("update applies columns", func(t *testing.T) {
		pending := domain.TaskPending
		got, err := s.Tasks().Update(ctx, mine, second.ID, domain.TaskPatch{Status: &pending}.Columns(time.Now()))
		require.NoError(t, err)
		require.Equal(t, domain.TaskPending, got.Status)
		require.Nil(t, got.CompletedAt)
	})

	t.Run("malformed ids", func(t *testing.T) {
		_, err := s.Tasks().Update(ctx, mine, "nope", map[string]any{"title": "x"})
		require.ErrorIs(t, err, store.ErrNotFound)
		require.NoError(t, s.Tasks().Delete(ctx, mine, "nope"))
	})

	t.Run("empty tenant", func(t *testing.T) {
		_, err := s.Tasks().List(ctx, "", store.ListOptions{})
		require.ErrorIs(t, err, domain.ErrNoTenant)
	})

	t.Run("delete all only touches own tenant", func(t *testing.T) {
		require.NoError(t, s.Tasks().DeleteAll(ctx, mine))
		rows := srv.Rows("tasks")
		require.Len(t, rows, 1)
		require.Equal(t, theirs.String(), rows[0]["tenant_id"])
	})
}

func TestCollectionOrderingAndLimits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, _ := newSignedInStore(t)
	tenant := domain.TenantID(uuid.NewString())

	for _, content := range []string{"one", "two", "three"} {
		_, err := s.ChatMessages().Create(ctx, tenant, domain.ChatInput{Role: domain.ChatUser, Content: content}.Draft(tenant))
		require.NoError(t, err)
	}

	msgs, err := s.ChatMessages().List(ctx, tenant, store.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, "one", msgs[0].Content)
	require.Equal(t, "three", msgs[2].Content)

	base := time.Now().Add(-time.Hour)
	for i := range 12 {
		started := base.Add(time.Duration(i) * time.Minute)
		_, err := s.PomodoroSessions().Create(ctx, tenant, domain.PomodoroInput{StartedAt: &started, Duration: 25}.Draft(tenant, time.Now()))
		require.NoError(t, err)
	}

	sessions, err := s.PomodoroSessions().List(ctx, tenant, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, sessions, 10)
	require.True(t, sessions[0].StartedAt.After(sessions[1].StartedAt))

	all, err := s.PomodoroSessions().List(ctx, tenant, store.ListOptions{Limit: -1})
	require.NoError(t, err)
	require.Len(t, all, 12)
}

func TestProfiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, userID := newSignedInStore(t)

	_, err := s.Profiles().Get(ctx, userID)
	require.ErrorIs(t, err, store.ErrNotFound)

	p, err := s.Profiles().Create(ctx, domain.Profile{ID: userID, Email: "ada@example.com", FullName: "Ada", Role: domain.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, p.Role)

	_, err = s.Profiles().Create(ctx, domain.Profile{ID: userID, Email: "ada@example.com", Role: domain.RoleUser})
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	admins, err := s.Profiles().ListByRole(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, admins, 1)

	p, err = s.Profiles().UpdateRole(ctx, userID, domain.RoleUser, time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, p.Role)

	admins, err = s.Profiles().ListByRole(ctx, domain.RoleAdmin)
	require.NoError(t, err)
	require.Empty(t, admins)
}

func TestSignedOutCallsAreUnauthenticated(t *testing.T) {
	t.Parallel()

	srv := baastest.NewServer(t)
	s := NewStore(srv.Client(baas.WithLogger(slogx.Discard())))

	_, err := s.Tasks().List(context.Background(), domain.TenantID(uuid.NewString()), store.ListOptions{})
	require.Error(t, err)
	require.Equal(t, 401, baas.StatusOf(err))

	require.NoError(t, s.Ping(context.Background()))
}
