package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
	"github.com/aussiebroadwan/workspace/internal/workspace/session"
	"github.com/aussiebroadwan/workspace/internal/workspace/state"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/internal/workspace/store/drivers/rest"
	"github.com/aussiebroadwan/workspace/internal/workspace/store/drivers/sqlite"
	"github.com/aussiebroadwan/workspace/pkg/baas/baastest"
	"github.com/aussiebroadwan/workspace/pkg/httpx"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

func services(st store.Store, local *sqlite.Store, tenants service.TenantSource) (state.Services, *service.PomodoroService) {
	pomodoro := &service.PomodoroService{Store: st, Tenants: tenants, Settings: local, Logger: slogx.Discard()}
	return state.Services{
		Tasks:    &service.TaskService{Store: st, Tenants: tenants},
		Notes:    &service.NoteService{Store: st, Tenants: tenants},
		Pomodoro: pomodoro,
		Chat:     &service.ChatService{Store: st, Tenants: tenants},
		Stats:    &service.StatsService{Store: st, Tenants: tenants},
	}, pomodoro
}

func newLocalStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())
	return s
}

func newOfflineRouter(t *testing.T) *Router {
	t.Helper()

	local := newLocalStore(t)
	svc, pomodoro := services(local, local, service.StaticTenant(domain.LocalTenant))

	r := NewRouter("test", slogx.Discard())
	r.State = state.NewStore(svc, slogx.Discard())
	r.Pomodoro = pomodoro
	r.Storage = local
	r.ApplyRoutes()
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestOfflineTaskLifecycle(t *testing.T) {
	t.Parallel()
	r := newOfflineRouter(t)

	rec := do(t, r, http.MethodPost, "/v1/tasks", map[string]any{"title": "buy milk", "priority": "high"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decodeBody[domain.Task](t, rec)
	require.Equal(t, domain.TaskPending, task.Status)
	require.Equal(t, domain.LocalTenant, task.TenantID)

	rec = do(t, r, http.MethodPatch, "/v1/tasks/"+task.ID, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, decodeBody[domain.Task](t, rec).CompletedAt)

	rec = do(t, r, http.MethodGet, "/v1/tasks?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]domain.Task](t, rec), 1)

	rec = do(t, r, http.MethodGet, "/v1/tasks?status=pending", nil)
	require.Empty(t, decodeBody[[]domain.Task](t, rec))

	// A filtered query does not replace the cached task list.
	rec = do(t, r, http.MethodGet, "/v1/state", nil)
	snap := decodeBody[state.State](t, rec)
	require.Len(t, snap.Tasks.Data, 1)
	require.False(t, snap.Tasks.Loading)

	rec = do(t, r, http.MethodDelete, "/v1/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, decodeBody[domain.Stats](t, rec).Tasks.Total)
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()
	r := newOfflineRouter(t)

	t.Run("field details", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/tasks", map[string]any{"priority": "urgent"})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decodeBody[httpx.ErrorResponse](t, rec)
		require.Equal(t, domain.ErrValidation.Error(), resp.Error)
		require.Contains(t, resp.Details, "title")
		require.Contains(t, resp.Details, "priority")
	})

	t.Run("unknown fields", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/v1/notes", map[string]any{"title": "x", "tenant_id": "someone-else"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown status filter", func(t *testing.T) {
		rec := do(t, r, http.MethodGet, "/v1/tasks?status=done", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update of a missing row", func(t *testing.T) {
		rec := do(t, r, http.MethodPatch, "/v1/notes/missing", map[string]any{"title": "x"})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestChatAndPomodoroRoutes(t *testing.T) {
	t.Parallel()
	r := newOfflineRouter(t)

	for _, content := range []string{"hello", "hi there"} {
		rec := do(t, r, http.MethodPost, "/v1/chat/messages", map[string]any{"role": "user", "content": content})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	msgs := decodeBody[[]domain.ChatMessage](t, do(t, r, http.MethodGet, "/v1/chat/messages", nil))
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[0].Content)

	require.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/v1/chat/messages", nil).Code)
	require.Empty(t, decodeBody[[]domain.ChatMessage](t, do(t, r, http.MethodGet, "/v1/chat/messages", nil)))

	rec := do(t, r, http.MethodPost, "/v1/pomodoro/sessions", map[string]any{"duration": 25})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decodeBody[domain.PomodoroSession](t, rec)

	rec = do(t, r, http.MethodPost, "/v1/pomodoro/sessions/"+session.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decodeBody[domain.PomodoroSession](t, rec).Completed)

	timer := decodeBody[service.TimerState](t, do(t, r, http.MethodGet, "/v1/pomodoro/timer", nil))
	require.Equal(t, 1, timer.Completed)

	rec = do(t, r, http.MethodPut, "/v1/pomodoro/settings", map[string]any{
		"workTime": 50, "shortBreakTime": 10, "longBreakTime": 30, "longBreakInterval": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decodeBody[domain.PomodoroSettings](t, do(t, r, http.MethodGet, "/v1/pomodoro/settings", nil))
	require.Equal(t, 50, settings.WorkTime)

	rec = do(t, r, http.MethodPut, "/v1/pomodoro/settings", map[string]any{
		"workTime": 0, "shortBreakTime": 10, "longBreakTime": 30, "longBreakInterval": 2,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSAndMethodPolicy(t *testing.T) {
	t.Parallel()
	r := newOfflineRouter(t)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/v1/tasks", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := do(t, r, http.MethodPut, "/v1/tasks", nil)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("remote-only routes are absent offline", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/v1/session", nil).Code)
		require.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/v1/admin/permissions", nil).Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	r := newOfflineRouter(t)

	rec := do(t, r, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "test", decodeBody[HealthResponse](t, rec).Version)

	rec = do(t, r, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Checks.Storage)

	rec = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "workspace_http_requests_total")
}

func TestRemoteGateway(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := baastest.NewServer(t)
	client := srv.Client()
	remote := rest.NewStore(client)
	local := newLocalStore(t)

	tenants := &service.TenantService{Store: remote}
	perms := &service.PermissionService{Store: remote, AdminEmail: "boss@example.com", Logger: slogx.Discard()}
	m := session.New(session.NewBackend(client.Auth, ""), tenants, perms, slogx.Discard(), session.Config{})
	t.Cleanup(m.Stop)
	m.Start(ctx)
	require.NoError(t, m.WaitReady(ctx))

	svc, pomodoro := services(remote, local, m)
	r := NewRouter("test", slogx.Discard())
	r.Session = m
	r.State = state.NewStore(svc, slogx.Discard())
	r.Tenants = tenants
	r.Permissions = perms
	r.Pomodoro = pomodoro
	r.Storage = local
	r.ApplyRoutes()

	require.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/v1/tasks", nil).Code)

	rec := do(t, r, http.MethodPost, "/v1/session/sign-up", map[string]any{
		"email": "ada@example.com", "password": "secret1", "profile": map[string]any{"role": "admin"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	signup := decodeBody[SignUpResponse](t, rec)
	require.NotNil(t, signup.Tenant)
	require.Empty(t, signup.TenantError)

	st := decodeBody[session.State](t, do(t, r, http.MethodGet, "/v1/session", nil))
	require.Equal(t, "ada@example.com", st.User.Email)
	require.Equal(t, domain.RoleUser, st.Role)

	rec = do(t, r, http.MethodPost, "/v1/tasks", map[string]any{"title": "ship it"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, signup.Tenant.ID, decodeBody[domain.Task](t, rec).TenantID)

	rec = do(t, r, http.MethodPatch, "/v1/tenant/settings", map[string]any{"theme": "dark"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "dark", decodeBody[domain.Tenant](t, rec).Settings["theme"])

	require.Equal(t, http.StatusForbidden, do(t, r, http.MethodGet, "/v1/admin/permissions", nil).Code)
	require.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/v1/session/claim-admin", nil).Code)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/v1/admin/security-check", nil).Code)

	rec = do(t, r, http.MethodPost, "/v1/session/mfa/totp/verify", map[string]any{"factor_id": "f", "code": "12ab"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusNoContent, do(t, r, http.MethodPost, "/v1/session/sign-out", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/v1/tasks", nil).Code)

	rec = do(t, r, http.MethodPost, "/v1/session/sign-in", map[string]any{"email": "ada@example.com", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, domain.ErrInvalidCredentials.Error(), decodeBody[httpx.ErrorResponse](t, rec).Error)

	rec = do(t, r, http.MethodPost, "/v1/session/sign-in", map[string]any{"email": "ada@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool {
		return m.State().Tenant != nil && m.State().Tenant.ID == signup.Tenant.ID
	}, 2*time.Second, 5*time.Millisecond)

	tasks := decodeBody[[]domain.Task](t, do(t, r, http.MethodGet, "/v1/tasks", nil))
	require.Len(t, tasks, 1)

	t.Run("designated admin reaches admin routes", func(t *testing.T) {
		require.Equal(t, http.StatusNoContent, do(t, r, http.MethodPost, "/v1/session/sign-out", nil).Code)
		rec := do(t, r, http.MethodPost, "/v1/session/sign-up", map[string]any{
			"email": "boss@example.com", "password": "secret1",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		st := decodeBody[session.State](t, do(t, r, http.MethodGet, "/v1/session", nil))
		require.Equal(t, domain.RoleUser, st.Role)
		require.True(t, st.IsDesignatedAdmin)

		rec = do(t, r, http.MethodGet, "/v1/admin/permissions", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		report := decodeBody[service.PermissionReport](t, rec)
		require.True(t, report.CurrentUser.IsDesignatedAdmin)
		require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/v1/admin/sweep", nil).Code)
	})
}
