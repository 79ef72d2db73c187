//go:build e2e

package workspace_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	httpapi "github.com/aussiebroadwan/workspace/internal/workspace/http"
	"github.com/aussiebroadwan/workspace/internal/workspace/state"
)

// TestHealthEndpoints verifies both probes on a fresh offline gateway.
func TestHealthEndpoints(t *testing.T) {
	baseURL := setupGateway(t, nil)

	var live httpapi.HealthResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, baseURL+"/livez", nil, &live))
	require.Equal(t, "ok", live.Status)

	var ready httpapi.HealthResponse
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, baseURL+"/readyz", nil, &ready))
	require.Equal(t, "ok", ready.Status)
	require.NotNil(t, ready.Checks)

	// Session routes only exist against a BaaS backend.
	require.Equal(t, http.StatusNotFound, call(t, http.MethodGet, baseURL+"/v1/session", nil, nil))
}

// TestOfflineWorkspace drives every data route through the container.
func TestOfflineWorkspace(t *testing.T) {
	baseURL := setupGateway(t, nil)

	var task domain.Task
	require.Equal(t, http.StatusCreated,
		call(t, http.MethodPost, baseURL+"/v1/tasks", map[string]any{"title": "write release notes", "priority": "high"}, &task))
	require.Equal(t, domain.LocalTenant, task.TenantID)
	require.Equal(t, domain.TaskPending, task.Status)

	require.Equal(t, http.StatusOK,
		call(t, http.MethodPatch, baseURL+"/v1/tasks/"+task.ID, map[string]any{"status": "completed"}, &task))
	require.Equal(t, domain.TaskCompleted, task.Status)

	require.Equal(t, http.StatusBadRequest,
		call(t, http.MethodPost, baseURL+"/v1/tasks", map[string]any{"title": ""}, nil))

	var note domain.Note
	require.Equal(t, http.StatusCreated,
		call(t, http.MethodPost, baseURL+"/v1/notes", map[string]any{"title": "standup", "content": "- shipped"}, &note))

	var pomodoro domain.PomodoroSession
	require.Equal(t, http.StatusCreated,
		call(t, http.MethodPost, baseURL+"/v1/pomodoro/sessions", map[string]any{"duration": 25}, &pomodoro))
	require.Equal(t, http.StatusOK,
		call(t, http.MethodPost, baseURL+"/v1/pomodoro/sessions/"+pomodoro.ID+"/complete", nil, &pomodoro))
	require.True(t, pomodoro.Completed)

	for _, content := range []string{"hello", "hi there"} {
		require.Equal(t, http.StatusCreated,
			call(t, http.MethodPost, baseURL+"/v1/chat/messages", map[string]any{"role": "user", "content": content}, nil))
	}

	var snap state.State
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, baseURL+"/v1/state", nil, &snap))
	require.Len(t, snap.Tasks.Data, 1)
	require.Len(t, snap.Notes.Data, 1)
	require.Len(t, snap.PomodoroSessions.Data, 1)
	require.Len(t, snap.ChatMessages.Data, 2)

	var stats domain.Stats
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, baseURL+"/v1/stats", nil, &stats))
	require.Equal(t, 1, stats.Tasks.Total)
	require.Equal(t, 1, stats.Tasks.Completed)
	require.Equal(t, 1, stats.Notes.Total)

	require.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, baseURL+"/v1/chat/messages", nil, nil))
	require.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, baseURL+"/v1/notes/"+note.ID, nil, nil))

	var notes []domain.Note
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, baseURL+"/v1/notes", nil, &notes))
	require.Empty(t, notes)

	var chat []domain.ChatMessage
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, baseURL+"/v1/chat/messages", nil, &chat))
	require.Empty(t, chat)
}

// TestMetricsExposed checks that request counters reach the scrape endpoint.
func TestMetricsExposed(t *testing.T) {
	baseURL := setupGateway(t, nil)

	require.Equal(t, http.StatusOK, call(t, http.MethodGet, baseURL+"/v1/tasks", nil, nil))

	resp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
