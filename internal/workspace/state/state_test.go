package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/internal/workspace/store/drivers/sqlite"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

// switchTenant is a tenant source the test can repoint or hold.
type switchTenant struct {
	id   atomic.Value
	gate atomic.Pointer[chan struct{}]
	hit  chan struct{}
}

func newSwitchTenant(id domain.TenantID) *switchTenant {
	s := &switchTenant{hit: make(chan struct{}, 16)}
	s.id.Store(id)
	return s
}

func (s *switchTenant) CurrentTenant(ctx context.Context) (domain.TenantID, error) {
	if g := s.gate.Load(); g != nil {
		s.hit <- struct{}{}
		select {
		case <-*g:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	id := s.id.Load().(domain.TenantID)
	if id == "" {
		return "", domain.ErrNoTenant
	}
	return id, nil
}

func newTestStore(t *testing.T, tenants service.TenantSource) (*Store, *sqlite.Store) {
	t.Helper()

	db, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.ApplyMigrations())

	// Rows created back to back must not share a timestamp.
	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	db.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	})

	svc := Services{
		Tasks:    &service.TaskService{Store: db, Tenants: tenants},
		Notes:    &service.NoteService{Store: db, Tenants: tenants},
		Pomodoro: &service.PomodoroService{Store: db, Tenants: tenants, Settings: db, Logger: slogx.Discard()},
		Chat:     &service.ChatService{Store: db, Tenants: tenants},
		Stats:    &service.StatsService{Store: db, Tenants: tenants},
	}
	return NewStore(svc, slogx.Discard()), db
}

func TestReduce(t *testing.T) {
	t.Parallel()

	a := domain.Task{ID: "a", Title: "first"}
	b := domain.Task{ID: "b", Title: "second"}

	t.Run("create prepends and update replaces in place", func(t *testing.T) {
		t.Parallel()

		s := Empty(0)
		s = Reduce(s, Begin{Slice: SliceTasks})
		require.True(t, s.Tasks.Loading)
		s = Reduce(s, Created[domain.Task]{Item: a})
		s = Reduce(s, Created[domain.Task]{Item: b})
		require.Equal(t, []string{"b", "a"}, ids(s.Tasks.Data))
		require.False(t, s.Tasks.Loading)

		a2 := a
		a2.Title = "renamed"
		s = Reduce(s, Updated[domain.Task]{Item: a2})
		require.Equal(t, "renamed", s.Tasks.Data[1].Title)
		require.Equal(t, []string{"b", "a"}, ids(s.Tasks.Data))
	})

	t.Run("chat appends", func(t *testing.T) {
		t.Parallel()

		s := Empty(0)
		s = Reduce(s, Created[domain.ChatMessage]{Item: domain.ChatMessage{ID: "1"}})
		s = Reduce(s, Created[domain.ChatMessage]{Item: domain.ChatMessage{ID: "2"}})
		require.Equal(t, []string{"1", "2"}, ids(s.ChatMessages.Data))

		s = Reduce(s, Cleared[domain.ChatMessage]{})
		require.Empty(t, s.ChatMessages.Data)
		require.NotNil(t, s.ChatMessages.Data)
	})

	t.Run("note update moves to the head", func(t *testing.T) {
		t.Parallel()

		s := Reduce(Empty(0), Loaded[domain.Note]{Items: []domain.Note{{ID: "b"}, {ID: "a"}}})
		s = Reduce(s, Updated[domain.Note]{Item: domain.Note{ID: "a", Title: "edited"}})
		require.Equal(t, []string{"a", "b"}, ids(s.Notes.Data))
		require.Equal(t, "edited", s.Notes.Data[0].Title)

		s = Reduce(s, Updated[domain.Note]{Item: domain.Note{ID: "missing"}})
		require.Equal(t, []string{"a", "b"}, ids(s.Notes.Data))
	})

	t.Run("create trims to the default limit", func(t *testing.T) {
		t.Parallel()

		s := Empty(0)
		for i := range store.PomodoroSessionsTable.DefaultLimit + 1 {
			s = Reduce(s, Created[domain.PomodoroSession]{Item: domain.PomodoroSession{ID: fmt.Sprintf("p%02d", i)}})
		}
		require.Len(t, s.PomodoroSessions.Data, store.PomodoroSessionsTable.DefaultLimit)
		require.Equal(t, "p10", s.PomodoroSessions.Data[0].ID)

		for i := range store.ChatMessagesTable.DefaultLimit + 1 {
			s = Reduce(s, Created[domain.ChatMessage]{Item: domain.ChatMessage{ID: fmt.Sprintf("m%02d", i)}})
		}
		require.Len(t, s.ChatMessages.Data, store.ChatMessagesTable.DefaultLimit)
		require.Equal(t, "m00", s.ChatMessages.Data[0].ID)
		require.Equal(t, "m49", s.ChatMessages.Data[len(s.ChatMessages.Data)-1].ID)
	})

	t.Run("delete of a missing row is a no-op", func(t *testing.T) {
		t.Parallel()

		s := Reduce(Empty(0), Loaded[domain.Note]{Items: []domain.Note{{ID: "n"}}})
		s = Reduce(s, Deleted[domain.Note]{ID: "missing"})
		require.Len(t, s.Notes.Data, 1)
		s = Reduce(s, Deleted[domain.Note]{ID: "n"})
		require.Empty(t, s.Notes.Data)
	})

	t.Run("errors stay in their slice", func(t *testing.T) {
		t.Parallel()

		s := Reduce(Empty(0), Begin{Slice: SliceNotes})
		s = Reduce(s, Begin{Slice: SliceTasks})
		s = Reduce(s, Fail{Slice: SliceNotes, Err: "boom"})
		require.Equal(t, "boom", s.Notes.Error)
		require.False(t, s.Notes.Loading)
		require.Empty(t, s.Tasks.Error)
		require.True(t, s.Tasks.Loading)

		s = Reduce(s, Begin{Slice: SliceNotes})
		require.Empty(t, s.Notes.Error)
	})

	t.Run("reduce does not alias its input", func(t *testing.T) {
		t.Parallel()

		before := Reduce(Empty(0), Loaded[domain.Task]{Items: []domain.Task{a}})
		after := Reduce(before, Updated[domain.Task]{Item: domain.Task{ID: "a", Title: "changed"}})
		require.Equal(t, "first", before.Tasks.Data[0].Title)
		require.Equal(t, "changed", after.Tasks.Data[0].Title)
	})

	t.Run("reset bumps the epoch", func(t *testing.T) {
		t.Parallel()

		s := Reduce(Empty(3), Loaded[domain.Task]{Items: []domain.Task{a}})
		s = Reduce(s, Reset{})
		require.Equal(t, uint64(4), s.Epoch)
		require.Empty(t, s.Tasks.Data)
	})
}

func ids[T entity](items []T) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.EntityID())
	}
	return out
}

func TestMutationsMatchFreshLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, _ := newTestStore(t, service.StaticTenant(domain.LocalTenant))

	first, err := st.CreateTask(ctx, domain.TaskInput{Title: "write report"})
	require.NoError(t, err)
	_, err = st.CreateTask(ctx, domain.TaskInput{Title: "file taxes", Priority: domain.PriorityHigh})
	require.NoError(t, err)

	done := domain.TaskCompleted
	_, err = st.UpdateTask(ctx, first.ID, domain.TaskPatch{Status: &done})
	require.NoError(t, err)

	note, err := st.CreateNote(ctx, domain.NoteInput{Title: "ideas"})
	require.NoError(t, err)
	require.NoError(t, st.DeleteNote(ctx, note.ID))

	older, err := st.CreateNote(ctx, domain.NoteInput{Title: "groceries"})
	require.NoError(t, err)
	_, err = st.CreateNote(ctx, domain.NoteInput{Title: "reading list"})
	require.NoError(t, err)
	renamed := "groceries and errands"
	_, err = st.UpdateNote(ctx, older.ID, domain.NotePatch{Title: &renamed})
	require.NoError(t, err)

	// One more session than a fresh list returns.
	for range store.PomodoroSessionsTable.DefaultLimit {
		_, err = st.CreatePomodoroSession(ctx, domain.PomodoroInput{Duration: 5})
		require.NoError(t, err)
	}
	session, err := st.CreatePomodoroSession(ctx, domain.PomodoroInput{Duration: 25})
	require.NoError(t, err)
	_, err = st.CompletePomodoroSession(ctx, session.ID)
	require.NoError(t, err)

	for i := range store.ChatMessagesTable.DefaultLimit + 1 {
		role := domain.ChatUser
		if i%2 == 1 {
			role = domain.ChatAssistant
		}
		_, err = st.CreateChatMessage(ctx, domain.ChatInput{Role: role, Content: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
	}

	patched := st.Snapshot()

	fresh := NewStore(st.svc, slogx.Discard())
	require.NoError(t, fresh.Hydrate(ctx))
	loaded := fresh.Snapshot()

	require.Equal(t, ids(loaded.Tasks.Data), ids(patched.Tasks.Data))
	require.Equal(t, loaded.Tasks.Data[1].Status, patched.Tasks.Data[1].Status)
	require.Equal(t, ids(loaded.Notes.Data), ids(patched.Notes.Data))
	require.Equal(t, older.ID, patched.Notes.Data[0].ID)
	require.Equal(t, renamed, patched.Notes.Data[0].Title)
	require.Equal(t, ids(loaded.PomodoroSessions.Data), ids(patched.PomodoroSessions.Data))
	require.Len(t, patched.PomodoroSessions.Data, store.PomodoroSessionsTable.DefaultLimit)
	require.True(t, patched.PomodoroSessions.Data[0].Completed)
	require.Equal(t, ids(loaded.ChatMessages.Data), ids(patched.ChatMessages.Data))
	require.Len(t, patched.ChatMessages.Data, store.ChatMessagesTable.DefaultLimit)

	require.NotNil(t, loaded.Stats.Data)
	require.Equal(t, 2, loaded.Stats.Data.Tasks.Total)
	require.Equal(t, 1, loaded.Stats.Data.Tasks.Completed)
	require.Equal(t, 25, loaded.Stats.Data.Pomodoro.TotalMinutes)

	for _, name := range Slices {
		require.False(t, sliceLoading(loaded, name), name)
	}
}

func sliceLoading(s State, name SliceName) bool {
	switch name {
	case SliceTasks:
		return s.Tasks.Loading
	case SliceNotes:
		return s.Notes.Loading
	case SlicePomodoroSessions:
		return s.PomodoroSessions.Loading
	case SliceChatMessages:
		return s.ChatMessages.Loading
	case SliceStats:
		return s.Stats.Loading
	}
	return false
}

func TestFailuresLandInTheirSlice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, _ := newTestStore(t, service.StaticTenant(domain.LocalTenant))

	_, err := st.CreateTask(ctx, domain.TaskInput{})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = st.LoadNotes(ctx)
	require.NoError(t, err)

	snap := st.Snapshot()
	require.NotEmpty(t, snap.Tasks.Error)
	require.False(t, snap.Tasks.Loading)
	require.Empty(t, snap.Notes.Error)
}

func TestNoTenantFailsEverySlice(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t, service.StaticTenant(""))

	err := st.Hydrate(context.Background())
	require.ErrorIs(t, err, domain.ErrNoTenant)
}

// slowTenant answers after delay unless ctx ends first.
type slowTenant struct {
	id    domain.TenantID
	delay time.Duration
}

func (s slowTenant) CurrentTenant(ctx context.Context) (domain.TenantID, error) {
	select {
	case <-time.After(s.delay):
		return s.id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestHydrateFailureDoesNotCancelOtherSlices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, db := newTestStore(t, service.StaticTenant(domain.LocalTenant))
	seed := &service.TaskService{Store: db, Tenants: service.StaticTenant(domain.LocalTenant)}
	_, err := seed.Create(ctx, domain.TaskInput{Title: "survives a broken notes table"})
	require.NoError(t, err)

	local := service.StaticTenant(domain.LocalTenant)
	st := NewStore(Services{
		Tasks:    &service.TaskService{Store: db, Tenants: slowTenant{id: domain.LocalTenant, delay: 100 * time.Millisecond}},
		Notes:    &service.NoteService{Store: db, Tenants: service.StaticTenant("")},
		Pomodoro: &service.PomodoroService{Store: db, Tenants: local, Settings: db, Logger: slogx.Discard()},
		Chat:     &service.ChatService{Store: db, Tenants: local},
		Stats:    &service.StatsService{Store: db, Tenants: local},
	}, slogx.Discard())

	err = st.Hydrate(ctx)
	require.ErrorIs(t, err, domain.ErrNoTenant)

	snap := st.Snapshot()
	require.NotEmpty(t, snap.Notes.Error)
	require.Empty(t, snap.Tasks.Error)
	require.Len(t, snap.Tasks.Data, 1)
	require.Empty(t, snap.PomodoroSessions.Error)
	require.Empty(t, snap.ChatMessages.Error)
	require.Empty(t, snap.Stats.Error)
	for _, name := range Slices {
		require.False(t, sliceLoading(snap, name), name)
	}
}

func TestResetIsolatesTenants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tenants := newSwitchTenant("alice")
	st, _ := newTestStore(t, tenants)

	_, err := st.CreateNote(ctx, domain.NoteInput{Title: "alice's"})
	require.NoError(t, err)

	tenants.id.Store(domain.TenantID("bob"))
	st.Reset()
	require.Empty(t, st.Snapshot().Notes.Data)

	require.NoError(t, st.Hydrate(ctx))
	require.Empty(t, st.Snapshot().Notes.Data)
	require.Equal(t, uint64(1), st.Snapshot().Epoch)
}

func TestResultsFromBeforeResetAreDropped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tenants := newSwitchTenant(domain.LocalTenant)
	st, db := newTestStore(t, tenants)

	seed := &service.TaskService{Store: db, Tenants: service.StaticTenant(domain.LocalTenant)}
	_, err := seed.Create(ctx, domain.TaskInput{Title: "old tenant's task"})
	require.NoError(t, err)

	gate := make(chan struct{})
	tenants.gate.Store(&gate)
	release := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(release)

	type result struct {
		tasks []domain.Task
		err   error
	}
	out := make(chan result, 1)
	go func() {
		tasks, err := st.LoadTasks(ctx)
		out <- result{tasks, err}
	}()

	select {
	case <-tenants.hit:
	case <-time.After(5 * time.Second):
		t.Fatal("load never reached the backend")
	}
	require.True(t, st.Snapshot().Tasks.Loading)

	st.Reset()
	release()

	res := <-out
	require.NoError(t, res.err)
	require.Len(t, res.tasks, 1)

	snap := st.Snapshot()
	require.Empty(t, snap.Tasks.Data)
	require.False(t, snap.Tasks.Loading)
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	st, _ := newTestStore(t, service.StaticTenant(domain.LocalTenant))

	var mu sync.Mutex
	var seen []bool
	cancel := st.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Tasks.Loading)
	})

	_, err := st.LoadTasks(context.Background())
	require.NoError(t, err)

	cancel()
	st.Reset()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, seen)
}

func TestDeleteSurfacesBackendErrors(t *testing.T) {
	t.Parallel()

	st, db := newTestStore(t, service.StaticTenant(domain.LocalTenant))
	require.NoError(t, db.Close())

	err := st.DeleteTask(context.Background(), "gone")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrBackend))
	require.NotEmpty(t, st.Snapshot().Tasks.Error)
}
