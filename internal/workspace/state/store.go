package state

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/metrics"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
)

// Services are the data access services the store drives.
type Services struct {
	Tasks    *service.TaskService
	Notes    *service.NoteService
	Pomodoro *service.PomodoroService
	Chat     *service.ChatService
	Stats    *service.StatsService
}

// Store holds the state and runs actions against the services. Every
// mutation goes through Reduce under the store mutex.
type Store struct {
	svc    Services
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	subs    map[uint64]func(State)
	nextSub uint64
}

func NewStore(svc Services, logger *slog.Logger) *Store {
	return &Store{
		svc:    svc,
		logger: logger,
		state:  Empty(0),
		subs:   make(map[uint64]func(State)),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe calls fn after every change with a snapshot.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Reset empties every slice. Actions still in flight finish into the void.
func (s *Store) Reset() {
	s.dispatch(Reset{}, nil)
	metrics.StateResetsTotal.Inc()
}

// dispatch reduces a. With an epoch, a is dropped unless the store is still
// in that epoch. It reports whether a was applied.
func (s *Store) dispatch(a Action, epoch *uint64) bool {
	s.mu.Lock()
	if epoch != nil && *epoch != s.state.Epoch {
		s.mu.Unlock()
		return false
	}
	s.state = Reduce(s.state, a)
	snap := s.state.Clone()
	subs := slices.Collect(maps.Values(s.subs))
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return true
}

// begin marks slice busy and returns the epoch the action belongs to.
func (s *Store) begin(slice SliceName) uint64 {
	s.mu.Lock()
	s.state = Reduce(s.state, Begin{Slice: slice})
	epoch := s.state.Epoch
	snap := s.state.Clone()
	subs := slices.Collect(maps.Values(s.subs))
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return epoch
}

// run is the shape of every action: mark the slice busy, call the backend,
// then reduce either the result or the error into the slice.
func run[T any](ctx context.Context, s *Store, slice SliceName, action string, call func(context.Context) (T, error), done func(T) Action) (T, error) {
	start := time.Now()
	epoch := s.begin(slice)

	v, err := call(ctx)
	metrics.StateActionDuration.WithLabelValues(string(slice), action).Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.WarnContext(ctx, "state action failed", "slice", slice, "action", action, "error", err)
		if s.dispatch(Fail{Slice: slice, Err: err.Error()}, &epoch) {
			metrics.StateActionsTotal.WithLabelValues(string(slice), action, "error").Inc()
		} else {
			metrics.StateActionsTotal.WithLabelValues(string(slice), action, "stale").Inc()
		}
		return v, err
	}

	if !s.dispatch(done(v), &epoch) {
		s.logger.DebugContext(ctx, "dropped result from before reset", "slice", slice, "action", action)
		metrics.StateActionsTotal.WithLabelValues(string(slice), action, "stale").Inc()
		return v, nil
	}
	metrics.StateActionsTotal.WithLabelValues(string(slice), action, "ok").Inc()
	return v, nil
}

// exec is run for calls that only return an error.
func exec(ctx context.Context, s *Store, slice SliceName, action string, call func(context.Context) error, done Action) error {
	_, err := run(ctx, s, slice, action, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	}, func(struct{}) Action { return done })
	return err
}

// Hydrate loads every slice concurrently. Each slice runs to completion and
// records its own error; the first one is also returned.
func (s *Store) Hydrate(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { _, err := s.LoadTasks(ctx); return err })
	g.Go(func() error { _, err := s.LoadNotes(ctx); return err })
	g.Go(func() error { _, err := s.LoadPomodoroSessions(ctx); return err })
	g.Go(func() error { _, err := s.LoadChatMessages(ctx); return err })
	g.Go(func() error { _, err := s.LoadStats(ctx); return err })
	return g.Wait()
}

// ── Tasks ─────────────────────────────────────────────────────────────────────

func (s *Store) LoadTasks(ctx context.Context) ([]domain.Task, error) {
	return run(ctx, s, SliceTasks, "load", s.svc.Tasks.List, func(v []domain.Task) Action {
		return Loaded[domain.Task]{Items: v}
	})
}

// TasksByStatus queries the backend for tasks with status. The result is a
// filtered view, so the tasks slice is left untouched.
func (s *Store) TasksByStatus(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	return s.svc.Tasks.ListByStatus(ctx, status)
}

func (s *Store) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	return run(ctx, s, SliceTasks, "create", func(ctx context.Context) (domain.Task, error) {
		return s.svc.Tasks.Create(ctx, in)
	}, created)
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	return run(ctx, s, SliceTasks, "update", func(ctx context.Context) (domain.Task, error) {
		return s.svc.Tasks.Update(ctx, id, patch)
	}, updated)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return exec(ctx, s, SliceTasks, "delete", func(ctx context.Context) error {
		return s.svc.Tasks.Delete(ctx, id)
	}, Deleted[domain.Task]{ID: id})
}

// ── Notes ─────────────────────────────────────────────────────────────────────

func (s *Store) LoadNotes(ctx context.Context) ([]domain.Note, error) {
	return run(ctx, s, SliceNotes, "load", s.svc.Notes.List, func(v []domain.Note) Action {
		return Loaded[domain.Note]{Items: v}
	})
}

func (s *Store) CreateNote(ctx context.Context, in domain.NoteInput) (domain.Note, error) {
	return run(ctx, s, SliceNotes, "create", func(ctx context.Context) (domain.Note, error) {
		return s.svc.Notes.Create(ctx, in)
	}, created)
}

func (s *Store) UpdateNote(ctx context.Context, id string, patch domain.NotePatch) (domain.Note, error) {
	return run(ctx, s, SliceNotes, "update", func(ctx context.Context) (domain.Note, error) {
		return s.svc.Notes.Update(ctx, id, patch)
	}, updated)
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return exec(ctx, s, SliceNotes, "delete", func(ctx context.Context) error {
		return s.svc.Notes.Delete(ctx, id)
	}, Deleted[domain.Note]{ID: id})
}

// ── Pomodoro ──────────────────────────────────────────────────────────────────

func (s *Store) LoadPomodoroSessions(ctx context.Context) ([]domain.PomodoroSession, error) {
	return run(ctx, s, SlicePomodoroSessions, "load", s.svc.Pomodoro.List, func(v []domain.PomodoroSession) Action {
		return Loaded[domain.PomodoroSession]{Items: v}
	})
}

func (s *Store) CreatePomodoroSession(ctx context.Context, in domain.PomodoroInput) (domain.PomodoroSession, error) {
	return run(ctx, s, SlicePomodoroSessions, "create", func(ctx context.Context) (domain.PomodoroSession, error) {
		return s.svc.Pomodoro.Create(ctx, in)
	}, created)
}

func (s *Store) UpdatePomodoroSession(ctx context.Context, id string, patch domain.PomodoroPatch) (domain.PomodoroSession, error) {
	return run(ctx, s, SlicePomodoroSessions, "update", func(ctx context.Context) (domain.PomodoroSession, error) {
		return s.svc.Pomodoro.Update(ctx, id, patch)
	}, updated)
}

// CompletePomodoroSession marks a session finished.
func (s *Store) CompletePomodoroSession(ctx context.Context, id string) (domain.PomodoroSession, error) {
	return run(ctx, s, SlicePomodoroSessions, "complete", func(ctx context.Context) (domain.PomodoroSession, error) {
		return s.svc.Pomodoro.Complete(ctx, id)
	}, updated)
}

func (s *Store) DeletePomodoroSession(ctx context.Context, id string) error {
	return exec(ctx, s, SlicePomodoroSessions, "delete", func(ctx context.Context) error {
		return s.svc.Pomodoro.Delete(ctx, id)
	}, Deleted[domain.PomodoroSession]{ID: id})
}

// ── Chat ──────────────────────────────────────────────────────────────────────

func (s *Store) LoadChatMessages(ctx context.Context) ([]domain.ChatMessage, error) {
	return run(ctx, s, SliceChatMessages, "load", s.svc.Chat.List, func(v []domain.ChatMessage) Action {
		return Loaded[domain.ChatMessage]{Items: v}
	})
}

func (s *Store) CreateChatMessage(ctx context.Context, in domain.ChatInput) (domain.ChatMessage, error) {
	return run(ctx, s, SliceChatMessages, "create", func(ctx context.Context) (domain.ChatMessage, error) {
		return s.svc.Chat.Create(ctx, in)
	}, created)
}

func (s *Store) UpdateChatMessage(ctx context.Context, id string, patch domain.ChatPatch) (domain.ChatMessage, error) {
	return run(ctx, s, SliceChatMessages, "update", func(ctx context.Context) (domain.ChatMessage, error) {
		return s.svc.Chat.Update(ctx, id, patch)
	}, updated)
}

func (s *Store) DeleteChatMessage(ctx context.Context, id string) error {
	return exec(ctx, s, SliceChatMessages, "delete", func(ctx context.Context) error {
		return s.svc.Chat.Delete(ctx, id)
	}, Deleted[domain.ChatMessage]{ID: id})
}

// ClearChat deletes the whole chat history.
func (s *Store) ClearChat(ctx context.Context) error {
	return exec(ctx, s, SliceChatMessages, "clear", s.svc.Chat.Clear, Cleared[domain.ChatMessage]{})
}

// ── Stats ─────────────────────────────────────────────────────────────────────

func (s *Store) LoadStats(ctx context.Context) (domain.Stats, error) {
	return run(ctx, s, SliceStats, "load", s.svc.Stats.Dashboard, func(v domain.Stats) Action {
		return StatsLoaded{Stats: v}
	})
}

func created[T entity](v T) Action { return Created[T]{Item: v} }
func updated[T entity](v T) Action { return Updated[T]{Item: v} }
