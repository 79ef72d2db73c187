// Package state is the application state store: one slice per collection,
// changed only by reducing typed actions. Mutations patch the affected slice
// in place; nothing is reloaded after a write.
package state

import (
	"slices"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

// SliceName identifies a slice of the state.
type SliceName string

const (
	SliceTasks            SliceName = "tasks"
	SliceNotes            SliceName = "notes"
	SlicePomodoroSessions SliceName = "pomodoroSessions"
	SliceChatMessages     SliceName = "chatMessages"
	SliceStats            SliceName = "stats"
)

// Slices lists every slice in a fixed order.
var Slices = []SliceName{SliceTasks, SliceNotes, SlicePomodoroSessions, SliceChatMessages, SliceStats}

// Slice is one independently loading part of the state. Loading is true
// while any action on the slice is in flight.
type Slice[T any] struct {
	Data    T      `json:"data"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`

	InFlight int `json:"-"`
}

type State struct {
	Tasks            Slice[[]domain.Task]            `json:"tasks"`
	Notes            Slice[[]domain.Note]            `json:"notes"`
	PomodoroSessions Slice[[]domain.PomodoroSession] `json:"pomodoroSessions"`
	ChatMessages     Slice[[]domain.ChatMessage]     `json:"chatMessages"`
	Stats            Slice[*domain.Stats]            `json:"stats"`

	// Epoch increases on every reset. Results of actions begun in an
	// earlier epoch are dropped.
	Epoch uint64 `json:"epoch"`
}

// Empty returns a state with empty, non-nil slices at epoch.
func Empty(epoch uint64) State {
	return State{
		Tasks:            Slice[[]domain.Task]{Data: []domain.Task{}},
		Notes:            Slice[[]domain.Note]{Data: []domain.Note{}},
		PomodoroSessions: Slice[[]domain.PomodoroSession]{Data: []domain.PomodoroSession{}},
		ChatMessages:     Slice[[]domain.ChatMessage]{Data: []domain.ChatMessage{}},
		Epoch:            epoch,
	}
}

// Clone copies the slice data so the result shares nothing mutable with s.
func (s State) Clone() State {
	s.Tasks.Data = slices.Clone(s.Tasks.Data)
	s.Notes.Data = slices.Clone(s.Notes.Data)
	s.PomodoroSessions.Data = slices.Clone(s.PomodoroSessions.Data)
	s.ChatMessages.Data = slices.Clone(s.ChatMessages.Data)
	if s.Stats.Data != nil {
		stats := *s.Stats.Data
		s.Stats.Data = &stats
	}
	return s
}

// Action is a state transition. The concrete types below are the only
// actions.
type Action interface {
	action()
}

type entity interface {
	EntityID() string
}

// Reset empties the state and starts a new epoch.
type Reset struct{}

// Begin marks an action on Slice as in flight.
type Begin struct{ Slice SliceName }

// Fail finishes an action on Slice with an error.
type Fail struct {
	Slice SliceName
	Err   string
}

// Loaded replaces a collection with Items.
type Loaded[T entity] struct{ Items []T }

// Created inserts Item at the head of its collection's order (the tail for
// chat messages) and trims to the collection's default limit.
type Created[T entity] struct{ Item T }

// Updated replaces the row with Item's id. Collections ordered by
// updated_at move the row to the head.
type Updated[T entity] struct{ Item T }

// Deleted removes the row with ID.
type Deleted[T entity] struct{ ID string }

// Cleared empties a collection.
type Cleared[T entity] struct{}

// StatsLoaded replaces the dashboard figures.
type StatsLoaded struct{ Stats domain.Stats }

func (Reset) action()       {}
func (Begin) action()       {}
func (Fail) action()        {}
func (Loaded[T]) action()   {}
func (Created[T]) action()  {}
func (Updated[T]) action()  {}
func (Deleted[T]) action()  {}
func (Cleared[T]) action()  {}
func (StatsLoaded) action() {}

// Reduce returns the state after a. It does not modify s's slices.
func Reduce(s State, a Action) State {
	s = s.Clone()

	switch a := a.(type) {
	case Reset:
		return Empty(s.Epoch + 1)
	case Begin:
		withMeta(&s, a.Slice, func(inFlight *int, loading *bool, errMsg *string) {
			*inFlight++
			*loading = true
			*errMsg = ""
		})
		return s
	case Fail:
		withMeta(&s, a.Slice, func(inFlight *int, loading *bool, errMsg *string) {
			*inFlight = max(*inFlight-1, 0)
			*loading = *inFlight > 0
			*errMsg = a.Err
		})
		return s
	case StatsLoaded:
		stats := a.Stats
		s.Stats.Data = &stats
		finish(&s.Stats)
		return s
	}

	var ok bool
	if s.Tasks, ok = reduceList(s.Tasks, a, tasksOrder); ok {
		return s
	}
	if s.Notes, ok = reduceList(s.Notes, a, notesOrder); ok {
		return s
	}
	if s.PomodoroSessions, ok = reduceList(s.PomodoroSessions, a, pomodoroOrder); ok {
		return s
	}
	s.ChatMessages, _ = reduceList(s.ChatMessages, a, chatOrder)
	return s
}

// order is how a cached collection keeps the shape a fresh List returns.
type order struct {
	ascending    bool
	moveOnUpdate bool
	limit        int
}

func orderOf(t store.Table) order {
	return order{
		ascending:    t.Ascending,
		moveOnUpdate: t.OrderBy == "updated_at",
		limit:        t.DefaultLimit,
	}
}

var (
	tasksOrder    = orderOf(store.TasksTable)
	notesOrder    = orderOf(store.NotesTable)
	pomodoroOrder = orderOf(store.PomodoroSessionsTable)
	chatOrder     = orderOf(store.ChatMessagesTable)
)

// insert places v where the newest row sorts: the tail when ascending, the
// head otherwise. The result is capped at the limit, keeping the head.
func insert[T any](o order, data []T, v T) []T {
	if o.ascending {
		data = append(data, v)
	} else {
		data = append([]T{v}, data...)
	}
	if o.limit > 0 && len(data) > o.limit {
		data = data[:o.limit]
	}
	return data
}

func reduceList[T entity](sl Slice[[]T], a Action, o order) (Slice[[]T], bool) {
	switch a := a.(type) {
	case Loaded[T]:
		sl.Data = slices.Clone(a.Items)
		if sl.Data == nil {
			sl.Data = []T{}
		}
	case Created[T]:
		sl.Data = insert(o, sl.Data, a.Item)
	case Updated[T]:
		id := a.Item.EntityID()
		i := slices.IndexFunc(sl.Data, func(v T) bool { return v.EntityID() == id })
		switch {
		case i < 0:
		case o.moveOnUpdate:
			sl.Data = insert(o, slices.Delete(sl.Data, i, i+1), a.Item)
		default:
			sl.Data[i] = a.Item
		}
	case Deleted[T]:
		sl.Data = slices.DeleteFunc(sl.Data, func(v T) bool { return v.EntityID() == a.ID })
	case Cleared[T]:
		sl.Data = []T{}
	default:
		return sl, false
	}
	finish(&sl)
	return sl, true
}

func finish[T any](sl *Slice[T]) {
	sl.InFlight = max(sl.InFlight-1, 0)
	sl.Loading = sl.InFlight > 0
	sl.Error = ""
}


func withMeta(s *State, name SliceName, fn func(inFlight *int, loading *bool, errMsg *string)) {
	switch name {
	case SliceTasks:
		fn(&s.Tasks.InFlight, &s.Tasks.Loading, &s.Tasks.Error)
	case SliceNotes:
		fn(&s.Notes.InFlight, &s.Notes.Loading, &s.Notes.Error)
	case SlicePomodoroSessions:
		fn(&s.PomodoroSessions.InFlight, &s.PomodoroSessions.Loading, &s.PomodoroSessions.Error)
	case SliceChatMessages:
		fn(&s.ChatMessages.InFlight, &s.ChatMessages.Loading, &s.ChatMessages.Error)
	case SliceStats:
		fn(&s.Stats.InFlight, &s.Stats.Loading, &s.Stats.Error)
	}
}
