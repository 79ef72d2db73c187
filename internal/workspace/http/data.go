package http

import (
	"net/http"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/service"
	"github.com/aussiebroadwan/workspace/internal/workspace/state"
	"github.com/aussiebroadwan/workspace/pkg/httpx"
)

// ── State ─────────────────────────────────────────────────────────────────────

type StateHandler struct {
	State *state.Store
}

// HandleSnapshot godoc
//
//	@Summary		State snapshot
//	@Description	Returns every slice with its loading flag and last error without touching the backend.
//	@Tags			State
//	@Produce		json
//	@Success		200	{object}	state.State
//	@Router			/v1/state [get].
func (h *StateHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.State.Snapshot())
}

// HandleRefresh godoc
//
//	@Summary		Reload every slice
//	@Description	Loads all slices concurrently. Failed slices keep their error; the snapshot is returned either way.
//	@Tags			State
//	@Produce		json
//	@Success		200	{object}	state.State
//	@Router			/v1/state/refresh [post].
func (h *StateHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.State.Hydrate(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.State.Snapshot())
}

// HandleStats godoc
//
//	@Summary		Dashboard figures
//	@Tags			State
//	@Produce		json
//	@Success		200	{object}	domain.Stats
//	@Router			/v1/stats [get].
func (h *StateHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.State.LoadStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

// ── Tasks ─────────────────────────────────────────────────────────────────────

type TasksHandler struct {
	State *state.Store
}

// HandleList godoc
//
//	@Summary		List tasks
//	@Tags			Tasks
//	@Produce		json
//	@Param			status	query		string	false	"Filter by status"	Enums(pending, in_progress, completed)
//	@Param			sort	query		string	false	"Order"				Enums(due_date, priority, title, created_at)
//	@Success		200		{array}		domain.Task
//	@Failure		400		{object}	httpx.ErrorResponse	"Unknown status"
//	@Router			/v1/tasks [get].
func (h *TasksHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, domain.Invalid("unknown status %q", status))
		return
	}

	var (
		tasks []domain.Task
		err   error
	)
	if status == "" {
		tasks, err = h.State.LoadTasks(r.Context())
	} else {
		tasks, err = h.State.TasksByStatus(r.Context(), status)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	domain.SortTasks(tasks, domain.TaskSort(r.URL.Query().Get("sort")))
	httpx.WriteJSON(w, http.StatusOK, tasks)
}

// HandleCreate godoc
//
//	@Summary		Create a task
//	@Tags			Tasks
//	@Accept			json
//	@Produce		json
//	@Param			request	body		domain.TaskInput	true	"Task"
//	@Success		201		{object}	domain.Task
//	@Failure		400		{object}	httpx.ErrorResponse	"Validation failed"
//	@Router			/v1/tasks [post].
func (h *TasksHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.TaskInput
	if !decode(w, r, &in) {
		return
	}
	created(w, r, func() (domain.Task, error) { return h.State.CreateTask(r.Context(), in) })
}

// HandleUpdate godoc
//
//	@Summary		Update a task
//	@Description	Partial update. Columns listed in "clear" are set to null.
//	@Tags			Tasks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Task id"
//	@Param			request	body		domain.TaskPatch	true	"Changes"
//	@Success		200		{object}	domain.Task
//	@Failure		404		{object}	httpx.ErrorResponse	"No such task"
//	@Router			/v1/tasks/{id} [patch].
func (h *TasksHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.TaskPatch
	if !decode(w, r, &patch) {
		return
	}
	ok(w, r, func() (domain.Task, error) { return h.State.UpdateTask(r.Context(), r.PathValue("id"), patch) })
}

// HandleDelete godoc
//
//	@Summary		Delete a task
//	@Tags			Tasks
//	@Param			id	path	string	true	"Task id"
//	@Success		204
//	@Router			/v1/tasks/{id} [delete].
func (h *TasksHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	noContent(w, r, h.State.DeleteTask(r.Context(), r.PathValue("id")))
}

// ── Notes ─────────────────────────────────────────────────────────────────────

type NotesHandler struct {
	State *state.Store
}

// HandleList godoc
//
//	@Summary		List notes
//	@Tags			Notes
//	@Produce		json
//	@Success		200	{array}	domain.Note
//	@Router			/v1/notes [get].
func (h *NotesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ok(w, r, func() ([]domain.Note, error) { return h.State.LoadNotes(r.Context()) })
}

// HandleCreate godoc
//
//	@Summary		Create a note
//	@Tags			Notes
//	@Accept			json
//	@Produce		json
//	@Param			request	body		domain.NoteInput	true	"Note"
//	@Success		201		{object}	domain.Note
//	@Router			/v1/notes [post].
func (h *NotesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.NoteInput
	if !decode(w, r, &in) {
		return
	}
	created(w, r, func() (domain.Note, error) { return h.State.CreateNote(r.Context(), in) })
}

// HandleUpdate godoc
//
//	@Summary		Update a note
//	@Tags			Notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Note id"
//	@Param			request	body		domain.NotePatch	true	"Changes"
//	@Success		200		{object}	domain.Note
//	@Router			/v1/notes/{id} [patch].
func (h *NotesHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.NotePatch
	if !decode(w, r, &patch) {
		return
	}
	ok(w, r, func() (domain.Note, error) { return h.State.UpdateNote(r.Context(), r.PathValue("id"), patch) })
}

// HandleDelete godoc
//
//	@Summary		Delete a note
//	@Tags			Notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204
//	@Router			/v1/notes/{id} [delete].
func (h *NotesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	noContent(w, r, h.State.DeleteNote(r.Context(), r.PathValue("id")))
}

// ── Pomodoro ──────────────────────────────────────────────────────────────────

type PomodoroHandler struct {
	State    *state.Store
	Pomodoro *service.PomodoroService
}

// HandleList godoc
//
//	@Summary		List pomodoro sessions
//	@Tags			Pomodoro
//	@Produce		json
//	@Success		200	{array}	domain.PomodoroSession
//	@Router			/v1/pomodoro/sessions [get].
func (h *PomodoroHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ok(w, r, func() ([]domain.PomodoroSession, error) { return h.State.LoadPomodoroSessions(r.Context()) })
}

// HandleCreate godoc
//
//	@Summary		Start a pomodoro session
//	@Tags			Pomodoro
//	@Accept			json
//	@Produce		json
//	@Param			request	body		domain.PomodoroInput	true	"Session"
//	@Success		201		{object}	domain.PomodoroSession
//	@Router			/v1/pomodoro/sessions [post].
func (h *PomodoroHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.PomodoroInput
	if !decode(w, r, &in) {
		return
	}
	created(w, r, func() (domain.PomodoroSession, error) { return h.State.CreatePomodoroSession(r.Context(), in) })
}

// HandleUpdate godoc
//
//	@Summary		Update a pomodoro session
//	@Tags			Pomodoro
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Session id"
//	@Param			request	body		domain.PomodoroPatch	true	"Changes"
//	@Success		200		{object}	domain.PomodoroSession
//	@Router			/v1/pomodoro/sessions/{id} [patch].
func (h *PomodoroHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.PomodoroPatch
	if !decode(w, r, &patch) {
		return
	}
	ok(w, r, func() (domain.PomodoroSession, error) {
		return h.State.UpdatePomodoroSession(r.Context(), r.PathValue("id"), patch)
	})
}

// HandleComplete godoc
//
//	@Summary		Complete a pomodoro session
//	@Description	Marks the session finished and advances the local break counter.
//	@Tags			Pomodoro
//	@Produce		json
//	@Param			id	path		string	true	"Session id"
//	@Success		200	{object}	domain.PomodoroSession
//	@Router			/v1/pomodoro/sessions/{id}/complete [post].
func (h *PomodoroHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ok(w, r, func() (domain.PomodoroSession, error) {
		return h.State.CompletePomodoroSession(r.Context(), r.PathValue("id"))
	})
}

// HandleDelete godoc
//
//	@Summary		Delete a pomodoro session
//	@Tags			Pomodoro
//	@Param			id	path	string	true	"Session id"
//	@Success		204
//	@Router			/v1/pomodoro/sessions/{id} [delete].
func (h *PomodoroHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	noContent(w, r, h.State.DeletePomodoroSession(r.Context(), r.PathValue("id")))
}

// HandleGetSettings godoc
//
//	@Summary		Timer settings
//	@Tags			Pomodoro
//	@Produce		json
//	@Success		200	{object}	domain.PomodoroSettings
//	@Router			/v1/pomodoro/settings [get].
func (h *PomodoroHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	ok(w, r, func() (domain.PomodoroSettings, error) { return h.Pomodoro.LoadSettings(r.Context()) })
}

// HandlePutSettings godoc
//
//	@Summary		Replace the timer settings
//	@Tags			Pomodoro
//	@Accept			json
//	@Produce		json
//	@Param			request	body		domain.PomodoroSettings	true	"Settings"
//	@Success		200		{object}	domain.PomodoroSettings
//	@Failure		400		{object}	httpx.ErrorResponse	"Validation failed"
//	@Router			/v1/pomodoro/settings [put].
func (h *PomodoroHandler) HandlePutSettings(w http.ResponseWriter, r *http.Request) {
	var in domain.PomodoroSettings
	if !decode(w, r, &in) {
		return
	}
	ok(w, r, func() (domain.PomodoroSettings, error) { return h.Pomodoro.SaveSettings(r.Context(), in) })
}

// HandleTimer godoc
//
//	@Summary		Timer position
//	@Description	Completed work blocks and the length of the next break.
//	@Tags			Pomodoro
//	@Produce		json
//	@Success		200	{object}	service.TimerState
//	@Router			/v1/pomodoro/timer [get].
func (h *PomodoroHandler) HandleTimer(w http.ResponseWriter, r *http.Request) {
	ok(w, r, func() (service.TimerState, error) { return h.Pomodoro.Timer(r.Context()) })
}

// ── Chat ──────────────────────────────────────────────────────────────────────

type ChatHandler struct {
	State *state.Store
}

// HandleList godoc
//
//	@Summary		Chat history
//	@Description	The most recent messages, oldest first.
//	@Tags			Chat
//	@Produce		json
//	@Success		200	{array}	domain.ChatMessage
//	@Router			/v1/chat/messages [get].
func (h *ChatHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ok(w, r, func() ([]domain.ChatMessage, error) { return h.State.LoadChatMessages(r.Context()) })
}

// HandleCreate godoc
//
//	@Summary		Append a chat message
//	@Tags			Chat
//	@Accept			json
//	@Produce		json
//	@Param			request	body		domain.ChatInput	true	"Message"
//	@Success		201		{object}	domain.ChatMessage
//	@Router			/v1/chat/messages [post].
func (h *ChatHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in domain.ChatInput
	if !decode(w, r, &in) {
		return
	}
	created(w, r, func() (domain.ChatMessage, error) { return h.State.CreateChatMessage(r.Context(), in) })
}

// HandleUpdate godoc
//
//	@Summary		Edit a chat message
//	@Tags			Chat
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Message id"
//	@Param			request	body		domain.ChatPatch	true	"Changes"
//	@Success		200		{object}	domain.ChatMessage
//	@Router			/v1/chat/messages/{id} [patch].
func (h *ChatHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.ChatPatch
	if !decode(w, r, &patch) {
		return
	}
	ok(w, r, func() (domain.ChatMessage, error) {
		return h.State.UpdateChatMessage(r.Context(), r.PathValue("id"), patch)
	})
}

// HandleDelete godoc
//
//	@Summary		Delete a chat message
//	@Tags			Chat
//	@Param			id	path	string	true	"Message id"
//	@Success		204
//	@Router			/v1/chat/messages/{id} [delete].
func (h *ChatHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	noContent(w, r, h.State.DeleteChatMessage(r.Context(), r.PathValue("id")))
}

// HandleClear godoc
//
//	@Summary		Clear the chat history
//	@Tags			Chat
//	@Success		204
//	@Router			/v1/chat/messages [delete].
func (h *ChatHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	noContent(w, r, h.State.ClearChat(r.Context()))
}

func ok[T any](w http.ResponseWriter, r *http.Request, fn func() (T, error)) {
	v, err := fn()
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func created[T any](w http.ResponseWriter, r *http.Request, fn func() (T, error)) {
	v, err := fn()
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, v)
}

func noContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
