package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// weight orders priorities high first.
func (p TaskPriority) weight() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Task is a to-do item. CompletedAt is set iff Status is TaskCompleted.
type Task struct {
	ID             string       `json:"id"`
	TenantID       TenantID     `json:"tenant_id"`
	Title          string       `json:"title"`
	Description    *string      `json:"description"`
	Status         TaskStatus   `json:"status"`
	Priority       TaskPriority `json:"priority"`
	DueDate        *time.Time   `json:"due_date"`
	Assignee       *string      `json:"assignee"`
	EstimatedHours *float64     `json:"estimated_hours"`
	ActualHours    *float64     `json:"actual_hours"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	CompletedAt    *time.Time   `json:"completed_at"`
}

func (t Task) EntityID() string { return t.ID }

// Overdue reports whether an open task is past its due date.
func (t Task) Overdue(now time.Time) bool {
	return t.Status != TaskCompleted && t.DueDate != nil && t.DueDate.Before(now)
}

// TaskInput is the payload for creating a task.
type TaskInput struct {
	Title          string       `json:"title" validate:"required,max=200"`
	Description    *string      `json:"description,omitempty" validate:"omitempty,max=10000"`
	Status         TaskStatus   `json:"status,omitempty" validate:"omitempty,oneof=pending in_progress completed"`
	Priority       TaskPriority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	DueDate        *time.Time   `json:"due_date,omitempty"`
	Assignee       *string      `json:"assignee,omitempty" validate:"omitempty,max=200"`
	EstimatedHours *float64     `json:"estimated_hours,omitempty" validate:"omitempty,gte=0"`
	ActualHours    *float64     `json:"actual_hours,omitempty" validate:"omitempty,gte=0"`
}

// Draft fills defaults and returns the task to insert for tenant. ID and
// timestamps other than CompletedAt are left for the store to assign.
func (in TaskInput) Draft(tenant TenantID, now time.Time) Task {
	t := Task{
		TenantID:       tenant,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Status:         in.Status,
		Priority:       in.Priority,
		DueDate:        in.DueDate,
		Assignee:       in.Assignee,
		EstimatedHours: in.EstimatedHours,
		ActualHours:    in.ActualHours,
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == TaskCompleted {
		ts := now.UTC()
		t.CompletedAt = &ts
	}
	return t
}

// Nullable task columns that a patch may clear.
var taskClearable = []string{"description", "due_date", "assignee", "estimated_hours", "actual_hours"}

// TaskPatch is a partial update. Nil fields are left unchanged; columns
// listed in Clear are set to null.
type TaskPatch struct {
	Title          *string       `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description    *string       `json:"description,omitempty" validate:"omitempty,max=10000"`
	Status         *TaskStatus   `json:"status,omitempty" validate:"omitempty,oneof=pending in_progress completed"`
	Priority       *TaskPriority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	DueDate        *time.Time    `json:"due_date,omitempty"`
	Assignee       *string       `json:"assignee,omitempty" validate:"omitempty,max=200"`
	EstimatedHours *float64      `json:"estimated_hours,omitempty" validate:"omitempty,gte=0"`
	ActualHours    *float64      `json:"actual_hours,omitempty" validate:"omitempty,gte=0"`
	Clear          []string      `json:"clear,omitempty" validate:"dive,oneof=description due_date assignee estimated_hours actual_hours"`
}

// Columns returns the column updates for the patch, stamped with now. A
// status change always rewrites completed_at.
func (p TaskPatch) Columns(now time.Time) map[string]any {
	now = now.UTC()
	cols := map[string]any{"updated_at": now}

	for _, c := range p.Clear {
		if slices.Contains(taskClearable, c) {
			cols[c] = nil
		}
	}
	if p.Title != nil {
		cols["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Priority != nil {
		cols["priority"] = *p.Priority
	}
	if p.DueDate != nil {
		cols["due_date"] = p.DueDate.UTC()
	}
	if p.Assignee != nil {
		cols["assignee"] = *p.Assignee
	}
	if p.EstimatedHours != nil {
		cols["estimated_hours"] = *p.EstimatedHours
	}
	if p.ActualHours != nil {
		cols["actual_hours"] = *p.ActualHours
	}
	if p.Status != nil {
		cols["status"] = *p.Status
		if *p.Status == TaskCompleted {
			cols["completed_at"] = now
		} else {
			cols["completed_at"] = nil
		}
	}
	return cols
}

// TaskSort names a client-side ordering of tasks.
type TaskSort string

const (
	SortByDueDate   TaskSort = "due_date"
	SortByPriority  TaskSort = "priority"
	SortByTitle     TaskSort = "title"
	SortByCreatedAt TaskSort = "created_at"
)

// SortTasks orders tasks in place. Tasks without a due date sort last;
// created_at sorts newest first. Unknown keys leave the order unchanged.
func SortTasks(tasks []Task, by TaskSort) {
	var fn func(a, b Task) int
	switch by {
	case SortByDueDate:
		fn = func(a, b Task) int {
			switch {
			case a.DueDate == nil && b.DueDate == nil:
				return 0
			case a.DueDate == nil:
				return 1
			case b.DueDate == nil:
				return -1
			}
			return a.DueDate.Compare(*b.DueDate)
		}
	case SortByPriority:
		fn = func(a, b Task) int { return cmp.Compare(a.Priority.weight(), b.Priority.weight()) }
	case SortByTitle:
		fn = func(a, b Task) int { return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)) }
	case SortByCreatedAt:
		fn = func(a, b Task) int { return b.CreatedAt.Compare(a.CreatedAt) }
	default:
		return
	}
	slices.SortStableFunc(tasks, fn)
}
