package service

import (
	"context"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

type TaskService struct {
	Store   store.Store
	Tenants TenantSource
	Now     func() time.Time
}

// List returns the tenant's tasks, newest first.
func (s *TaskService) List(ctx context.Context) ([]domain.Task, error) {
	return listRows(ctx, s.Tenants, s.Store.Tasks(), "list tasks", store.ListOptions{})
}

// ListByStatus returns the tenant's tasks with the given status.
func (s *TaskService) ListByStatus(ctx context.Context, status domain.TaskStatus) ([]domain.Task, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Fields: map[string]string{"status": "must be one of: pending in_progress completed"}}
	}
	opts := store.ListOptions{Eq: map[string]string{"status": string(status)}}
	return listRows(ctx, s.Tenants, s.Store.Tasks(), "list tasks", opts)
}

func (s *TaskService) Create(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	return createRow(ctx, s.Tenants, s.Store.Tasks(), "create task", in, func(t domain.TenantID) domain.Task {
		return in.Draft(t, clock(s.Now))
	})
}

// Update applies patch and stamps updated_at. Changing the status keeps
// completed_at in step.
func (s *TaskService) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	return updateRow(ctx, s.Tenants, s.Store.Tasks(), "update task", id, patch, patch.Columns(clock(s.Now)))
}

// Delete removes the task. Deleting a task that does not exist succeeds.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	return deleteRow(ctx, s.Tenants, s.Store.Tasks(), "delete task", id)
}
