package service

import (
	"context"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

type NoteService struct {
	Store   store.Store
	Tenants TenantSource
	Now     func() time.Time
}

// List returns the tenant's notes, most recently edited first.
func (s *NoteService) List(ctx context.Context) ([]domain.Note, error) {
	return listRows(ctx, s.Tenants, s.Store.Notes(), "list notes", store.ListOptions{})
}

func (s *NoteService) Create(ctx context.Context, in domain.NoteInput) (domain.Note, error) {
	return createRow(ctx, s.Tenants, s.Store.Notes(), "create note", in, in.Draft)
}

func (s *NoteService) Update(ctx context.Context, id string, patch domain.NotePatch) (domain.Note, error) {
	return updateRow(ctx, s.Tenants, s.Store.Notes(), "update note", id, patch, patch.Columns(clock(s.Now)))
}

func (s *NoteService) Delete(ctx context.Context, id string) error {
	return deleteRow(ctx, s.Tenants, s.Store.Notes(), "delete note", id)
}
