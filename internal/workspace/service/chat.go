package service

import (
	"context"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

type ChatService struct {
	Store   store.Store
	Tenants TenantSource
	Now     func() time.Time
}

// List returns the recent chat history, oldest first.
func (s *ChatService) List(ctx context.Context) ([]domain.ChatMessage, error) {
	return listRows(ctx, s.Tenants, s.Store.ChatMessages(), "list chat messages", store.ListOptions{})
}

func (s *ChatService) Create(ctx context.Context, in domain.ChatInput) (domain.ChatMessage, error) {
	return createRow(ctx, s.Tenants, s.Store.ChatMessages(), "create chat message", in, in.Draft)
}

func (s *ChatService) Update(ctx context.Context, id string, patch domain.ChatPatch) (domain.ChatMessage, error) {
	return updateRow(ctx, s.Tenants, s.Store.ChatMessages(), "update chat message", id, patch, patch.Columns(clock(s.Now)))
}

func (s *ChatService) Delete(ctx context.Context, id string) error {
	return deleteRow(ctx, s.Tenants, s.Store.ChatMessages(), "delete chat message", id)
}

// Clear deletes the tenant's whole chat history.
func (s *ChatService) Clear(ctx context.Context) error {
	tenant, err := currentTenant(ctx, s.Tenants)
	if err != nil {
		return err
	}
	return classify("clear chat history", s.Store.ChatMessages().DeleteAll(ctx, tenant))
}
