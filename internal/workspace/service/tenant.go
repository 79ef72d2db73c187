package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

// TenantService resolves and creates the one tenant each user owns.
type TenantService struct {
	Store store.Store
	Now   func() time.Time
}

// GetCurrentTenant returns the tenant owned by user, or domain.ErrNoTenant.
func (s *TenantService) GetCurrentTenant(ctx context.Context, user *domain.User) (domain.Tenant, error) {
	if user == nil {
		return domain.Tenant{}, domain.ErrNotAuthenticated
	}

	t, err := s.Store.Tenants().GetByUser(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Tenant{}, domain.ErrNoTenant
	}
	if err != nil {
		return domain.Tenant{}, domain.Backend("get tenant", err)
	}
	return t, nil
}

// CreateTenant inserts the workspace tenant for a newly registered user.
// It is not idempotent: a second call fails with domain.ErrDuplicateTenant.
func (s *TenantService) CreateTenant(ctx context.Context, user *domain.User) (domain.Tenant, error) {
	if user == nil {
		return domain.Tenant{}, domain.ErrNotAuthenticated
	}

	t, err := s.Store.Tenants().Create(ctx, domain.Tenant{
		UserID:   user.ID,
		Name:     domain.WorkspaceName(user.Email),
		Settings: map[string]any{},
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return domain.Tenant{}, fmt.Errorf("%w: %w", domain.ErrDuplicateTenant, err)
	}
	if err != nil {
		return domain.Tenant{}, domain.Backend("create tenant", err)
	}
	return t, nil
}

// UpdateSettings replaces the tenant's settings map.
func (s *TenantService) UpdateSettings(ctx context.Context, id domain.TenantID, settings map[string]any) (domain.Tenant, error) {
	if id.IsZero() {
		return domain.Tenant{}, domain.ErrNoTenant
	}
	t, err := s.Store.Tenants().UpdateSettings(ctx, id, settings, clock(s.Now))
	return t, classify("update tenant settings", err)
}
