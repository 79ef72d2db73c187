package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

// The helpers below are the shared shape of every tenant-scoped service
// call: resolve the tenant, hit the repository, classify the error.

func currentTenant(ctx context.Context, src TenantSource) (domain.TenantID, error) {
	if src == nil {
		return "", domain.ErrNoTenant
	}
	tenant, err := src.CurrentTenant(ctx)
	if err != nil {
		return "", domain.Backend("resolve tenant", err)
	}
	if tenant.IsZero() {
		return "", domain.ErrNoTenant
	}
	return tenant, nil
}

func listRows[T any](ctx context.Context, src TenantSource, repo store.Collection[T], op string, opts store.ListOptions) ([]T, error) {
	tenant, err := currentTenant(ctx, src)
	if err != nil {
		return nil, err
	}
	rows, err := repo.List(ctx, tenant, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}

func createRow[T any](ctx context.Context, src TenantSource, repo store.Collection[T], op string, input any, draft func(domain.TenantID) T) (T, error) {
	var zero T
	if err := Validate(input); err != nil {
		return zero, err
	}
	tenant, err := currentTenant(ctx, src)
	if err != nil {
		return zero, err
	}
	row, err := repo.Create(ctx, tenant, draft(tenant))
	return row, classify(op, err)
}

func updateRow[T any](ctx context.Context, src TenantSource, repo store.Collection[T], op, id string, patch any, cols map[string]any) (T, error) {
	var zero T
	if strings.TrimSpace(id) == "" {
		return zero, domain.Invalid("id is required")
	}
	if err := Validate(patch); err != nil {
		return zero, err
	}
	if len(cols) == 0 {
		return zero, domain.Invalid("nothing to update")
	}
	tenant, err := currentTenant(ctx, src)
	if err != nil {
		return zero, err
	}
	row, err := repo.Update(ctx, tenant, id, cols)
	if err != nil {
		return zero, classify(fmt.Sprintf("%s %s", op, id), err)
	}
	return row, nil
}

func deleteRow[T any](ctx context.Context, src TenantSource, repo store.Collection[T], op, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Invalid("id is required")
	}
	tenant, err := currentTenant(ctx, src)
	if err != nil {
		return err
	}
	return classify(op, repo.Delete(ctx, tenant, id))
}
