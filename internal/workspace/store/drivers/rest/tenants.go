package rest

import (
	"context"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/baas"
)

const (
	tenantsTable  = "tenants"
	profilesTable = "user_profiles"
)

type tenantsRepo struct {
	c *baas.Client
}

func (r *tenantsRepo) GetByUser(ctx context.Context, userID string) (domain.Tenant, error) {
	var t domain.Tenant
	if !validID(userID) {
		return t, store.ErrNotFound
	}
	err := r.c.From(tenantsTable).Select("*").Eq("user_id", userID).Single().Execute(ctx, &t)
	return t, mapError(err)
}

func (r *tenantsRepo) Create(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	settings := t.Settings
	if settings == nil {
		settings = map[string]any{}
	}

	var out domain.Tenant
	err := r.c.From(tenantsTable).Insert(map[string]any{
		"user_id":  t.UserID,
		"name":     t.Name,
		"settings": settings,
	}).Single().Execute(ctx, &out)
	return out, mapError(err)
}

func (r *tenantsRepo) UpdateSettings(ctx context.Context, id domain.TenantID, settings map[string]any, now time.Time) (domain.Tenant, error) {
	var out domain.Tenant
	if !validID(id.String()) {
		return out, store.ErrNotFound
	}
	if settings == nil {
		settings = map[string]any{}
	}

	err := r.c.From(tenantsTable).
		Update(map[string]any{"settings": settings, "updated_at": now.UTC()}).
		Eq("id", id.String()).
		Single().
		Execute(ctx, &out)
	return out, mapError(err)
}

type profilesRepo struct {
	c *baas.Client
}

func (r *profilesRepo) Get(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	if !validID(id) {
		return p, store.ErrNotFound
	}
	err := r.c.From(profilesTable).Select("*").Eq("id", id).Single().Execute(ctx, &p)
	return p, mapError(err)
}

func (r *profilesRepo) List(ctx context.Context) ([]domain.Profile, error) {
	out := []domain.Profile{}
	err := r.c.From(profilesTable).Select("*").Order("created_at", true).Execute(ctx, &out)
	return out, mapError(err)
}

func (r *profilesRepo) ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error) {
	out := []domain.Profile{}
	err := r.c.From(profilesTable).Select("*").Eq("role", string(role)).Order("created_at", true).Execute(ctx, &out)
	return out, mapError(err)
}

func (r *profilesRepo) Create(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	row := map[string]any{
		"id":        p.ID,
		"email":     p.Email,
		"full_name": p.FullName,
		"role":      string(p.Role),
	}
	if !p.CreatedAt.IsZero() {
		row["created_at"] = p.CreatedAt.UTC()
		row["updated_at"] = p.CreatedAt.UTC()
	}

	var out domain.Profile
	err := r.c.From(profilesTable).Insert(row).Single().Execute(ctx, &out)
	return out, mapError(err)
}

func (r *profilesRepo) UpdateRole(ctx context.Context, id string, role domain.Role, now time.Time) (domain.Profile, error) {
	var out domain.Profile
	if !validID(id) {
		return out, store.ErrNotFound
	}
	err := r.c.From(profilesTable).
		Update(map[string]any{"role": string(role), "updated_at": now.UTC()}).
		Eq("id", id).
		Single().
		Execute(ctx, &out)
	return out, mapError(err)
}
