package rest

import (
	"context"
	"slices"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/baas"
)

type collection[T any] struct {
	c     *baas.Client
	table store.Table
}

func (r *collection[T]) scoped(q *baas.Query, tenant domain.TenantID) *baas.Query {
	return q.Eq("tenant_id", tenant.String())
}

func (r *collection[T]) List(ctx context.Context, tenant domain.TenantID, opts store.ListOptions) ([]T, error) {
	if err := requireTenant(tenant); err != nil {
		return nil, err
	}

	q := r.scoped(r.c.From(r.table.Name).Select("*"), tenant)

	keys := make([]string, 0, len(opts.Eq))
	for k := range opts.Eq {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		q.Eq(k, opts.Eq[k])
	}

	q.Order(r.table.OrderBy, r.table.Ascending)
	if n := r.table.Limit(opts); n > 0 {
		q.Limit(n)
	}

	rows := []T{}
	if err := q.Execute(ctx, &rows); err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

func (r *collection[T]) Create(ctx context.Context, tenant domain.TenantID, draft T) (T, error) {
	var out T
	if err := requireTenant(tenant); err != nil {
		return out, err
	}

	cols, err := store.DraftColumns(draft)
	if err != nil {
		return out, err
	}
	cols["tenant_id"] = tenant.String()

	err = r.c.From(r.table.Name).Insert(cols).Single().Execute(ctx, &out)
	return out, mapError(err)
}

func (r *collection[T]) Update(ctx context.Context, tenant domain.TenantID, id string, cols map[string]any) (T, error) {
	var out T
	if err := requireTenant(tenant); err != nil {
		return out, err
	}
	if !validID(id) {
		return out, store.ErrNotFound
	}

	var rows []T
	q := r.scoped(r.c.From(r.table.Name).Update(cols).Eq("id", id), tenant)
	if err := q.Execute(ctx, &rows); err != nil {
		return out, mapError(err)
	}
	if len(rows) == 0 {
		return out, store.ErrNotFound
	}
	return rows[0], nil
}

func (r *collection[T]) Delete(ctx context.Context, tenant domain.TenantID, id string) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	if !validID(id) {
		return nil
	}

	q := r.scoped(r.c.From(r.table.Name).Delete().Eq("id", id), tenant)
	return mapError(q.Execute(ctx, nil))
}

func (r *collection[T]) DeleteAll(ctx context.Context, tenant domain.TenantID) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	q := r.scoped(r.c.From(r.table.Name).Delete(), tenant)
	return mapError(q.Execute(ctx, nil))
}
