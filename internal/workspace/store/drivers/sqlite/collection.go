package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/idx"
)

type document = []map[string]any

type collection[T any] struct {
	s     *Store
	table store.Table
}

func collectionKey(tenant domain.TenantID, name string) string {
	return tenant.String() + ":" + keyPrefix + strings.ReplaceAll(name, "_", "-")
}

func (r *collection[T]) key(tenant domain.TenantID) string {
	return collectionKey(tenant, r.table.Name)
}

func (r *collection[T]) load(ctx context.Context, q queryer, tenant domain.TenantID) (document, error) {
	var doc document
	if _, err := getJSON(ctx, q, r.key(tenant), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *collection[T]) List(ctx context.Context, tenant domain.TenantID, opts store.ListOptions) ([]T, error) {
	if tenant.IsZero() {
		return nil, domain.ErrNoTenant
	}

	doc, err := r.load(ctx, r.s.db, tenant)
	if err != nil {
		return nil, err
	}

	rows := make(document, 0, len(doc))
	for _, row := range doc {
		if row["tenant_id"] != tenant.String() || !matchEq(row, opts.Eq) {
			continue
		}
		rows = append(rows, row)
	}

	slices.SortStableFunc(rows, func(a, b map[string]any) int {
		c := compareColumn(a[r.table.OrderBy], b[r.table.OrderBy])
		if c == 0 {
			// ids are monotonic ULIDs, so they break ties in insertion order
			c = strings.Compare(fmt.Sprint(a["id"]), fmt.Sprint(b["id"]))
		}
		if !r.table.Ascending {
			c = -c
		}
		return c
	})

	if n := r.table.Limit(opts); n > 0 && n < len(rows) {
		rows = rows[:n]
	}
	return decodeRows[T](rows)
}

func (r *collection[T]) Create(ctx context.Context, tenant domain.TenantID, draft T) (T, error) {
	var out T
	if tenant.IsZero() {
		return out, domain.ErrNoTenant
	}

	cols, err := store.DraftColumns(draft)
	if err != nil {
		return out, err
	}

	now := r.s.now().UTC()
	cols["id"] = idx.NewAt(now).String()
	cols["tenant_id"] = tenant.String()
	for _, ts := range r.table.Timestamps {
		cols[ts] = now.Format(timeLayout)
	}
	row, err := normalise(cols)
	if err != nil {
		return out, err
	}

	err = r.s.WithTx(ctx, func(tx *sql.Tx) error {
		doc, err := r.load(ctx, tx, tenant)
		if err != nil {
			return err
		}
		return putJSON(ctx, tx, r.key(tenant), append(doc, row), now)
	})
	if err != nil {
		return out, err
	}
	return decodeRow[T](row)
}

func (r *collection[T]) Update(ctx context.Context, tenant domain.TenantID, id string, cols map[string]any) (T, error) {
	var out T
	if tenant.IsZero() {
		return out, domain.ErrNoTenant
	}

	patch, err := normalise(cols)
	if err != nil {
		return out, err
	}

	var updated map[string]any
	err = r.s.WithTx(ctx, func(tx *sql.Tx) error {
		doc, err := r.load(ctx, tx, tenant)
		if err != nil {
			return err
		}
		for _, row := range doc {
			if row["id"] == id && row["tenant_id"] == tenant.String() {
				for k, v := range patch {
					if k == "id" || k == "tenant_id" {
						continue
					}
					row[k] = v
				}
				updated = row
				break
			}
		}
		if updated == nil {
			return store.ErrNotFound
		}
		return putJSON(ctx, tx, r.key(tenant), doc, r.s.now())
	})
	if err != nil {
		return out, err
	}
	return decodeRow[T](updated)
}

func (r *collection[T]) Delete(ctx context.Context, tenant domain.TenantID, id string) error {
	if tenant.IsZero() {
		return domain.ErrNoTenant
	}

	return r.s.WithTx(ctx, func(tx *sql.Tx) error {
		doc, err := r.load(ctx, tx, tenant)
		if err != nil {
			return err
		}
		kept := slices.DeleteFunc(doc, func(row map[string]any) bool {
			return row["id"] == id && row["tenant_id"] == tenant.String()
		})
		return putJSON(ctx, tx, r.key(tenant), kept, r.s.now())
	})
}

func (r *collection[T]) DeleteAll(ctx context.Context, tenant domain.TenantID) error {
	if tenant.IsZero() {
		return domain.ErrNoTenant
	}
	return deleteKey(ctx, r.s.db, r.key(tenant))
}

// normalise round-trips cols through JSON so stored values have the same
// shape as values read back (times as strings, numbers as float64).
func normalise(cols map[string]any) (map[string]any, error) {
	b, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode row: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("sqlite: encode row: %w", err)
	}
	return out, nil
}

func decodeRow[T any](row map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("sqlite: decode row: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("sqlite: decode row: %w", err)
	}
	return out, nil
}

func decodeRows[T any](rows document) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := decodeRow[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func matchEq(row map[string]any, eq map[string]string) bool {
	for col, want := range eq {
		if stringify(row[col]) != want {
			return false
		}
	}
	return true
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

// compareColumn orders two stored values, parsing timestamps so that
// variable-width fractional seconds compare correctly. Nulls sort first.
func compareColumn(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	as, bs := stringify(a), stringify(b)
	ta, errA := time.Parse(time.RFC3339Nano, as)
	tb, errB := time.Parse(time.RFC3339Nano, bs)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(as, bs)
}
