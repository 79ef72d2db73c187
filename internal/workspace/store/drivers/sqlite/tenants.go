package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/idx"
)

const (
	tenantsKey  = keyPrefix + "tenants"
	profilesKey = keyPrefix + "user-profiles"
)

type tenantsRepo struct {
	s *Store
}

func (r *tenantsRepo) load(ctx context.Context, q queryer) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	_, err := getJSON(ctx, q, tenantsKey, &tenants)
	return tenants, err
}

func (r *tenantsRepo) GetByUser(ctx context.Context, userID string) (domain.Tenant, error) {
	tenants, err := r.load(ctx, r.s.db)
	if err != nil {
		return domain.Tenant{}, err
	}
	for _, t := range tenants {
		if t.UserID == userID {
			return t, nil
		}
	}
	return domain.Tenant{}, store.ErrNotFound
}

// Create keeps t.ID when set so the offline tenant can use a fixed id.
func (r *tenantsRepo) Create(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	now := r.s.now().UTC()
	if t.ID.IsZero() {
		t.ID = domain.TenantID(idx.NewAt(now))
	}
	if t.Settings == nil {
		t.Settings = map[string]any{}
	}
	t.CreatedAt, t.UpdatedAt = now, now

	err := r.s.WithTx(ctx, func(tx *sql.Tx) error {
		tenants, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		for _, existing := range tenants {
			if existing.UserID == t.UserID || existing.ID == t.ID {
				return store.ErrAlreadyExists
			}
		}
		return putJSON(ctx, tx, tenantsKey, append(tenants, t), now)
	})
	if err != nil {
		return domain.Tenant{}, err
	}
	return t, nil
}

func (r *tenantsRepo) UpdateSettings(ctx context.Context, id domain.TenantID, settings map[string]any, now time.Time) (domain.Tenant, error) {
	if settings == nil {
		settings = map[string]any{}
	}

	var out domain.Tenant
	err := r.s.WithTx(ctx, func(tx *sql.Tx) error {
		tenants, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		for i := range tenants {
			if tenants[i].ID == id {
				tenants[i].Settings = settings
				tenants[i].UpdatedAt = now.UTC()
				out = tenants[i]
				return putJSON(ctx, tx, tenantsKey, tenants, now)
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

type profilesRepo struct {
	s *Store
}

func (r *profilesRepo) load(ctx context.Context, q queryer) ([]domain.Profile, error) {
	var profiles []domain.Profile
	_, err := getJSON(ctx, q, profilesKey, &profiles)
	return profiles, err
}

func (r *profilesRepo) Get(ctx context.Context, id string) (domain.Profile, error) {
	profiles, err := r.load(ctx, r.s.db)
	if err != nil {
		return domain.Profile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Profile{}, store.ErrNotFound
}

func (r *profilesRepo) List(ctx context.Context) ([]domain.Profile, error) {
	profiles, err := r.load(ctx, r.s.db)
	if profiles == nil {
		profiles = []domain.Profile{}
	}
	return profiles, err
}

func (r *profilesRepo) ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error) {
	profiles, err := r.load(ctx, r.s.db)
	if err != nil {
		return nil, err
	}
	out := []domain.Profile{}
	for _, p := range profiles {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *profilesRepo) Create(ctx context.Context, p domain.Profile) (domain.Profile, error) {
	now := r.s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	if p.Role == "" {
		p.Role = domain.RoleUser
	}

	err := r.s.WithTx(ctx, func(tx *sql.Tx) error {
		profiles, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		for _, existing := range profiles {
			if existing.ID == p.ID || strings.EqualFold(existing.Email, p.Email) {
				return store.ErrAlreadyExists
			}
		}
		return putJSON(ctx, tx, profilesKey, append(profiles, p), now)
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func (r *profilesRepo) UpdateRole(ctx context.Context, id string, role domain.Role, now time.Time) (domain.Profile, error) {
	var out domain.Profile
	err := r.s.WithTx(ctx, func(tx *sql.Tx) error {
		profiles, err := r.load(ctx, tx)
		if err != nil {
			return err
		}
		for i := range profiles {
			if profiles[i].ID == id {
				profiles[i].Role = role
				profiles[i].UpdatedAt = now.UTC()
				out = profiles[i]
				return putJSON(ctx, tx, profilesKey, profiles, now)
			}
		}
		return store.ErrNotFound
	})
	return out, err
}
