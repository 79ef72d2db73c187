package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. The remote driver talks to the
// backend's data API; the sqlite driver keeps the offline workspace on disk.
// Every tenant-scoped repository takes a domain.TenantID so a query without
// the tenant filter cannot be written.
type Store interface {
	Tenants() Tenants
	Profiles() Profiles
	Tasks() Tasks
	Notes() Notes
	PomodoroSessions() PomodoroSessions
	ChatMessages() ChatMessages

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}

type Tenants interface {
	// GetByUser returns the tenant owned by userID.
	GetByUser(ctx context.Context, userID string) (domain.Tenant, error)

	// Create inserts a tenant. A second tenant for the same user fails with
	// ErrAlreadyExists.
	Create(ctx context.Context, t domain.Tenant) (domain.Tenant, error)

	// UpdateSettings replaces the settings map and bumps updated_at.
	UpdateSettings(ctx context.Context, id domain.TenantID, settings map[string]any, now time.Time) (domain.Tenant, error)
}

type Profiles interface {
	Get(ctx context.Context, id string) (domain.Profile, error)
	List(ctx context.Context) ([]domain.Profile, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.Profile, error)
	Create(ctx context.Context, p domain.Profile) (domain.Profile, error)
	UpdateRole(ctx context.Context, id string, role domain.Role, now time.Time) (domain.Profile, error)
}

// ListOptions narrows a collection listing. Zero values mean no filter and
// the collection's default limit.
type ListOptions struct {
	// Eq filters on column equality.
	Eq map[string]string

	// Limit caps the number of rows; 0 uses the collection default, a
	// negative value removes the cap.
	Limit int
}

// Collection is the uniform tenant-scoped CRUD contract. Rows come back in
// the collection's fixed order (see Tables).
type Collection[T any] interface {
	List(ctx context.Context, tenant domain.TenantID, opts ListOptions) ([]T, error)

	// Create inserts draft for tenant and returns the stored row with its
	// assigned id and timestamps.
	Create(ctx context.Context, tenant domain.TenantID, draft T) (T, error)

	// Update applies column updates to the row matching both id and tenant.
	// No matching row is ErrNotFound.
	Update(ctx context.Context, tenant domain.TenantID, id string, cols map[string]any) (T, error)

	// Delete removes the row matching both id and tenant. A missing row is
	// not an error.
	Delete(ctx context.Context, tenant domain.TenantID, id string) error

	// DeleteAll removes every row of tenant.
	DeleteAll(ctx context.Context, tenant domain.TenantID) error
}

type (
	Tasks            = Collection[domain.Task]
	Notes            = Collection[domain.Note]
	PomodoroSessions = Collection[domain.PomodoroSession]
	ChatMessages     = Collection[domain.ChatMessage]
)

// Table describes how a collection is stored and ordered.
type Table struct {
	Name         string
	OrderBy      string
	Ascending    bool
	DefaultLimit int

	// Timestamps the store assigns on insert.
	Timestamps []string
}

var (
	TasksTable            = Table{Name: "tasks", OrderBy: "created_at", Timestamps: []string{"created_at", "updated_at"}}
	NotesTable            = Table{Name: "notes", OrderBy: "updated_at", Timestamps: []string{"created_at", "updated_at"}}
	PomodoroSessionsTable = Table{Name: "pomodoro_sessions", OrderBy: "started_at", DefaultLimit: 10, Timestamps: []string{"created_at"}}
	ChatMessagesTable     = Table{Name: "chat_messages", OrderBy: "created_at", Ascending: true, DefaultLimit: 50, Timestamps: []string{"created_at"}}
)

// Limit resolves the effective row cap for opts; 0 means unlimited.
func (t Table) Limit(opts ListOptions) int {
	switch {
	case opts.Limit > 0:
		return opts.Limit
	case opts.Limit < 0:
		return 0
	}
	return t.DefaultLimit
}
