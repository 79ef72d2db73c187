// Package rest implements the store over the backend's data API. Row-level
// security on the server already scopes rows to the caller; every query here
// also filters on tenant_id explicitly.
package rest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/baas"
)

type Store struct {
	client *baas.Client
}

func NewStore(client *baas.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Tenants() store.Tenants   { return &tenantsRepo{c: s.client} }
func (s *Store) Profiles() store.Profiles { return &profilesRepo{c: s.client} }

func (s *Store) Tasks() store.Tasks {
	return &collection[domain.Task]{c: s.client, table: store.TasksTable}
}

func (s *Store) Notes() store.Notes {
	return &collection[domain.Note]{c: s.client, table: store.NotesTable}
}

func (s *Store) PomodoroSessions() store.PomodoroSessions {
	return &collection[domain.PomodoroSession]{c: s.client, table: store.PomodoroSessionsTable}
}

func (s *Store) ChatMessages() store.ChatMessages {
	return &collection[domain.ChatMessage]{c: s.client, table: store.ChatMessagesTable}
}

// Close is a no-op; the HTTP client owns no resources worth releasing.
func (s *Store) Close() error { return nil }

// Ping checks the backend's auth health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Health(ctx)
	return err
}

// mapError translates data API failures into store and domain errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, baas.ErrNoSession):
		return fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	case baas.IsCode(err, baas.CodeNoRows):
		return store.ErrNotFound
	case baas.IsCode(err, baas.CodeUniqueViolation):
		return fmt.Errorf("%w: %w", store.ErrAlreadyExists, err)
	}
	return err
}

// validID reports whether id can match a uuid primary key. Anything else
// would be rejected by the server with an input syntax error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func requireTenant(tenant domain.TenantID) error {
	if tenant.IsZero() {
		return domain.ErrNoTenant
	}
	return nil
}
