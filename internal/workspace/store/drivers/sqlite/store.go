// Package sqlite keeps the offline workspace and client-side state in a local
// SQLite file. Collections are stored as JSON documents under namespaced
// keys, one document per tenant and collection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	_ "modernc.org/sqlite"
)

// keyPrefix namespaces every collection document.
const keyPrefix = "personal-workspace-"

const timeLayout = time.RFC3339Nano

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the database at dsn. Use ":memory:" in tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// A single connection serialises read-modify-write of documents and
	// keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// WithClock overrides the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Tenants() store.Tenants   { return &tenantsRepo{s: s} }
func (s *Store) Profiles() store.Profiles { return &profilesRepo{s: s} }

func (s *Store) Tasks() store.Tasks {
	return &collection[domain.Task]{s: s, table: store.TasksTable}
}

func (s *Store) Notes() store.Notes {
	return &collection[domain.Note]{s: s, table: store.NotesTable}
}

func (s *Store) PomodoroSessions() store.PomodoroSessions {
	return &collection[domain.PomodoroSession]{s: s, table: store.PomodoroSessionsTable}
}

func (s *Store) ChatMessages() store.ChatMessages {
	return &collection[domain.ChatMessage]{s: s, table: store.ChatMessagesTable}
}

// WithTx runs fn in a transaction, committing when it returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// getJSON decodes the value under key into dest. It reports false when the
// key is absent.
func getJSON(ctx context.Context, q queryer, key string, dest any) (bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM local_state WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("sqlite: decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(ctx context.Context, q queryer, key string, v any, now time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sqlite: encode %s: %w", key, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO local_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), now.UTC().Format(timeLayout))
	return err
}

func deleteKey(ctx context.Context, q queryer, key string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM local_state WHERE key = ?`, key)
	return err
}

// GetState reads a raw local_state value into dest.
func (s *Store) GetState(ctx context.Context, key string, dest any) (bool, error) {
	return getJSON(ctx, s.db, key, dest)
}

// PutState writes v under key.
func (s *Store) PutState(ctx context.Context, key string, v any) error {
	return putJSON(ctx, s.db, key, v, s.now())
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
