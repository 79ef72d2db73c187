package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/cryptox"
)

const saltKey = keyPrefix + "session-salt"

// SessionStorage persists auth sessions sealed with a key derived from a
// passphrase. It satisfies baas.SessionStorage.
type SessionStorage struct {
	s      *Store
	sealer *cryptox.Sealer
}

// NewSessionStorage derives the sealing key from passphrase and a salt kept
// in the database, creating the salt on first use.
func (s *Store) NewSessionStorage(ctx context.Context, passphrase []byte) (*SessionStorage, error) {
	var salt []byte
	found, err := getJSON(ctx, s.db, saltKey, &salt)
	if err != nil {
		return nil, err
	}
	if !found {
		if salt, err = cryptox.NewSalt(); err != nil {
			return nil, err
		}
		if err := putJSON(ctx, s.db, saltKey, salt, s.now()); err != nil {
			return nil, err
		}
	}

	sealer, err := cryptox.NewSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return &SessionStorage{s: s, sealer: sealer}, nil
}

// Load returns (nil, nil) when nothing is stored. A session sealed under a
// different passphrase is dropped and reported as absent.
func (ss *SessionStorage) Load(ctx context.Context, key string) ([]byte, error) {
	var sealed []byte
	err := ss.s.db.QueryRowContext(ctx, `SELECT sealed FROM auth_sessions WHERE key = ?`, key).Scan(&sealed)
	if errors.Is(mapNotFound(err), store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	plain, err := ss.sealer.Open(sealed, []byte(key))
	if err != nil {
		if errors.Is(err, cryptox.ErrDecrypt) || errors.Is(err, cryptox.ErrCiphertext) {
			_ = ss.Delete(ctx, key)
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: open session: %w", err)
	}
	return plain, nil
}

func (ss *SessionStorage) Save(ctx context.Context, key string, value []byte) error {
	sealed, err := ss.sealer.Seal(value, []byte(key))
	if err != nil {
		return err
	}
	_, err = ss.s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (key, sealed, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at`,
		key, sealed, ss.s.now().UTC().Format(timeLayout))
	return err
}

func (ss *SessionStorage) Delete(ctx context.Context, key string) error {
	_, err := ss.s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE key = ?`, key)
	return err
}
