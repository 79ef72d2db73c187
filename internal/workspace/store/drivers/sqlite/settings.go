package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
)

// PomodoroSettings returns the saved timer settings or the defaults.
func (s *Store) PomodoroSettings(ctx context.Context) (domain.PomodoroSettings, error) {
	settings := domain.DefaultPomodoroSettings()
	if _, err := getJSON(ctx, s.db, domain.PomodoroSettingsKey, &settings); err != nil {
		return domain.DefaultPomodoroSettings(), err
	}
	return settings, nil
}

func (s *Store) SavePomodoroSettings(ctx context.Context, settings domain.PomodoroSettings) error {
	return putJSON(ctx, s.db, domain.PomodoroSettingsKey, settings, s.now())
}

// CompletedPomodoros returns the running count of finished work blocks.
func (s *Store) CompletedPomodoros(ctx context.Context) (int, error) {
	var n int
	_, err := getJSON(ctx, s.db, domain.CompletedPomodorosKey, &n)
	return n, err
}

// IncrementCompletedPomodoros bumps the counter and returns the new value.
func (s *Store) IncrementCompletedPomodoros(ctx context.Context) (int, error) {
	var n int
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := getJSON(ctx, tx, domain.CompletedPomodorosKey, &n); err != nil {
			return err
		}
		n++
		return putJSON(ctx, tx, domain.CompletedPomodorosKey, n, s.now())
	})
	return n, err
}
