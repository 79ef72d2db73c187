package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
	"github.com/aussiebroadwan/workspace/pkg/slogx"
)

// PomodoroSettingsStore persists the timer settings and the completed-block
// counter on this machine only.
type PomodoroSettingsStore interface {
	PomodoroSettings(ctx context.Context) (domain.PomodoroSettings, error)
	SavePomodoroSettings(ctx context.Context, s domain.PomodoroSettings) error
	CompletedPomodoros(ctx context.Context) (int, error)
	IncrementCompletedPomodoros(ctx context.Context) (int, error)
}

type PomodoroService struct {
	Store    store.Store
	Tenants  TenantSource
	Settings PomodoroSettingsStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// List returns the most recent sessions, newest first.
func (s *PomodoroService) List(ctx context.Context) ([]domain.PomodoroSession, error) {
	return listRows(ctx, s.Tenants, s.Store.PomodoroSessions(), "list pomodoro sessions", store.ListOptions{})
}

func (s *PomodoroService) Create(ctx context.Context, in domain.PomodoroInput) (domain.PomodoroSession, error) {
	return createRow(ctx, s.Tenants, s.Store.PomodoroSessions(), "create pomodoro session", in, func(t domain.TenantID) domain.PomodoroSession {
		return in.Draft(t, clock(s.Now))
	})
}

func (s *PomodoroService) Update(ctx context.Context, id string, patch domain.PomodoroPatch) (domain.PomodoroSession, error) {
	return updateRow(ctx, s.Tenants, s.Store.PomodoroSessions(), "update pomodoro session", id, patch, patch.Columns(clock(s.Now)))
}

func (s *PomodoroService) Delete(ctx context.Context, id string) error {
	return deleteRow(ctx, s.Tenants, s.Store.PomodoroSessions(), "delete pomodoro session", id)
}

// Complete marks a session finished and bumps the local completed counter.
// A counter failure is logged; the session update still stands.
func (s *PomodoroService) Complete(ctx context.Context, id string) (domain.PomodoroSession, error) {
	done := true
	session, err := s.Update(ctx, id, domain.PomodoroPatch{Completed: &done})
	if err != nil {
		return session, err
	}

	if s.Settings != nil {
		if _, err := s.Settings.IncrementCompletedPomodoros(ctx); err != nil {
			s.logger().Error("failed to count completed pomodoro", "id", id, "error", err)
		}
	}
	return session, nil
}

// LoadSettings returns the timer settings, or the defaults when none are
// stored.
func (s *PomodoroService) LoadSettings(ctx context.Context) (domain.PomodoroSettings, error) {
	if s.Settings == nil {
		return domain.DefaultPomodoroSettings(), nil
	}
	settings, err := s.Settings.PomodoroSettings(ctx)
	return settings, domain.Backend("load pomodoro settings", err)
}

func (s *PomodoroService) SaveSettings(ctx context.Context, settings domain.PomodoroSettings) (domain.PomodoroSettings, error) {
	if err := Validate(settings); err != nil {
		return domain.PomodoroSettings{}, err
	}
	if s.Settings == nil {
		return domain.PomodoroSettings{}, domain.Backend("save pomodoro settings", errNoLocalStore)
	}
	if err := s.Settings.SavePomodoroSettings(ctx, settings); err != nil {
		return domain.PomodoroSettings{}, domain.Backend("save pomodoro settings", err)
	}
	return settings, nil
}

// TimerState is the local timer position: how many blocks were completed
// and how long the next break lasts.
type TimerState struct {
	Settings  domain.PomodoroSettings `json:"settings"`
	Completed int                     `json:"completed"`
	NextBreak time.Duration           `json:"next_break"`
}

func (s *PomodoroService) Timer(ctx context.Context) (TimerState, error) {
	settings, err := s.LoadSettings(ctx)
	if err != nil {
		return TimerState{}, err
	}

	var completed int
	if s.Settings != nil {
		if completed, err = s.Settings.CompletedPomodoros(ctx); err != nil {
			return TimerState{}, domain.Backend("load pomodoro counter", err)
		}
	}
	return TimerState{Settings: settings, Completed: completed, NextBreak: settings.NextBreak(completed)}, nil
}

func (s *PomodoroService) logger() *slog.Logger {
	if s.Logger == nil {
		return slogx.Discard()
	}
	return s.Logger
}
