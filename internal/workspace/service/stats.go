package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/store"
)

// StatsService computes the dashboard over every row of the tenant.
type StatsService struct {
	Store   store.Store
	Tenants TenantSource
	Now     func() time.Time
}

// Dashboard fetches tasks, notes and pomodoro sessions concurrently and
// summarises them.
func (s *StatsService) Dashboard(ctx context.Context) (domain.Stats, error) {
	tenant, err := currentTenant(ctx, s.Tenants)
	if err != nil {
		return domain.Stats{}, err
	}

	all := store.ListOptions{Limit: -1}
	var (
		tasks    []domain.Task
		notes    []domain.Note
		sessions []domain.PomodoroSession
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = s.Store.Tasks().List(gctx, tenant, all)
		return classify("list tasks", err)
	})
	g.Go(func() error {
		var err error
		notes, err = s.Store.Notes().List(gctx, tenant, all)
		return classify("list notes", err)
	})
	g.Go(func() error {
		var err error
		sessions, err = s.Store.PomodoroSessions().List(gctx, tenant, all)
		return classify("list pomodoro sessions", err)
	})
	if err := g.Wait(); err != nil {
		return domain.Stats{}, err
	}

	return domain.ComputeStats(tasks, notes, sessions, clock(s.Now)), nil
}
