package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/workspace/internal/workspace/domain"
	"github.com/aussiebroadwan/workspace/internal/workspace/session"
	"github.com/aussiebroadwan/workspace/internal/workspace/state"
)

// follower keeps the state store in step with the session: any change of
// tenant empties the store, and a newly resolved tenant is hydrated.
type follower struct {
	ctx    context.Context
	state  *state.Store
	logger *slog.Logger

	mu     sync.Mutex
	tenant domain.TenantID
	wg     sync.WaitGroup
}

func newFollower(ctx context.Context, st *state.Store, logger *slog.Logger) *follower {
	return &follower{ctx: ctx, state: st, logger: logger}
}

// observe is a session.Manager subscriber.
func (f *follower) observe(s session.State) {
	var next domain.TenantID
	if s.User != nil && s.Tenant != nil {
		next = s.Tenant.ID
	}

	f.mu.Lock()
	prev := f.tenant
	f.tenant = next
	f.mu.Unlock()

	if next == prev {
		return
	}

	f.state.Reset()
	if next.IsZero() {
		f.logger.Info("workspace state cleared")
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.state.Hydrate(f.ctx); err != nil {
			f.logger.Warn("workspace hydration incomplete", "tenant", next, "error", err)
			return
		}
		f.logger.Info("workspace state loaded", "tenant", next)
	}()
}

// wait blocks until in-flight hydrations finish.
func (f *follower) wait() { f.wg.Wait() }
