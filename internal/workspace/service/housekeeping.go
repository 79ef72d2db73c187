package service

import (
	"context"
	"log/slog"
	"time"
)

// HousekeepingService repeats the admin security sweep in the background so
// a profile elevated outside the app is downgraded without waiting for the
// next sign-in.
type HousekeepingService struct {
	Permissions *PermissionService
	Logger      *slog.Logger
	Interval    time.Duration

	// Active reports whether a sweep can run now, typically whether a user
	// is signed in. Nil means always.
	Active func() bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the sweeper. If interval is 0 or negative,
// defaults to 1 hour.
func NewHousekeepingService(perms *PermissionService, logger *slog.Logger, interval time.Duration, active func() bool) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}

	return &HousekeepingService{
		Permissions: perms,
		Logger:      logger,
		Interval:    interval,
		Active:      active,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HousekeepingService) sweep() {
	if s.Active != nil && !s.Active() {
		s.Logger.Debug("housekeeping skipped, no active session")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
	defer cancel()

	report, err := s.Permissions.EnforceAdminSecurity(ctx)
	if err != nil {
		s.Logger.Error("admin sweep failed", "error", err, "downgraded", len(report.Downgraded))
		return
	}
	s.Logger.Info("admin sweep completed", "scanned", report.Scanned, "downgraded", len(report.Downgraded))
}
