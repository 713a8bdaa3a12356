package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"fileshare/internal/server/registry"
)

// Sweeper periodically hands expired share groups to the Cleaner.
type Sweeper struct {
	registry *registry.Registry
	cleaner  *Cleaner
	interval time.Duration
	cron     *cron.Cron
	done     chan struct{}
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(reg *registry.Registry, cleaner *Cleaner, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: reg,
		cleaner:  cleaner,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start schedules the sweep and runs one immediately. The schedule stops
// when ctx is cancelled; Wait blocks until any running sweep has finished.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("failed to schedule sweep %q: %w", schedule, err)
	}

	slog.Info("expiry sweeper started", "interval", s.interval)

	go func() {
		s.Sweep()
		s.cron.Start()

		<-ctx.Done()
		slog.Info("expiry sweeper stopping")
		<-s.cron.Stop().Done()
		close(s.done)
	}()
	return nil
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// Sweep enqueues cleanup for every group past its expiry and returns how
// many were scheduled. The ID list is snapshotted first so the registry can
// change freely while the sweep runs.
func (s *Sweeper) Sweep() int {
	expired := s.registry.ExpiredIDs(s.registry.Now())
	if len(expired) == 0 {
		slog.Info("no expired share groups")
		return 0
	}

	for _, id := range expired {
		s.cleaner.Enqueue(id, ReasonSwept)
	}

	slog.Info("sweep complete",
		"expired", len(expired),
		"active_groups", s.registry.Len(),
	)
	return len(expired)
}
