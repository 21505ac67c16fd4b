// Package sweeper periodically purges jobs past their retention window.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/asrqueue/asrqueue/internal/job"
	"github.com/asrqueue/asrqueue/internal/staging"
)

const (
	defaultInterval    = time.Minute
	defaultErrInterval = 5 * time.Second
)

type Sweeper struct {
	store job.Store
	area  *staging.Area

	// readRetention bounds read and failed jobs; abandonedRetention, much
	// larger, bounds jobs that never reached a fetched result (pending,
	// processing and never-read completed).
	readRetention      time.Duration
	abandonedRetention time.Duration

	interval    time.Duration
	errInterval time.Duration
}

func New(store job.Store, area *staging.Area, readRetention, abandonedRetention time.Duration) *Sweeper {
	return &Sweeper{
		store:              store,
		area:               area,
		readRetention:      readRetention,
		abandonedRetention: abandonedRetention,
		interval:           defaultInterval,
		errInterval:        defaultErrInterval,
	}
}

// Start launches the sweep loop. It runs until ctx is cancelled, retrying
// on a short interval after a failed pass.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		wait := s.interval
		if err := s.Sweep(ctx); err != nil {
			slog.Error("sweeper: pass failed", "error", err)
			wait = s.errInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Sweep performs one retention pass: select expired jobs, delete their
// staged files, then delete their rows. Row deletion only happens after
// file deletion was attempted, so a crash mid-pass leaves rows that the
// next pass retries; a missing file is not an error.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	expired, err := s.store.ExpiredJobs(ctx, now.Add(-s.readRetention), now.Add(-s.abandonedRetention))
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	ids := make([]string, 0, len(expired))
	for _, j := range expired {
		if err := s.area.Remove(j); err != nil {
			slog.Warn("sweeper: file removal failed", "job_id", j.ID, "error", err)
			continue
		}
		ids = append(ids, j.ID)
	}

	if err := s.store.Delete(ctx, ids); err != nil {
		return err
	}
	slog.Info("sweeper: purged jobs", "count", len(ids))
	return nil
}
