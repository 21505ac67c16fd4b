package job

import (
	"context"
	"time"
)

// Store persists and retrieves jobs. It is shared by the submission and
// status services, the worker loop and the retention sweeper, which all run
// on independent goroutines; implementations must serialize conflicting
// read-modify-write sequences.
type Store interface {
	// CreatePending inserts j with status pending and returns the job's
	// 1-based rank among pending jobs, both in one transaction.
	CreatePending(ctx context.Context, j *Job) (int, error)
	// Get returns the job with the given id, or nil if it does not exist.
	Get(ctx context.Context, id string) (*Job, error)
	// ClaimOldestPending atomically selects the oldest pending job (by
	// created_at, ties broken by id) and marks it processing. Returns nil
	// when no pending job exists.
	ClaimOldestPending(ctx context.Context) (*Job, error)
	// Complete moves a job to completed and records its results file.
	Complete(ctx context.Context, id, resultsFile string) error
	// Fail moves a job to failed and records the error text.
	Fail(ctx context.Context, id, errMsg string) error
	// MarkRead flips a completed job to read. A row in any other status is
	// left untouched, so the transition happens at most once.
	MarkRead(ctx context.Context, id string) error
	// ExpiredJobs returns jobs past their retention window: read/failed
	// jobs created before readCutoff, and pending/processing/completed
	// jobs created before abandonedCutoff.
	ExpiredJobs(ctx context.Context, readCutoff, abandonedCutoff time.Time) ([]*Job, error)
	// Delete removes the rows for the given ids.
	Delete(ctx context.Context, ids []string) error
	Close() error
}
