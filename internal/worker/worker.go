// Package worker runs the single background loop that drains the pending
// queue: claim the oldest job, run it through the ASR collaborator and
// persist the outcome. Jobs are processed strictly one at a time so the
// model backend is never contended by this layer.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/asrqueue/asrqueue/internal/asr"
	"github.com/asrqueue/asrqueue/internal/job"
	"github.com/asrqueue/asrqueue/internal/staging"
)

const (
	defaultPollInterval  = time.Second
	defaultErrorInterval = 5 * time.Second
)

type Worker struct {
	store        job.Store
	area         *staging.Area
	tr           asr.Transcriber
	pollInterval time.Duration
	errInterval  time.Duration
}

// New constructs a Worker. Zero intervals fall back to defaults.
func New(store job.Store, area *staging.Area, tr asr.Transcriber, pollInterval, errInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if errInterval <= 0 {
		errInterval = defaultErrorInterval
	}
	return &Worker{store: store, area: area, tr: tr, pollInterval: pollInterval, errInterval: errInterval}
}

// Start launches the worker loop. It runs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		j, err := w.store.ClaimOldestPending(ctx)
		if err != nil {
			// Transient store trouble must not kill the loop.
			slog.Error("worker: claim failed", "error", err)
			if !sleep(ctx, w.errInterval) {
				return
			}
			continue
		}
		if j == nil {
			if !sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		w.process(ctx, j)
	}
}

// process runs one claimed job to completion or failure. Every per-job
// error ends up on the row, never in the loop.
func (w *Worker) process(ctx context.Context, j *job.Job) {
	slog.Info("worker: processing job", "job_id", j.ID)

	results, err := w.transcribeBatch(ctx, j)
	if err == nil {
		var path string
		path, err = w.area.WriteResults(j.ID, results)
		if err == nil {
			err = w.store.Complete(ctx, j.ID, path)
			if err == nil {
				slog.Info("worker: job completed", "job_id", j.ID, "files", len(results))
				return
			}
			// A stranded processing row would poll as in-flight until the
			// abandoned sweep; mark it failed like any other late error.
			err = fmt.Errorf("finalize job: %w", err)
		}
	}

	slog.Warn("worker: job failed", "job_id", j.ID, "error", err)
	if ferr := w.store.Fail(ctx, j.ID, err.Error()); ferr != nil {
		slog.Error("worker: fail update failed", "job_id", j.ID, "error", ferr)
	}
}

// transcribeBatch feeds every staged file through the collaborator. The
// first file error aborts the whole batch; there is no partial success.
func (w *Worker) transcribeBatch(ctx context.Context, j *job.Job) ([]job.FileResult, error) {
	p, err := job.DecodeParams(j.Params)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(j.FileLocation)
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	var results []job.FileResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := w.transcribeFile(ctx, filepath.Join(j.FileLocation, entry.Name()), entry.Name(), p)
		if err != nil {
			return nil, fmt.Errorf("transcribe %s: %w", entry.Name(), err)
		}
		results = append(results, job.FileResult{Filename: entry.Name(), Content: content})
	}
	return results, nil
}

func (w *Worker) transcribeFile(ctx context.Context, path, name string, p job.Params) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return w.tr.Transcribe(ctx, f, name, p)
}

// sleep waits for d or until ctx is cancelled; it reports whether the
// caller should keep running.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
