// Package service exposes the two operations of the async pipeline:
// submitting a batch job and fetching its status/result.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/asrqueue/asrqueue/internal/job"
	"github.com/asrqueue/asrqueue/internal/staging"
)

// SubmitResponse acknowledges a queued job.
type SubmitResponse struct {
	JobID        string     `json:"job_id"`
	Status       job.Status `json:"status"`
	PlaceInQueue int        `json:"place_in_queue"`
}

// StatusResponse reports a job's current state and, when available, its
// result payload.
type StatusResponse struct {
	JobID       string           `json:"job_id"`
	Status      job.Status       `json:"status"`
	CreatedAt   *time.Time       `json:"created_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Results     []job.FileResult `json:"results,omitempty"`
	Error       string           `json:"error,omitempty"`
}

type Service struct {
	store job.Store
	area  *staging.Area
}

func New(store job.Store, area *staging.Area) *Service {
	return &Service{store: store, area: area}
}

// Submit stages the uploaded files, inserts a pending job and reports its
// queue position. Either the job is fully queued or an error is returned;
// there is no partial success.
func (s *Service) Submit(ctx context.Context, files []staging.InputFile, p job.Params) (*SubmitResponse, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	dir, err := s.area.Stash(id, files)
	if err != nil {
		s.rollback(id)
		return nil, fmt.Errorf("stage files: %w", err)
	}

	params, err := p.Encode()
	if err != nil {
		s.rollback(id)
		return nil, err
	}

	j := &job.Job{
		ID:           id,
		Status:       job.StatusPending,
		CreatedAt:    time.Now().UTC(),
		FileLocation: dir,
		Params:       params,
	}
	place, err := s.store.CreatePending(ctx, j)
	if err != nil {
		s.rollback(id)
		return nil, fmt.Errorf("queue job: %w", err)
	}

	slog.Info("job queued", "job_id", id, "files", len(files), "place_in_queue", place)
	return &SubmitResponse{JobID: id, Status: job.StatusPending, PlaceInQueue: place}, nil
}

// rollback removes a partially staged directory. Best effort: the sweeper's
// abandoned-window scan reclaims anything left behind by a crash.
func (s *Service) rollback(jobID string) {
	if err := s.area.Remove(&job.Job{ID: jobID, FileLocation: s.area.Dir(jobID)}); err != nil {
		slog.Warn("submit rollback failed", "job_id", jobID, "error", err)
	}
}

// Get looks up a job and composes its status response. Unknown ids yield a
// response with status "error", not a Go error; old ids expire routinely.
// The first read of a completed job flips it to read.
func (s *Service) Get(ctx context.Context, id string) (*StatusResponse, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return &StatusResponse{
			JobID:  id,
			Status: job.StatusError,
			Error:  "Job not found. It may have expired.",
		}, nil
	}

	resp := &StatusResponse{
		JobID:       j.ID,
		Status:      j.Status,
		CreatedAt:   &j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}

	switch {
	case (j.Status == job.StatusCompleted || j.Status == job.StatusRead) && j.ResultsFile != "":
		results, err := staging.ReadResults(j.ResultsFile)
		if err != nil {
			// Storage-layer inconsistency, distinct from not-found and
			// from a processing failure. The status is left unchanged.
			resp.Error = "Results file not found or corrupted"
		} else {
			resp.Results = results
		}
	case j.Status == job.StatusFailed:
		resp.Error = j.Error
	}

	if j.Status == job.StatusCompleted {
		if err := s.store.MarkRead(ctx, j.ID); err != nil {
			slog.Warn("mark read failed", "job_id", j.ID, "error", err)
		}
	}
	return resp, nil
}
