package service

import (
	"context"
	"os"
	"testing"

	"github.com/asrqueue/asrqueue/internal/job"
	"github.com/asrqueue/asrqueue/internal/staging"
)

func newTestService(t *testing.T) (*Service, *job.SQLiteStore, *staging.Area) {
	t.Helper()
	store, err := job.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	area, err := staging.NewArea(t.TempDir())
	if err != nil {
		t.Fatalf("NewArea: %v", err)
	}
	return New(store, area), store, area
}

func wavFiles() []staging.InputFile {
	return []staging.InputFile{{Name: "a.wav", Content: []byte("riff")}}
}

func TestSubmit_QueuesJob(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	resp, err := svc.Submit(ctx, wavFiles(), job.DefaultParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", resp.Status, job.StatusPending)
	}
	if resp.PlaceInQueue != 1 {
		t.Errorf("PlaceInQueue = %d, want 1", resp.PlaceInQueue)
	}

	j, err := store.Get(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j == nil {
		t.Fatal("job row missing after Submit")
	}
	if _, err := os.Stat(j.FileLocation); err != nil {
		t.Errorf("staging dir missing: %v", err)
	}

	p, err := job.DecodeParams(j.Params)
	if err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}
	if p != job.DefaultParams() {
		t.Errorf("stored params = %+v, want defaults", p)
	}
}

func TestSubmit_SecondJobIsSecondInQueue(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	if _, err := svc.Submit(ctx, wavFiles(), job.DefaultParams()); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	resp, err := svc.Submit(ctx, wavFiles(), job.DefaultParams())
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if resp.PlaceInQueue != 2 {
		t.Errorf("PlaceInQueue = %d, want 2", resp.PlaceInQueue)
	}
}

func TestSubmit_RejectsInvalidParams(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	p := job.DefaultParams()
	p.Task = "summarize"
	if _, err := svc.Submit(ctx, wavFiles(), p); err == nil {
		t.Error("expected error for invalid task")
	}

	if _, err := svc.Submit(ctx, nil, job.DefaultParams()); err == nil {
		t.Error("expected error for empty file list")
	}
}

func TestGet_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	resp, err := svc.Get(ctx, "nonexistent-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Status != job.StatusError {
		t.Errorf("Status = %q, want %q", resp.Status, job.StatusError)
	}
	if resp.Error == "" {
		t.Error("Error is empty, want an explanation")
	}
}

// completeJob fakes the worker: writes a results payload and finalizes the row.
func completeJob(t *testing.T, store job.Store, area *staging.Area, id string, results []job.FileResult) {
	t.Helper()
	ctx := context.Background()
	path, err := area.WriteResults(id, results)
	if err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	if err := store.Complete(ctx, id, path); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestGet_ReadOnceTransition(t *testing.T) {
	ctx := context.Background()
	svc, store, area := newTestService(t)

	sub, err := svc.Submit(ctx, wavFiles(), job.DefaultParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := []job.FileResult{{Filename: "a.wav", Content: "the transcript"}}
	completeJob(t, store, area, sub.JobID, want)

	first, err := svc.Get(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if first.Status != job.StatusCompleted {
		t.Errorf("first Status = %q, want %q", first.Status, job.StatusCompleted)
	}
	if len(first.Results) != 1 || first.Results[0] != want[0] {
		t.Errorf("first Results = %+v, want %+v", first.Results, want)
	}

	second, err := svc.Get(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if second.Status != job.StatusRead {
		t.Errorf("second Status = %q, want %q", second.Status, job.StatusRead)
	}
	if len(second.Results) != 1 || second.Results[0] != want[0] {
		t.Errorf("second Results = %+v, want identical payload", second.Results)
	}
}

func TestGet_CorruptedResults(t *testing.T) {
	ctx := context.Background()
	svc, store, area := newTestService(t)

	sub, err := svc.Submit(ctx, wavFiles(), job.DefaultParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	completeJob(t, store, area, sub.JobID, []job.FileResult{{Filename: "a.wav", Content: "x"}})

	// Destroy the payload after completion.
	j, _ := store.Get(ctx, sub.JobID)
	if err := os.Remove(j.ResultsFile); err != nil {
		t.Fatalf("Remove results: %v", err)
	}

	resp, err := svc.Get(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q (unchanged)", resp.Status, job.StatusCompleted)
	}
	if resp.Error != "Results file not found or corrupted" {
		t.Errorf("Error = %q", resp.Error)
	}
	if resp.Results != nil {
		t.Errorf("Results = %+v, want nil", resp.Results)
	}
}

func TestGet_FailedJobSurfacesError(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	sub, err := svc.Submit(ctx, wavFiles(), job.DefaultParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := store.Fail(ctx, sub.JobID, "decoder blew up"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	resp, err := svc.Get(ctx, sub.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q", resp.Status, job.StatusFailed)
	}
	if resp.Error != "decoder blew up" {
		t.Errorf("Error = %q, want %q", resp.Error, "decoder blew up")
	}
	if resp.CompletedAt == nil {
		t.Error("CompletedAt is nil, want non-nil")
	}
}
