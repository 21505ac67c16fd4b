package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asrqueue/asrqueue/internal/job"
	"github.com/asrqueue/asrqueue/internal/staging"
)

// fakeTranscriber returns a canned transcript per file and can be told to
// fail for specific filenames. It records the order of calls.
type fakeTranscriber struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string, p job.Params) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filename)
	f.mu.Unlock()
	if filename == f.failOn {
		return "", errors.New("unsupported codec")
	}
	return "transcript of " + filename, nil
}

func (f *fakeTranscriber) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestDeps(t *testing.T) (*job.SQLiteStore, *staging.Area) {
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
	return store, area
}

// enqueue stages one file and inserts a pending row for it.
func enqueue(t *testing.T, store job.Store, area *staging.Area, id, filename string, createdAt time.Time) {
	t.Helper()
	dir, err := area.Stash(id, []staging.InputFile{{Name: filename, Content: []byte("riff")}})
	if err != nil {
		t.Fatalf("Stash: %v", err)
	}
	params, err := job.DefaultParams().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err = store.CreatePending(context.Background(), &job.Job{
		ID:           id,
		Status:       job.StatusPending,
		CreatedAt:    createdAt,
		FileLocation: dir,
		Params:       params,
	})
	if err != nil {
		t.Fatalf("CreatePending: %v", err)
	}
}

// waitTerminal polls until every listed job has left pending/processing.
func waitTerminal(t *testing.T, store job.Store, ids ...string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		done := true
		for _, id := range ids {
			j, err := store.Get(context.Background(), id)
			if err != nil {
				t.Fatalf("Get %s: %v", id, err)
			}
			if j == nil || !j.Status.IsTerminal() {
				done = false
			}
		}
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for jobs to finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcess_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, area := newTestDeps(t)
	tr := &fakeTranscriber{}
	w := New(store, area, tr, 0, 0)

	enqueue(t, store, area, "job-1", "a.wav", time.Now().UTC())

	j, err := store.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("ClaimOldestPending: %v", err)
	}
	if j == nil {
		t.Fatal("no job claimed")
	}
	w.process(ctx, j)

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Fatalf("Status = %q, want %q (error: %s)", got.Status, job.StatusCompleted, got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil, want non-nil")
	}

	results, err := staging.ReadResults(got.ResultsFile)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	want := job.FileResult{Filename: "a.wav", Content: "transcript of a.wav"}
	if len(results) != 1 || results[0] != want {
		t.Errorf("results = %+v, want [%+v]", results, want)
	}
}

func TestProcess_CollaboratorErrorFailsWholeBatch(t *testing.T) {
	ctx := context.Background()
	store, area := newTestDeps(t)
	tr := &fakeTranscriber{failOn: "bad.wav"}
	w := New(store, area, tr, 0, 0)

	dir, err := area.Stash("job-mixed", []staging.InputFile{
		{Name: "bad.wav", Content: []byte("riff")},
		{Name: "good.wav", Content: []byte("riff")},
	})
	if err != nil {
		t.Fatalf("Stash: %v", err)
	}
	params, _ := job.DefaultParams().Encode()
	if _, err := store.CreatePending(ctx, &job.Job{
		ID: "job-mixed", CreatedAt: time.Now().UTC(), FileLocation: dir, Params: params,
	}); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	j, err := store.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("ClaimOldestPending: %v", err)
	}
	w.process(ctx, j)

	got, _ := store.Get(ctx, "job-mixed")
	if got.Status != job.StatusFailed {
		t.Fatalf("Status = %q, want %q", got.Status, job.StatusFailed)
	}
	if got.Error == "" || !strings.Contains(got.Error, "bad.wav") {
		t.Errorf("Error = %q, want mention of the failing file", got.Error)
	}
	if got.ResultsFile != "" {
		t.Errorf("ResultsFile = %q, want empty on failure", got.ResultsFile)
	}
}

// completeRefusingStore simulates a store that errors on the final
// completed-update but still accepts the failed-update.
type completeRefusingStore struct {
	job.Store
}

func (s *completeRefusingStore) Complete(ctx context.Context, id, resultsFile string) error {
	return errors.New("disk full")
}

func TestProcess_CompleteErrorMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	store, area := newTestDeps(t)
	tr := &fakeTranscriber{}
	w := New(&completeRefusingStore{Store: store}, area, tr, 0, 0)

	enqueue(t, store, area, "job-fin", "a.wav", time.Now().UTC())

	j, err := store.ClaimOldestPending(ctx)
	if err != nil {
		t.Fatalf("ClaimOldestPending: %v", err)
	}
	w.process(ctx, j)

	got, err := store.Get(ctx, "job-fin")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q (not stranded in processing)", got.Status, job.StatusFailed)
	}
	if !strings.Contains(got.Error, "disk full") {
		t.Errorf("Error = %q, want the finalize error", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt is nil, want non-nil")
	}
}

func TestStart_ProcessesFIFOAndIsolatesFailures(t *testing.T) {
	store, area := newTestDeps(t)
	tr := &fakeTranscriber{failOn: "second.wav"}
	w := New(store, area, tr, 5*time.Millisecond, 5*time.Millisecond)

	base := time.Now().UTC().Add(-time.Minute)
	enqueue(t, store, area, "j1", "first.wav", base)
	enqueue(t, store, area, "j2", "second.wav", base.Add(time.Second))
	enqueue(t, store, area, "j3", "third.wav", base.Add(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitTerminal(t, store, "j1", "j2", "j3")

	order := tr.callOrder()
	wantOrder := []string{"first.wav", "second.wav", "third.wav"}
	if len(order) != len(wantOrder) {
		t.Fatalf("calls = %v, want %v", order, wantOrder)
	}
	for i := range wantOrder {
		if order[i] != wantOrder[i] {
			t.Errorf("call %d = %q, want %q", i, order[i], wantOrder[i])
		}
	}

	statuses := map[string]job.Status{
		"j1": job.StatusCompleted,
		"j2": job.StatusFailed,
		"j3": job.StatusCompleted,
	}
	for id, want := range statuses {
		j, _ := store.Get(context.Background(), id)
		if j.Status != want {
			t.Errorf("%s Status = %q, want %q", id, j.Status, want)
		}
	}
}
