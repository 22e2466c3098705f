package worker

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docvoice/internal/audio"
	"docvoice/internal/filestore"
	"docvoice/internal/models"
	"docvoice/internal/pipeline"
	"docvoice/internal/queue"
	"docvoice/internal/storage"
)

func openTestStore(t *testing.T) *storage.JobStore {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return storage.NewJobStore(db)
}

func openTestFiles(t *testing.T) *filestore.DiskStore {
	t.Helper()
	fs, err := filestore.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	return fs
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	result *pipeline.Result
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, job *models.Job, document []byte) (*pipeline.Result, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type runnerFunc func(ctx context.Context, job *models.Job, document []byte) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, job *models.Job, document []byte) (*pipeline.Result, error) {
	return f(ctx, job, document)
}

// gateRunner blocks inside Run until released, so tests can hold a job
// in-flight.
type gateRunner struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func newGateRunner(err error) *gateRunner {
	return &gateRunner{started: make(chan struct{}), release: make(chan struct{}), err: err}
}

func (r *gateRunner) Run(ctx context.Context, job *models.Job, document []byte) (*pipeline.Result, error) {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return successResult(), nil
}

func successResult() *pipeline.Result {
	return &pipeline.Result{
		Text:   "spoken text",
		Chunks: []models.TextChunk{{Index: 0, Text: "spoken text"}},
		Track: &audio.Track{
			WAV:        []byte("RIFF fake wav payload"),
			Duration:   2 * time.Second,
			Timestamps: []models.TimestampChunk{{Text: "spoken text", Start: 0, End: 2}},
		},
	}
}

func seedJob(t *testing.T, jobs *storage.JobStore, files filestore.Store, id string) *models.Job {
	t.Helper()
	ref, err := files.Store([]byte("%PDF-1.4 fake"), "pdf")
	if err != nil {
		t.Fatalf("store document: %v", err)
	}
	job := &models.Job{
		ID:           id,
		OwnerID:      1,
		DocumentRef:  ref,
		DocumentName: "paper.pdf",
		Language:     "en",
		Status:       models.StatusQueued,
	}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestProcessHappyPath(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	ctx := context.Background()
	seedJob(t, jobs, files, "j1")

	runner := &fakeRunner{result: successResult()}
	m := NewManager(jobs, files, runner, nil, 0, time.Minute)

	if err := m.Process(ctx, "j1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	job, err := jobs.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != models.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}
	if job.AudioRef == "" || job.ResultText == "" {
		t.Fatalf("result not persisted: %#v", job)
	}
	if _, err := files.Fetch(job.AudioRef); err != nil {
		t.Fatalf("audio artifact missing: %v", err)
	}
	if len(job.Timestamps) != 1 {
		t.Fatalf("timestamps not persisted: %#v", job.Timestamps)
	}
	if job.CompletedAt.IsZero() {
		t.Fatalf("completed_at not set")
	}
}

func TestProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	ctx := context.Background()
	seedJob(t, jobs, files, "j1")

	runner := &fakeRunner{result: successResult()}
	m := NewManager(jobs, files, runner, nil, 0, time.Minute)

	if err := m.Process(ctx, "j1"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := m.Process(ctx, "j1"); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if got := runner.callCount(); got != 1 {
		t.Fatalf("pipeline ran %d times, want 1", got)
	}
	job, _ := jobs.Get(ctx, "j1")
	if job.Status != models.StatusSucceeded {
		t.Fatalf("terminal status disturbed: %s", job.Status)
	}
}

func TestProcessFatalPipelineErrorFailsJob(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	ctx := context.Background()
	seedJob(t, jobs, files, "j1")

	runner := &fakeRunner{err: &pipeline.StageError{
		Stage:  "synthesize",
		Reason: pipeline.ReasonUnsupportedLanguage,
		Err:    errors.New("language xx"),
	}}
	m := NewManager(jobs, files, runner, nil, 0, time.Minute)

	if err := m.Process(ctx, "j1"); err != nil {
		t.Fatalf("job failure is not an infrastructure error: %v", err)
	}
	job, _ := jobs.Get(ctx, "j1")
	if job.Status != models.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.FailureReason != pipeline.ReasonUnsupportedLanguage {
		t.Fatalf("failure reason = %q", job.FailureReason)
	}
	if job.AudioRef != "" {
		t.Fatalf("failed job must not reference audio")
	}
}

func TestProcessMissingJobIsDropped(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	runner := &fakeRunner{result: successResult()}
	m := NewManager(jobs, files, runner, nil, 0, time.Minute)

	if err := m.Process(context.Background(), "ghost"); err != nil {
		t.Fatalf("stale queue entry should be dropped quietly: %v", err)
	}
	if runner.callCount() != 0 {
		t.Fatalf("pipeline must not run for a missing job")
	}
}

func TestProcessMissingDocumentFailsJob(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	ctx := context.Background()
	job := seedJob(t, jobs, files, "j1")
	if err := files.Delete(job.DocumentRef); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	runner := &fakeRunner{result: successResult()}
	m := NewManager(jobs, files, runner, nil, 0, time.Minute)

	if err := m.Process(ctx, "j1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	got, _ := jobs.Get(ctx, "j1")
	if got.Status != models.StatusFailed || got.FailureReason != pipeline.ReasonDocumentUnreadable {
		t.Fatalf("unexpected outcome: %s / %s", got.Status, got.FailureReason)
	}
	if runner.callCount() != 0 {
		t.Fatalf("pipeline must not run without the document")
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	ctx := context.Background()

	q := queue.NewMemoryQueue(10)
	for _, id := range []string{"j1", "j2", "j3"} {
		seedJob(t, jobs, files, id)
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	runner := &fakeRunner{result: successResult()}
	pool := NewPool(q, NewManager(jobs, files, runner, nil, 0, time.Minute), 2)
	pool.Start()

	deadline := time.After(5 * time.Second)
	for {
		done := true
		for _, id := range []string{"j1", "j2", "j3"} {
			job, err := jobs.Get(ctx, id)
			if err != nil || !job.Status.Terminal() {
				done = false
			}
		}
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained in time")
		case <-time.After(20 * time.Millisecond):
		}
	}
	pool.Stop()

	if got := runner.callCount(); got != 3 {
		t.Fatalf("pipeline ran %d times, want 3", got)
	}
}

func TestPoolStopWaitsForInFlightJob(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	ctx := context.Background()
	seedJob(t, jobs, files, "j1")

	q := queue.NewMemoryQueue(4)
	if err := q.Enqueue(ctx, "j1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runner := newGateRunner(errors.New("synthesis backend gone"))
	pool := NewPool(q, NewManager(jobs, files, runner, nil, 0, time.Minute), 1)
	pool.Start()
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	close(runner.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("Stop did not return")
	}

	job, err := jobs.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !job.Status.Terminal() {
		t.Fatalf("job stranded in %s after shutdown", job.Status)
	}
	if job.Status != models.StatusFailed || job.FailureReason == "" {
		t.Fatalf("unexpected outcome: %s / %q", job.Status, job.FailureReason)
	}
}

func TestProcessRecordsFailureUnderCanceledContext(t *testing.T) {
	jobs := openTestStore(t)
	files := openTestFiles(t)
	seedJob(t, jobs, files, "j1")

	ctx, cancel := context.WithCancel(context.Background())
	runner := runnerFunc(func(runCtx context.Context, job *models.Job, document []byte) (*pipeline.Result, error) {
		cancel()
		<-runCtx.Done()
		return nil, runCtx.Err()
	})
	m := NewManager(jobs, files, runner, nil, 0, time.Minute)

	if err := m.Process(ctx, "j1"); err != nil {
		t.Fatalf("failure write must survive cancellation: %v", err)
	}
	job, err := jobs.Get(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != models.StatusFailed {
		t.Fatalf("job stranded in %s", job.Status)
	}
}

func TestProcessResultPersistFailureLeavesNoOrphan(t *testing.T) {
	jobs := openTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	files, err := filestore.NewDiskStore(dir)
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	job := seedJob(t, jobs, files, "j1")

	runner := runnerFunc(func(runCtx context.Context, j *models.Job, document []byte) (*pipeline.Result, error) {
		// The job row disappears while the conversion runs, so the
		// result write will not land.
		if err := jobs.Delete(context.Background(), j.ID, job.OwnerID); err != nil {
			t.Errorf("delete job: %v", err)
		}
		return successResult(), nil
	})
	m := NewManager(jobs, files, runner, nil, 0, time.Minute)

	if err := m.Process(ctx, "j1"); err == nil {
		t.Fatalf("expected infrastructure error when the result cannot be persisted")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audio artifact not cleaned up, %d files on disk", len(entries))
	}
}
