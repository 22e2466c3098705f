package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"docvoice/internal/cache"
	"docvoice/internal/filestore"
	"docvoice/internal/models"
	"docvoice/internal/pipeline"
	"docvoice/internal/storage"
)

// Runner executes the conversion for one job.
type Runner interface {
	Run(ctx context.Context, job *models.Job, document []byte) (*pipeline.Result, error)
}

const defaultJobTimeout = 30 * time.Minute

// Manager claims queued jobs, drives them through the runner, and persists
// the outcome. The queue is at-least-once; the compare-and-swap claim makes
// duplicate deliveries harmless.
type Manager struct {
	jobs    *storage.JobStore
	files   filestore.Store
	runner  Runner
	status  *cache.Status
	preview int
	timeout time.Duration
}

// NewManager builds a Manager. preview caps the stored result text in runes;
// zero keeps the full text.
func NewManager(jobs *storage.JobStore, files filestore.Store, runner Runner, status *cache.Status, preview int, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &Manager{jobs: jobs, files: files, runner: runner, status: status, preview: preview, timeout: timeout}
}

// Process handles one dequeued job id. A non-nil error means infrastructure
// trouble (the job's own failures are recorded on the job, not returned).
func (m *Manager) Process(ctx context.Context, jobID string) error {
	job, err := m.jobs.Get(ctx, jobID)
	if errors.Is(err, storage.ErrJobNotFound) {
		// Deleted between enqueue and pickup.
		debugLog("job %s vanished before pickup, dropping", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != models.StatusQueued {
		debugLog("job %s already %s, dropping duplicate delivery", jobID, job.Status)
		return nil
	}

	claimed, err := m.jobs.TransitionStatus(ctx, jobID, models.StatusQueued, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		debugLog("job %s claimed elsewhere, dropping duplicate delivery", jobID)
		return nil
	}
	m.status.Set(ctx, job.OwnerID, jobID, models.StatusRunning)
	log.Printf("job %s: processing %q", jobID, job.DocumentName)

	document, err := m.files.Fetch(job.DocumentRef)
	if err != nil {
		return m.fail(ctx, job, pipeline.ReasonDocumentUnreadable, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	res, err := m.runner.Run(runCtx, job, document)
	if err != nil {
		reason := "PipelineFailure"
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			reason = stageErr.Reason
		}
		return m.fail(ctx, job, reason, err)
	}

	audioRef, err := m.files.Store(res.Track.WAV, "wav")
	if err != nil {
		return m.fail(ctx, job, "ArtifactStoreFailed", err)
	}

	resultText := res.Text
	if runes := []rune(resultText); m.preview > 0 && len(runes) > m.preview {
		resultText = string(runes[:m.preview])
	}
	if err := m.jobs.SaveResult(ctx, jobID, resultText, audioRef, res.Track.Timestamps, res.Markers); err != nil {
		// Do not leave an unreferenced artifact behind, and do not leave
		// the job stuck in running.
		if delErr := m.files.Delete(audioRef); delErr != nil {
			log.Printf("job %s: orphan artifact %s: %v", jobID, audioRef, delErr)
		}
		if failErr := m.fail(ctx, job, "ResultPersistFailed", err); failErr != nil {
			log.Printf("job %s: %v", jobID, failErr)
		}
		return fmt.Errorf("persist result for job %s: %w", jobID, err)
	}
	m.status.Set(ctx, job.OwnerID, jobID, models.StatusSucceeded)
	log.Printf("job %s: succeeded, %d chunks, audio %s", jobID, len(res.Chunks), audioRef)
	return nil
}

// fail records a terminal failure. Failed jobs keep the uploaded document
// but never an audio artifact.
func (m *Manager) fail(ctx context.Context, job *models.Job, reason string, cause error) error {
	log.Printf("job %s: failed (%s): %v", job.ID, reason, cause)
	// The run context may already be canceled or expired; the terminal
	// write still has to land.
	ctx = context.WithoutCancel(ctx)
	if err := m.jobs.SetFailure(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}
	m.status.Set(ctx, job.OwnerID, job.ID, models.StatusFailed)
	return nil
}
