package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docvoice/internal/models"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists conversion job records.
type JobStore struct {
	db *sql.DB
}

// NewJobStore wraps the shared database handle.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Create inserts a new job row. Status must be queued.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id required")
	}
	if job.Status == "" {
		job.Status = models.StatusQueued
	}
	if job.Status != models.StatusQueued {
		return fmt.Errorf("new jobs must start queued, got %s", job.Status)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner_id, document_ref, document_name, language, summarize, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.DocumentRef, job.DocumentName, job.Language, job.Summarize, job.Status, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, document_ref, document_name, language, summarize, status,
		        result_text, audio_ref, timestamps_json, markers, failure_reason, created_at, completed_at
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// GetForOwner fetches a job only if it belongs to the given owner.
func (s *JobStore) GetForOwner(ctx context.Context, id string, ownerID int64) (*models.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ListByOwner returns all jobs owned by a user, newest first.
func (s *JobStore) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, document_ref, document_name, language, summarize, status,
		        result_text, audio_ref, timestamps_json, markers, failure_reason, created_at, completed_at
		 FROM jobs WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// TransitionStatus applies one state machine edge as a compare-and-set.
// The false return means another actor already moved the job; with at-least-once
// queue delivery that makes duplicate processing a no-op.
func (s *JobStore) TransitionStatus(ctx context.Context, id string, from, to models.JobStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveResult moves a running job to succeeded and writes its artifacts atomically.
func (s *JobStore) SaveResult(ctx context.Context, id string, resultText, audioRef string, timestamps []models.TimestampChunk, markers []string) error {
	tsJSON, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("marshal timestamps: %w", err)
	}
	markersJSON, err := json.Marshal(markers)
	if err != nil {
		return fmt.Errorf("marshal markers: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result_text = ?, audio_ref = ?, timestamps_json = ?, markers = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusSucceeded, resultText, audioRef, string(tsJSON), string(markersJSON), time.Now().UTC(),
		id, models.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("save result for job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %s was not running", id)
	}
	return nil
}

// SetFailure moves a running job to failed and records the diagnostic reason.
// The reason is operator-facing and not exposed through the API.
func (s *JobStore) SetFailure(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, failure_reason = ?, completed_at = ? WHERE id = ? AND status = ?`,
		models.StatusFailed, reason, time.Now().UTC(), id, models.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("job %s was not running", id)
	}
	return nil
}

// Delete removes the job row. Artifact cleanup is the caller's responsibility.
func (s *JobStore) Delete(ctx context.Context, id string, ownerID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job         models.Job
		resultText  sql.NullString
		audioRef    sql.NullString
		tsJSON      sql.NullString
		markersJSON sql.NullString
		reason      sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.DocumentRef, &job.DocumentName, &job.Language, &job.Summarize, &job.Status,
		&resultText, &audioRef, &tsJSON, &markersJSON, &reason, &job.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.ResultText = resultText.String
	job.AudioRef = audioRef.String
	job.FailureReason = reason.String
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	if tsJSON.Valid && tsJSON.String != "" {
		if err := json.Unmarshal([]byte(tsJSON.String), &job.Timestamps); err != nil {
			return nil, fmt.Errorf("decode timestamps for job %s: %w", job.ID, err)
		}
	}
	if markersJSON.Valid && markersJSON.String != "" {
		if err := json.Unmarshal([]byte(markersJSON.String), &job.Markers); err != nil {
			return nil, fmt.Errorf("decode markers for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}
