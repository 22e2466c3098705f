package models

import "time"

// JobStatus is the lifecycle state of a conversion job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further automatic transition can occur.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// CanTransition enforces the closed job state machine:
// queued -> running -> {succeeded, failed}. Everything else is rejected.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	default:
		return false
	}
}

// Job is one end-to-end document-to-audio conversion request and its tracked state.
type Job struct {
	ID            string           `json:"id"`
	OwnerID       int64            `json:"owner_id"`
	DocumentRef   string           `json:"document_ref"`
	DocumentName  string           `json:"document_name"`
	Language      string           `json:"language"`
	Summarize     bool             `json:"summarize"`
	Status        JobStatus        `json:"status"`
	ResultText    string           `json:"result_text,omitempty"`
	AudioRef      string           `json:"audio_ref,omitempty"`
	Timestamps    []TimestampChunk `json:"timestamps,omitempty"`
	Markers       []string         `json:"-"`
	FailureReason string           `json:"-"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   time.Time        `json:"completed_at,omitempty"`
}

// TextChunk is an ordered, bounded-length fragment of the text sent to synthesis.
type TextChunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Len returns the chunk length in runes, which is what the synthesizer limit bounds.
func (c TextChunk) Len() int {
	return len([]rune(c.Text))
}

// TimestampChunk maps one text chunk onto its span in the assembled audio track.
// Offsets are seconds from the start of the track.
type TimestampChunk struct {
	Text  string  `json:"text"`
	Start float64 `json:"start_seconds"`
	End   float64 `json:"end_seconds"`
}
