// Package job defines the speech generation job record and its state machine.
package job

import (
	"time"
)

// State is the lifecycle state of a job.
type State string

// Job lifecycle states. Completed, failed and cancelled are terminal.
const (
	StateQueued       State = "queued"
	StateExtracting   State = "extracting"
	StateSynthesizing State = "synthesizing"
	StateStoring      State = "storing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether no further transitions are permitted out of s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	case StateQueued, StateExtracting, StateSynthesizing, StateStoring:
		return false
	default:
		return false
	}
}

// ValidTransition enforces the allowed state machine edges. Raw text input
// skips extracting; any non-terminal state may fail or be cancelled.
func ValidTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}

	if to == StateFailed || to == StateCancelled {
		return true
	}

	switch from {
	case StateQueued:
		return to == StateExtracting || to == StateSynthesizing
	case StateExtracting:
		return to == StateSynthesizing
	case StateSynthesizing:
		return to == StateStoring
	case StateStoring:
		return to == StateCompleted
	case StateCompleted, StateFailed, StateCancelled:
		return false
	default:
		return false
	}
}

// InputKind identifies the submitted payload type.
type InputKind string

// Supported input kinds.
const (
	KindURL  InputKind = "url"
	KindPDF  InputKind = "pdf"
	KindText InputKind = "text"
)

// Error detail kinds recorded on failed jobs.
const (
	ErrKindValidation = "validation"
	ErrKindExtraction = "extraction_failed"
	ErrKindSynthesis  = "synthesis_failed"
	ErrKindTimeout    = "timeout"
	ErrKindInterrupt  = "interrupted"
	ErrKindInternal   = "internal"
)

// ErrorDetail is the structured failure reason stored on a failed job.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is one asynchronous request to produce speech from an input. It is
// mutated only by the orchestrator; everyone else reads snapshots.
type Job struct {
	ID         string       `json:"id"`
	Kind       InputKind    `json:"kind"`
	Payload    string       `json:"payload,omitempty"`     // raw text or URL
	PayloadRef string       `json:"payload_ref,omitempty"` // object store key for PDF inputs
	Voice      string       `json:"voice"`
	Speed      float64      `json:"speed"`
	State      State        `json:"state"`
	Progress   int          `json:"progress"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Error      *ErrorDetail `json:"error,omitempty"`
	ArtifactID string       `json:"artifact_id,omitempty"`

	// Artifact metadata denormalized for status responses.
	Duration float64 `json:"duration,omitempty"`
	Format   string  `json:"format,omitempty"`
	FileSize int64   `json:"file_size,omitempty"`
}

// View is the read-only snapshot served by the query surface. Field names
// follow the public status API.
type View struct {
	SessionID string       `json:"session_id"`
	Status    State        `json:"status"`
	Progress  int          `json:"progress"`
	AudioURL  string       `json:"audio_url,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	Format    string       `json:"format,omitempty"`
	FileSize  int64        `json:"file_size,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// Snapshot converts the job record to its public view. The download URL is
// only present once the job has completed.
func (j *Job) Snapshot(downloadPrefix string) View {
	view := View{
		SessionID: j.ID,
		Status:    j.State,
		Progress:  j.Progress,
		Duration:  j.Duration,
		Format:    j.Format,
		FileSize:  j.FileSize,
		Error:     j.Error,
	}

	if j.State == StateCompleted && j.ArtifactID != "" {
		view.AudioURL = downloadPrefix + j.ID
	}

	return view
}
