package model

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobStatePending    JobState = "PENDING"
	JobStateQueued     JobState = "QUEUED"
	JobStateProcessing JobState = "PROCESSING"
	JobStateCompleted  JobState = "COMPLETED"
	JobStateFailed     JobState = "FAILED"
	JobStateCancelled  JobState = "CANCELLED"
)

// IsTerminal returns true if the state is final.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// NonTerminalStates lists the states a job can still move out of.
var NonTerminalStates = []JobState{JobStatePending, JobStateQueued, JobStateProcessing}

// CanTransitionTo reports whether the state machine permits s → next.
// Transitions are strictly forward; terminal states accept nothing.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatePending:
		return next == JobStateQueued || next == JobStateProcessing || next == JobStateCancelled
	case JobStateQueued:
		return next == JobStateProcessing || next == JobStateCancelled
	case JobStateProcessing:
		return next == JobStateCompleted || next == JobStateFailed || next == JobStateCancelled
	}
	return false
}

// ErrorKind classifies a job failure.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "VALIDATION"
	ErrorKindQuotaExceeded     ErrorKind = "QUOTA_EXCEEDED"
	ErrorKindTransientProvider ErrorKind = "TRANSIENT_PROVIDER"
	ErrorKindPermanentProvider ErrorKind = "PERMANENT_PROVIDER"
	ErrorKindStorageFailure    ErrorKind = "STORAGE_FAILURE"
	ErrorKindExhaustedRetries  ErrorKind = "EXHAUSTED_RETRIES"
)

// Priority selects the queue class a job is delivered through.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityPremium  Priority = "premium"
)

// Job is one request to produce a single generated image, tracked through
// the state machine. The request fields are captured at submission and
// never mutated; the store is the only writer of State.
type Job struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	OwnerID string `gorm:"size:64;index" json:"ownerId"`

	Prompt string `gorm:"size:2048" json:"prompt"`
	Style  Style  `gorm:"size:32" json:"style"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seed   *int64 `json:"seed,omitempty"`

	Priority Priority `gorm:"size:16;default:standard" json:"priority"`
	State    JobState `gorm:"size:16;index:idx_jobs_state_updated,priority:1" json:"state"`
	Progress int      `json:"progress"`

	// ProviderHandle is the provider's token for the in-flight remote
	// operation; persisting it lets a restarted worker resume polling.
	ProviderHandle *string `gorm:"size:128" json:"-"`

	ResultURL         string `gorm:"size:1024" json:"resultUrl,omitempty"`
	ResultKey         string `gorm:"size:256" json:"-"`
	ResultSize        int64  `json:"resultSize,omitempty"`
	ResultContentType string `gorm:"size:64" json:"resultContentType,omitempty"`
	ResultWidth       int    `json:"resultWidth,omitempty"`
	ResultHeight      int    `json:"resultHeight,omitempty"`

	ErrorKind    ErrorKind `gorm:"size:32" json:"errorKind,omitempty"`
	ErrorMessage string    `gorm:"size:512" json:"errorMessage,omitempty"`

	Attempt int `json:"attempt"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"index:idx_jobs_state_updated,priority:2" json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Artifact is the durable reference produced on completion. Key is the
// object-store key backing URL; it never leaves the service.
type Artifact struct {
	URL         string `json:"url"`
	Key         string `json:"-"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// NewJob creates a PENDING job from a validated request.
func NewJob(ownerID string, req *GenerateRequest, priority Priority) *Job {
	return &Job{
		ID:       uuid.New().String(),
		OwnerID:  ownerID,
		Prompt:   req.Prompt,
		Style:    req.Style,
		Width:    req.Width,
		Height:   req.Height,
		Seed:     req.Seed,
		Priority: priority,
		State:    JobStatePending,
	}
}

// HasResult reports whether the result reference is set.
func (j *Job) HasResult() bool {
	return j.ResultURL != ""
}

// HasError reports whether a failure reason is recorded.
func (j *Job) HasError() bool {
	return j.ErrorKind != ""
}
