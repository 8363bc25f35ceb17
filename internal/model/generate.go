package model

import (
	"fmt"
	"time"
)

// Style tags supported by the provider.
type Style string

const (
	StylePhotorealistic Style = "photorealistic"
	StyleMinimalist     Style = "minimalist"
	StyleWatercolor     Style = "watercolor"
	StyleAnime          Style = "anime"
	StylePixelArt       Style = "pixel-art"
	StyleOilPainting    Style = "oil-painting"
	StyleSketch         Style = "sketch"
	StyleCyberpunk      Style = "cyberpunk"
)

var ValidStyles = []Style{
	StylePhotorealistic, StyleMinimalist, StyleWatercolor, StyleAnime,
	StylePixelArt, StyleOilPainting, StyleSketch, StyleCyberpunk,
}

// Dimension is an allowed output size.
type Dimension struct {
	Width  int
	Height int
}

var ValidDimensions = []Dimension{
	{512, 512},
	{768, 768},
	{1024, 1024},
	{1024, 1792},
	{1792, 1024},
}

// GenerateRequest is the immutable input payload of a job.
type GenerateRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=2000"`
	Style  Style  `json:"style" validate:"required"`
	Width  int    `json:"width" validate:"required"`
	Height int    `json:"height" validate:"required"`
	Seed   *int64 `json:"seed,omitempty"`
}

// Validate checks the allow-listed fields the validator tags cannot express.
func (r *GenerateRequest) Validate() error {
	styleOK := false
	for _, s := range ValidStyles {
		if r.Style == s {
			styleOK = true
			break
		}
	}
	if !styleOK {
		return fmt.Errorf("unknown style %q", r.Style)
	}

	for _, d := range ValidDimensions {
		if r.Width == d.Width && r.Height == d.Height {
			return nil
		}
	}
	return fmt.Errorf("unsupported dimensions %dx%d", r.Width, r.Height)
}

// SubmitResponse is returned by POST /api/jobs.
type SubmitResponse struct {
	JobID     string    `json:"id"`
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobError is the externally visible failure summary.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StatusResponse is the external projection of a job.
type StatusResponse struct {
	JobID       string     `json:"id"`
	State       JobState   `json:"state"`
	Progress    int        `json:"progress"`
	Result      *Artifact  `json:"result,omitempty"`
	Error       *JobError  `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// DownloadResponse carries a time-limited link to a completed result.
type DownloadResponse struct {
	JobID     string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CancelResponse is returned by POST /api/jobs/:id/cancel.
type CancelResponse struct {
	JobID     string   `json:"id"`
	State     JobState `json:"state"`
	Cancelled bool     `json:"cancelled"`
}

// Projection builds the externally safe view of a job.
func (j *Job) Projection() *StatusResponse {
	resp := &StatusResponse{
		JobID:       j.ID,
		State:       j.State,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.HasResult() {
		resp.Result = &Artifact{
			URL:         j.ResultURL,
			Size:        j.ResultSize,
			ContentType: j.ResultContentType,
			Width:       j.ResultWidth,
			Height:      j.ResultHeight,
		}
	}
	if j.HasError() {
		resp.Error = &JobError{Kind: j.ErrorKind, Message: j.ErrorMessage}
	}
	return resp
}
