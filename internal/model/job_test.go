package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStateTransitions(t *testing.T) {
	tests := []struct {
		from    JobState
		to      JobState
		allowed bool
	}{
		{JobStatePending, JobStateQueued, true},
		{JobStatePending, JobStateProcessing, true},
		{JobStatePending, JobStateCancelled, true},
		{JobStatePending, JobStateCompleted, false},
		{JobStateQueued, JobStateProcessing, true},
		{JobStateQueued, JobStateCancelled, true},
		{JobStateQueued, JobStatePending, false},
		{JobStateProcessing, JobStateCompleted, true},
		{JobStateProcessing, JobStateFailed, true},
		{JobStateProcessing, JobStateCancelled, true},
		{JobStateProcessing, JobStateQueued, false},
		{JobStateCompleted, JobStateCancelled, false},
		{JobStateFailed, JobStateQueued, false},
		{JobStateCancelled, JobStateProcessing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestJobStateIsTerminal(t *testing.T) {
	assert.False(t, JobStatePending.IsTerminal())
	assert.False(t, JobStateQueued.IsTerminal())
	assert.False(t, JobStateProcessing.IsTerminal())
	assert.True(t, JobStateCompleted.IsTerminal())
	assert.True(t, JobStateFailed.IsTerminal())
	assert.True(t, JobStateCancelled.IsTerminal())
}

func TestGenerateRequestValidate(t *testing.T) {
	req := &GenerateRequest{Prompt: "a red bicycle", Style: StyleMinimalist, Width: 1024, Height: 1024}
	assert.NoError(t, req.Validate())

	req.Style = "vaporwave"
	assert.Error(t, req.Validate())

	req.Style = StyleMinimalist
	req.Width, req.Height = 640, 480
	assert.Error(t, req.Validate())
}

func TestNewJobStartsPending(t *testing.T) {
	req := &GenerateRequest{Prompt: "a red bicycle", Style: StyleMinimalist, Width: 512, Height: 512}
	job := NewJob("user-1", req, PriorityStandard)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatePending, job.State)
	assert.Equal(t, "user-1", job.OwnerID)
	assert.Zero(t, job.Attempt)
	assert.False(t, job.HasResult())
	assert.False(t, job.HasError())
}

func TestProjectionHidesInternals(t *testing.T) {
	req := &GenerateRequest{Prompt: "a red bicycle", Style: StyleMinimalist, Width: 512, Height: 512}
	job := NewJob("user-1", req, PriorityStandard)
	handle := "prov-123"
	job.ProviderHandle = &handle
	job.State = JobStateCompleted
	job.ResultURL = "https://cdn.example.com/a.png"
	job.ResultSize = 1234
	job.ResultContentType = "image/png"

	proj := job.Projection()
	assert.Equal(t, job.ID, proj.JobID)
	assert.Equal(t, JobStateCompleted, proj.State)
	assert.NotNil(t, proj.Result)
	assert.Equal(t, "https://cdn.example.com/a.png", proj.Result.URL)
	assert.Nil(t, proj.Error)
}
