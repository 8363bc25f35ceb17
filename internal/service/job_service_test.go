package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/imageforge/api/internal/model"
	"github.com/imageforge/api/internal/store"
	"github.com/imageforge/api/internal/websocket"
)

type fakeStorage struct {
	signErr error
}

func (f *fakeStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "https://cdn.test/" + key, nil
}

func (f *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://cdn.test/" + key + "?signed", nil
}

func (f *fakeStorage) GetPublicURL(key string) string {
	return "https://cdn.test/" + key
}

type fakeQueue struct {
	items   []string
	failAll bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string, priority model.Priority) error {
	if q.failAll {
		return errors.New("broker unavailable")
	}
	q.items = append(q.items, jobID)
	return nil
}

func (q *fakeQueue) EnqueueIn(ctx context.Context, jobID string, priority model.Priority, delay time.Duration) error {
	return q.Enqueue(ctx, jobID, priority)
}

type fakeQuota struct {
	remaining int
	released  int
}

func (f *fakeQuota) Reserve(ctx context.Context, ownerID string) error {
	if f.remaining <= 0 {
		return ErrQuotaExceeded
	}
	f.remaining--
	return nil
}

func (f *fakeQuota) Release(ctx context.Context, ownerID string) error {
	f.released++
	f.remaining++
	return nil
}

func newTestService(t *testing.T) (*JobService, *store.JobStore, *fakeQueue, *fakeQuota) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	jobStore, err := store.New(db)
	require.NoError(t, err)

	hub := websocket.NewHub()
	go hub.Run()

	q := &fakeQueue{}
	quota := &fakeQuota{remaining: 10}
	return NewJobService(jobStore, q, quota, hub, &fakeStorage{}), jobStore, q, quota
}

func validRequest() *model.GenerateRequest {
	return &model.GenerateRequest{
		Prompt: "a red bicycle",
		Style:  model.StyleMinimalist,
		Width:  512,
		Height: 512,
	}
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	svc, jobStore, q, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, model.JobStatePending, resp.State)

	require.Equal(t, []string{resp.JobID}, q.items)

	job, err := jobStore.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateQueued, job.State)
	assert.Equal(t, "user-1", job.OwnerID)
}

func TestSubmitQuotaExceeded(t *testing.T) {
	svc, _, q, quota := newTestService(t)
	quota.remaining = 0

	_, err := svc.Submit(context.Background(), "user-1", validRequest(), model.PriorityStandard)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Empty(t, q.items)
}

// An enqueue failure is not surfaced: the row stays PENDING and the sweep
// picks it up later.
func TestSubmitSurvivesEnqueueFailure(t *testing.T) {
	svc, jobStore, q, quota := newTestService(t)
	q.failAll = true
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)

	job, err := jobStore.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, job.State)
	assert.Zero(t, quota.released, "quota stays reserved, the job will still run")
}

func TestStatusScopedToOwner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)

	status, err := svc.Status(ctx, resp.JobID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, status.JobID)
	assert.Equal(t, model.JobStateQueued, status.State)

	_, err = svc.Status(ctx, resp.JobID, "intruder")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.Status(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancelQueuedJob(t *testing.T) {
	svc, jobStore, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)

	cancel, err := svc.Cancel(ctx, resp.JobID, "user-1")
	require.NoError(t, err)
	assert.True(t, cancel.Cancelled)
	assert.Equal(t, model.JobStateCancelled, cancel.State)

	job, err := jobStore.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCancelled, job.State)
}

func TestCancelIsIdempotent(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)

	first, err := svc.Cancel(ctx, resp.JobID, "user-1")
	require.NoError(t, err)
	assert.True(t, first.Cancelled)

	second, err := svc.Cancel(ctx, resp.JobID, "user-1")
	require.NoError(t, err)
	assert.False(t, second.Cancelled)
	assert.Equal(t, model.JobStateCancelled, second.State)
}

func TestDownloadCompletedJob(t *testing.T) {
	svc, jobStore, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)

	// Download before completion is refused.
	_, err = svc.Download(ctx, resp.JobID, "user-1")
	assert.ErrorIs(t, err, ErrNoResult)

	claimed, err := jobStore.Claim(ctx, resp.JobID)
	require.NoError(t, err)
	require.True(t, claimed)
	done, err := jobStore.Complete(ctx, resp.JobID, &model.Artifact{
		URL: "https://cdn.test/artifacts/user-1/a.png", Key: "artifacts/user-1/a.png",
		Size: 9, ContentType: "image/png",
	})
	require.NoError(t, err)
	require.True(t, done)

	dl, err := svc.Download(ctx, resp.JobID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/artifacts/user-1/a.png?signed", dl.URL)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), dl.ExpiresAt, time.Minute)

	_, err = svc.Download(ctx, resp.JobID, "intruder")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDownloadFallsBackToStoredURL(t *testing.T) {
	svc, jobStore, _, _ := newTestService(t)
	svc.storage = &fakeStorage{signErr: errors.New("presign unavailable")}
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)

	claimed, err := jobStore.Claim(ctx, resp.JobID)
	require.NoError(t, err)
	require.True(t, claimed)
	done, err := jobStore.Complete(ctx, resp.JobID, &model.Artifact{
		URL: "https://cdn.test/artifacts/user-1/a.png", Key: "artifacts/user-1/a.png",
		Size: 9, ContentType: "image/png",
	})
	require.NoError(t, err)
	require.True(t, done)

	dl, err := svc.Download(ctx, resp.JobID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/artifacts/user-1/a.png", dl.URL)
}

func TestCancelCompletedJobIsNoOp(t *testing.T) {
	svc, jobStore, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, "user-1", validRequest(), model.PriorityStandard)
	require.NoError(t, err)

	claimed, err := jobStore.Claim(ctx, resp.JobID)
	require.NoError(t, err)
	require.True(t, claimed)
	done, err := jobStore.Complete(ctx, resp.JobID, &model.Artifact{URL: "https://cdn.test/a.png", Size: 9, ContentType: "image/png"})
	require.NoError(t, err)
	require.True(t, done)

	cancel, err := svc.Cancel(ctx, resp.JobID, "user-1")
	require.NoError(t, err)
	assert.False(t, cancel.Cancelled)
	assert.Equal(t, model.JobStateCompleted, cancel.State)

	job, err := jobStore.Get(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/a.png", job.ResultURL)
}
