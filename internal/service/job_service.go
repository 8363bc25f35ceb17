package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/imageforge/api/internal/client"
	"github.com/imageforge/api/internal/model"
	"github.com/imageforge/api/internal/queue"
	"github.com/imageforge/api/internal/store"
	"github.com/imageforge/api/internal/websocket"
)

// ErrJobNotFound is returned when a job does not exist or the requester
// does not own it.
var ErrJobNotFound = errors.New("job not found")

// ErrNoResult is returned when a download is requested for a job that has
// not completed.
var ErrNoResult = errors.New("job has no result")

const downloadLinkTTL = 15 * time.Minute

// JobService implements the submission, status and cancellation contracts
// on top of the record store and the queue.
type JobService struct {
	store   *store.JobStore
	queue   queue.Enqueuer
	quota   QuotaChecker
	hub     *websocket.Hub
	storage client.StorageClient
}

func NewJobService(jobStore *store.JobStore, enqueuer queue.Enqueuer, quota QuotaChecker, hub *websocket.Hub, storage client.StorageClient) *JobService {
	return &JobService{
		store:   jobStore,
		queue:   enqueuer,
		quota:   quota,
		hub:     hub,
		storage: storage,
	}
}

// Submit creates a job and hands it to the queue. The call never blocks on
// the generation itself; the response reports the creation state. An
// enqueue failure is deliberately not surfaced: the row stays PENDING and
// the reconciliation sweep re-enqueues it, so "once created, a job will
// eventually be attempted" holds without retrying here.
func (s *JobService) Submit(ctx context.Context, ownerID string, req *model.GenerateRequest, priority model.Priority) (*model.SubmitResponse, error) {
	if err := s.quota.Reserve(ctx, ownerID); err != nil {
		return nil, err
	}

	job := model.NewJob(ownerID, req, priority)
	if err := s.store.Create(ctx, job); err != nil {
		if rerr := s.quota.Release(ctx, ownerID); rerr != nil {
			log.Printf("Failed to release quota for %s: %v", ownerID, rerr)
		}
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
		log.Printf("Enqueue failed for job %s, leaving PENDING for sweep: %v", job.ID, err)
	} else {
		if ok, err := s.store.MarkQueued(ctx, job.ID); err != nil {
			log.Printf("Failed to mark job %s queued: %v", job.ID, err)
		} else if ok {
			s.hub.BroadcastState(job.ID, model.JobStateQueued, 0)
		}
	}

	return &model.SubmitResponse{
		JobID:     job.ID,
		State:     model.JobStatePending,
		CreatedAt: job.CreatedAt,
	}, nil
}

// Status returns the external projection of a job, scoped to its owner.
func (s *JobService) Status(ctx context.Context, jobID, ownerID string) (*model.StatusResponse, error) {
	job, err := s.store.GetForOwner(ctx, jobID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job.Projection(), nil
}

// Download returns a time-limited link to a completed job's artifact. Jobs
// without a result (still running, failed, cancelled) yield ErrNoResult.
func (s *JobService) Download(ctx context.Context, jobID, ownerID string) (*model.DownloadResponse, error) {
	job, err := s.store.GetForOwner(ctx, jobID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if job.State != model.JobStateCompleted || !job.HasResult() {
		return nil, ErrNoResult
	}

	expiresAt := time.Now().Add(downloadLinkTTL)
	url := job.ResultURL
	if s.storage != nil && job.ResultKey != "" {
		signed, err := s.storage.GetSignedURL(ctx, job.ResultKey, downloadLinkTTL)
		if err != nil {
			log.Printf("Failed to presign artifact for job %s, falling back to stored URL: %v", jobID, err)
		} else {
			url = signed
		}
	}

	return &model.DownloadResponse{
		JobID:     jobID,
		URL:       url,
		ExpiresAt: expiresAt,
	}, nil
}

// Cancel requests cancellation. Idempotent: a job already terminal is left
// untouched and the current state is returned. Workers observe the
// CANCELLED state at their next touchpoint and stop contacting the
// provider; an in-flight provider call cannot be interrupted, its result
// is discarded instead.
func (s *JobService) Cancel(ctx context.Context, jobID, ownerID string) (*model.CancelResponse, error) {
	job, err := s.store.GetForOwner(ctx, jobID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	cancelled, err := s.store.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}

	state := job.State
	if cancelled {
		state = model.JobStateCancelled
		s.hub.BroadcastState(jobID, state, job.Progress)
	}

	return &model.CancelResponse{
		JobID:     jobID,
		State:     state,
		Cancelled: cancelled,
	}, nil
}
