package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/imageforge/api/internal/client"
	"github.com/imageforge/api/internal/config"
	"github.com/imageforge/api/internal/model"
	"github.com/imageforge/api/internal/queue"
	"github.com/imageforge/api/internal/store"
	"github.com/imageforge/api/internal/websocket"
)

// GenerateWorker drives jobs through the provider and the artifact store.
// Each queue delivery performs exactly one step — a submit, a single poll,
// or the final fetch+upload — and waiting is always a delayed re-enqueue,
// never a blocked goroutine. The record store's CAS is the only arbiter of
// who owns a job; returning nil acks the delivery.
type GenerateWorker struct {
	store   *store.JobStore
	queue   queue.Enqueuer
	gen     client.ImageGenerator
	storage client.StorageClient
	hub     *websocket.Hub
	cfg     config.PipelineConfig
}

func NewGenerateWorker(jobStore *store.JobStore, enqueuer queue.Enqueuer, gen client.ImageGenerator, storage client.StorageClient, hub *websocket.Hub, cfg config.PipelineConfig) *GenerateWorker {
	return &GenerateWorker{
		store:   jobStore,
		queue:   enqueuer,
		gen:     gen,
		storage: storage,
		hub:     hub,
		cfg:     cfg,
	}
}

// ProcessTask handles one delivery of a generate task.
func (w *GenerateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	job, err := w.store.Get(ctx, payload.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("Dropping delivery for unknown job %s", payload.JobID)
		return nil
	}
	if err != nil {
		return err
	}

	// A terminal job is acked untouched; this covers redeliveries of
	// cancelled jobs, which must not reach the provider again.
	if job.State.IsTerminal() {
		return nil
	}

	switch job.State {
	case model.JobStatePending, model.JobStateQueued:
		claimed, err := w.store.Claim(ctx, job.ID)
		if err != nil {
			return err
		}
		if !claimed {
			// Another worker owns it, or it just turned terminal.
			return nil
		}
		job.State = model.JobStateProcessing
		w.hub.BroadcastState(job.ID, model.JobStateProcessing, job.Progress)

	case model.JobStateProcessing:
		// Redelivery after a crash or a scheduled poll: resume.
		if err := w.store.Touch(ctx, job.ID); err != nil {
			return err
		}
	}

	if job.ProviderHandle == nil {
		return w.submit(ctx, job)
	}
	return w.poll(ctx, job)
}

// submit sends the generation request and schedules the first poll.
func (w *GenerateWorker) submit(ctx context.Context, job *model.Job) error {
	handle, err := w.gen.Submit(ctx, &client.SubmitRequest{
		Prompt: job.Prompt,
		Style:  string(job.Style),
		Width:  job.Width,
		Height: job.Height,
		Seed:   job.Seed,
	})
	if err != nil {
		if client.IsPermanent(err) {
			return w.fail(ctx, job, model.ErrorKindPermanentProvider, err.Error())
		}
		return w.retry(ctx, job, err)
	}

	if err := w.store.SetProviderHandle(ctx, job.ID, handle); err != nil {
		return err
	}
	if err := w.store.SetProgress(ctx, job.ID, 10); err != nil {
		log.Printf("Failed to update progress for job %s: %v", job.ID, err)
	}

	return w.queue.EnqueueIn(ctx, job.ID, job.Priority, w.cfg.PollInterval)
}

// poll observes the remote generation once and either schedules the next
// poll or finishes the job.
func (w *GenerateWorker) poll(ctx context.Context, job *model.Job) error {
	result, err := w.gen.Poll(ctx, *job.ProviderHandle)
	if err != nil {
		if client.IsPermanent(err) {
			return w.fail(ctx, job, model.ErrorKindPermanentProvider, err.Error())
		}
		return w.retry(ctx, job, err)
	}

	if result.Running {
		if err := w.store.SetProgress(ctx, job.ID, clampProgress(result.Progress)); err != nil {
			log.Printf("Failed to update progress for job %s: %v", job.ID, err)
		}
		// Still running costs no attempt; it is the normal suspension point.
		return w.queue.EnqueueIn(ctx, job.ID, job.Priority, w.cfg.PollInterval)
	}

	return w.finish(ctx, job, result)
}

// finish downloads the result, persists it and completes the job.
func (w *GenerateWorker) finish(ctx context.Context, job *model.Job, result *client.PollResult) error {
	// The generation took a while; re-check for cancellation before the
	// fetch and upload leg.
	current, err := w.store.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.State != model.JobStateProcessing {
		return nil
	}

	img, err := w.gen.Fetch(ctx, result.ImageURL)
	if err != nil {
		if client.IsPermanent(err) {
			return w.fail(ctx, job, model.ErrorKindPermanentProvider, err.Error())
		}
		return w.retry(ctx, job, err)
	}

	key := fmt.Sprintf("artifacts/%s/%s%s", job.OwnerID, job.ID, extensionFor(img.ContentType))
	url, err := w.storage.Upload(ctx, key, img.Data, img.ContentType)
	if err != nil {
		// Upload is idempotent; retry with the same bytes is safe.
		return w.retry(ctx, job, fmt.Errorf("artifact upload failed: %w", err))
	}

	width, height := result.Width, result.Height
	if width == 0 || height == 0 {
		width, height = job.Width, job.Height
	}
	artifact := &model.Artifact{
		URL:         url,
		Key:         key,
		Size:        int64(len(img.Data)),
		ContentType: img.ContentType,
		Width:       width,
		Height:      height,
	}

	completed, err := w.store.Complete(ctx, job.ID, artifact)
	if err != nil {
		return err
	}
	if !completed {
		// Cancelled while uploading; the artifact reference is discarded.
		log.Printf("Discarding result of job %s: no longer PROCESSING", job.ID)
		return nil
	}

	w.hub.BroadcastState(job.ID, model.JobStateCompleted, 100)
	w.hub.BroadcastComplete(job.ID, artifact)
	log.Printf("Job %s completed (%d bytes)", job.ID, artifact.Size)
	return nil
}

// retry accounts a transient failure against the attempt ceiling and
// schedules the next try with exponential backoff.
func (w *GenerateWorker) retry(ctx context.Context, job *model.Job, cause error) error {
	attempt, err := w.store.IncrementAttempt(ctx, job.ID)
	if err != nil {
		return err
	}

	if attempt >= w.cfg.MaxAttempts {
		msg := fmt.Sprintf("gave up after %d attempts: %v", attempt, cause)
		return w.fail(ctx, job, model.ErrorKindExhaustedRetries, msg)
	}

	delay := backoffDelay(w.cfg.BaseBackoff, w.cfg.MaxBackoff, attempt)
	log.Printf("Job %s attempt %d/%d failed, retrying in %s: %v", job.ID, attempt, w.cfg.MaxAttempts, delay, cause)
	return w.queue.EnqueueIn(ctx, job.ID, job.Priority, delay)
}

// fail records a terminal failure and acks the delivery.
func (w *GenerateWorker) fail(ctx context.Context, job *model.Job, kind model.ErrorKind, message string) error {
	failed, err := w.store.Fail(ctx, job.ID, kind, message)
	if err != nil {
		return err
	}
	if failed {
		w.hub.BroadcastState(job.ID, model.JobStateFailed, job.Progress)
		w.hub.BroadcastError(job.ID, kind, message)
		log.Printf("Job %s failed (%s): %s", job.ID, kind, message)
	}
	return nil
}

// clampProgress keeps provider-reported progress inside the in-flight band.
func clampProgress(p int) int {
	if p < 10 {
		return 10
	}
	if p > 95 {
		return 95
	}
	return p
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	default:
		return ".png"
	}
}
