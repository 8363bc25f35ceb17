package worker

import (
	"context"
	"log"
	"time"

	"github.com/imageforge/api/internal/config"
	"github.com/imageforge/api/internal/model"
	"github.com/imageforge/api/internal/queue"
	"github.com/imageforge/api/internal/store"
)

const sweepBatchSize = 100

// Reconciler periodically re-enqueues jobs whose rows look stuck: PENDING
// rows whose enqueue never landed, and QUEUED/PROCESSING rows untouched
// past the stuck threshold (a crashed worker). The job row is the source
// of truth, so the sweep recovers everything the queue's own redelivery
// misses. Terminal jobs are never selected, which makes the sweep
// idempotent; a redundant delivery is disarmed by the store's CAS.
type Reconciler struct {
	store *store.JobStore
	queue queue.Enqueuer
	cfg   config.PipelineConfig
}

func NewReconciler(jobStore *store.JobStore, enqueuer queue.Enqueuer, cfg config.PipelineConfig) *Reconciler {
	return &Reconciler{
		store: jobStore,
		queue: enqueuer,
		cfg:   cfg,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				log.Printf("Reconciliation sweep failed: %v", err)
			}
		}
	}
}

// Sweep performs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) error {
	now := time.Now()

	pending, err := r.store.FindStale(ctx, []model.JobState{model.JobStatePending},
		now.Add(-r.cfg.PendingGrace), sweepBatchSize)
	if err != nil {
		return err
	}
	for i := range pending {
		job := &pending[i]
		if err := r.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
			log.Printf("Sweep: failed to enqueue pending job %s: %v", job.ID, err)
			continue
		}
		if _, err := r.store.MarkQueued(ctx, job.ID); err != nil {
			log.Printf("Sweep: failed to mark job %s queued: %v", job.ID, err)
		}
		log.Printf("Sweep: re-enqueued pending job %s", job.ID)
	}

	stuck, err := r.store.FindStale(ctx,
		[]model.JobState{model.JobStateQueued, model.JobStateProcessing},
		now.Add(-r.cfg.StuckAfter), sweepBatchSize)
	if err != nil {
		return err
	}
	for i := range stuck {
		job := &stuck[i]
		if err := r.queue.EnqueueIn(ctx, job.ID, job.Priority, 0); err != nil {
			log.Printf("Sweep: failed to re-enqueue stuck job %s: %v", job.ID, err)
			continue
		}
		// Bump updated_at so the next sweep does not pick it up again
		// before the redelivery lands.
		if err := r.store.Touch(ctx, job.ID); err != nil {
			log.Printf("Sweep: failed to touch job %s: %v", job.ID, err)
		}
		log.Printf("Sweep: re-enqueued stuck job %s (state=%s)", job.ID, job.State)
	}

	return nil
}
