package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/imageforge/api/internal/model"
)

// ErrNotFound is returned when a job does not exist (or, through the
// owner-scoped reads, is not visible to the requester).
var ErrNotFound = errors.New("job not found")

// JobStore is the single source of truth for job state. Every state change
// goes through a compare-and-swap on the prior state, so transitions never
// regress and concurrent workers cannot both own a job.
type JobStore struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the jobs table.
func Open(dsn string) (*JobStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New wraps an existing connection (tests use sqlite here).
func New(db *gorm.DB) (*JobStore, error) {
	if err := db.AutoMigrate(&model.Job{}); err != nil {
		return nil, err
	}
	return &JobStore{db: db}, nil
}

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	return s.db.WithContext(ctx).Create(job).Error
}

// Get retrieves a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetForOwner retrieves a job by id, scoped to its owner. A job owned by
// someone else is indistinguishable from a missing one.
func (s *JobStore) GetForOwner(ctx context.Context, id, ownerID string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).First(&job, "id = ? AND owner_id = ?", id, ownerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// transition applies updates iff the job is currently in one of the given
// states. Returns false when the guard did not match.
func (s *JobStore) transition(ctx context.Context, id string, from []model.JobState, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND state IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkQueued moves PENDING → QUEUED after a successful enqueue.
func (s *JobStore) MarkQueued(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, []model.JobState{model.JobStatePending}, map[string]interface{}{
		"state": model.JobStateQueued,
	})
}

// Claim moves a job into PROCESSING. PENDING is accepted as well as QUEUED:
// a crash between enqueue and MarkQueued leaves the row PENDING while the
// delivery is already in flight.
func (s *JobStore) Claim(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id,
		[]model.JobState{model.JobStatePending, model.JobStateQueued},
		map[string]interface{}{"state": model.JobStateProcessing})
}

// Touch bumps updated_at on a live job so the reconciliation sweep does
// not re-discover one that was just resumed or re-enqueued.
func (s *JobStore) Touch(ctx context.Context, id string) error {
	_, err := s.transition(ctx, id, model.NonTerminalStates,
		map[string]interface{}{"updated_at": time.Now()})
	return err
}

// SetProviderHandle records the provider token after a successful submit.
func (s *JobStore) SetProviderHandle(ctx context.Context, id, handle string) error {
	_, err := s.transition(ctx, id, []model.JobState{model.JobStateProcessing},
		map[string]interface{}{"provider_handle": handle})
	return err
}

// SetProgress updates the progress estimate of an in-flight job.
func (s *JobStore) SetProgress(ctx context.Context, id string, progress int) error {
	_, err := s.transition(ctx, id, []model.JobState{model.JobStateProcessing},
		map[string]interface{}{"progress": progress})
	return err
}

// IncrementAttempt bumps the retry counter and returns the new value.
func (s *JobStore) IncrementAttempt(ctx context.Context, id string) (int, error) {
	res := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Update("attempt", gorm.Expr("attempt + ?", 1))
	if res.Error != nil {
		return 0, res.Error
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return job.Attempt, nil
}

// Complete moves PROCESSING → COMPLETED and records the artifact. The
// result is set exactly once; a false return means the job left PROCESSING
// in the meantime (cancelled, or completed by a concurrent delivery) and
// the caller must discard the artifact.
func (s *JobStore) Complete(ctx context.Context, id string, artifact *model.Artifact) (bool, error) {
	now := time.Now()
	return s.transition(ctx, id, []model.JobState{model.JobStateProcessing}, map[string]interface{}{
		"state":               model.JobStateCompleted,
		"progress":            100,
		"result_url":          artifact.URL,
		"result_key":          artifact.Key,
		"result_size":         artifact.Size,
		"result_content_type": artifact.ContentType,
		"result_width":        artifact.Width,
		"result_height":       artifact.Height,
		"completed_at":        &now,
	})
}

// Fail moves any non-terminal state → FAILED with a structured reason.
func (s *JobStore) Fail(ctx context.Context, id string, kind model.ErrorKind, message string) (bool, error) {
	now := time.Now()
	return s.transition(ctx, id, model.NonTerminalStates, map[string]interface{}{
		"state":         model.JobStateFailed,
		"error_kind":    kind,
		"error_message": message,
		"completed_at":  &now,
	})
}

// Cancel moves any non-terminal state → CANCELLED. Returns false when the
// job already reached a terminal state, which callers treat as a no-op.
func (s *JobStore) Cancel(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	return s.transition(ctx, id, model.NonTerminalStates, map[string]interface{}{
		"state":        model.JobStateCancelled,
		"completed_at": &now,
	})
}

// FindStale returns up to limit jobs in the given states whose updated_at
// is older than cutoff, oldest first. Backs the reconciliation sweep; the
// (state, updated_at) index keeps it cheap.
func (s *JobStore) FindStale(ctx context.Context, states []model.JobState, cutoff time.Time, limit int) ([]model.Job, error) {
	var jobs []model.Job
	err := s.db.WithContext(ctx).
		Where("state IN ? AND updated_at < ?", states, cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// CountByState returns queue-depth style counts for observability.
func (s *JobStore) CountByState(ctx context.Context, state model.JobState) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Job{}).Where("state = ?", state).Count(&n).Error
	return n, err
}
