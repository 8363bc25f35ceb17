package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/imageforge/api/internal/model"
)

// TaskTypeGenerate is the single task type flowing through the queue; the
// payload carries only the job id, the record store holds everything else.
const TaskTypeGenerate = "generate:image"

// Queue names by priority class. Weights are non-strict so standard jobs
// are never starved by a premium burst.
const (
	QueuePremium  = "premium"
	QueueStandard = "standard"
)

// QueueWeights is the asynq server queue configuration.
var QueueWeights = map[string]int{
	QueuePremium:  6,
	QueueStandard: 3,
}

// TaskPayload is the wire format of a generate task.
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// Enqueuer hands job ids to the worker pool. Delivery is at-least-once;
// redundant deliveries are disarmed by the record store's CAS.
type Enqueuer interface {
	// Enqueue schedules an immediate delivery. Enqueueing an id that is
	// already pending or in flight is a no-op.
	Enqueue(ctx context.Context, jobID string, priority model.Priority) error
	// EnqueueIn schedules a delivery after the given delay. Used for poll
	// cycles and retry backoff, so no dedup is applied: the delivery that
	// requests it is usually still in flight under the job's task id.
	EnqueueIn(ctx context.Context, jobID string, priority model.Priority, delay time.Duration) error
}

// AsynqQueue implements Enqueuer on an asynq client. Asynq's own retry is
// disabled (MaxRetry 0): the worker owns all retry and backoff policy so
// the job's attempt counter stays accurate.
type AsynqQueue struct {
	client *asynq.Client
}

func NewAsynqQueue(client *asynq.Client) *AsynqQueue {
	return &AsynqQueue{client: client}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, jobID string, priority model.Priority) error {
	task, err := newGenerateTask(jobID)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName(priority)),
		asynq.TaskID(TaskTypeGenerate+":"+jobID),
		asynq.MaxRetry(0),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (q *AsynqQueue) EnqueueIn(ctx context.Context, jobID string, priority model.Priority, delay time.Duration) error {
	task, err := newGenerateTask(jobID)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName(priority)),
		asynq.MaxRetry(0),
		asynq.ProcessIn(delay),
	)
	return err
}

func newGenerateTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerate, data), nil
}

func queueName(priority model.Priority) string {
	if priority == model.PriorityPremium {
		return QueuePremium
	}
	return QueueStandard
}
