package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskRecord carries one audit record to the worker for insertion.
	TaskRecord = "audit:record"
	// DefaultQueue is used when no queue name is configured.
	DefaultQueue = "audit"

	defaultMaxRetry = 25
)

// Enqueuer is the subset of asynq.Client used by QueueSink.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink hands records to the durable queue. The record id doubles as the
// task id, so a retried enqueue of the same record is collapsed by the broker
// and a redelivered task is collapsed by the insert.
type QueueSink struct {
	client   Enqueuer
	queue    string
	maxRetry int
	retain   time.Duration
}

// NewQueueSink constructs a QueueSink. An empty queue selects DefaultQueue.
func NewQueueSink(client Enqueuer, queue string) *QueueSink {
	if queue == "" {
		queue = DefaultQueue
	}
	return &QueueSink{client: client, queue: queue, maxRetry: defaultMaxRetry, retain: 24 * time.Hour}
}

// NewRecordTask wraps a record as an asynq task.
func NewRecordTask(rec Record) (*asynq.Task, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: record id required", ErrInvalidEntry)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecord, data), nil
}

// DecodeRecordTask extracts the record carried by t.
func DecodeRecordTask(t *asynq.Task) (Record, error) {
	var rec Record
	if err := json.Unmarshal(t.Payload(), &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if rec.ID == "" || rec.Action == "" || rec.ResourceType == "" || !rec.Outcome.Valid() {
		return Record{}, fmt.Errorf("%w: incomplete payload", ErrInvalidEntry)
	}
	return rec, nil
}

// Write enqueues rec for durable insertion.
func (s *QueueSink) Write(ctx context.Context, rec Record) error {
	if s == nil || s.client == nil {
		return ErrSinkNotConfigured
	}
	task, err := NewRecordTask(rec)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(s.queue),
		asynq.MaxRetry(s.maxRetry),
		asynq.TaskID(rec.ID),
		asynq.Retention(s.retain),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("audit: enqueue record: %w", err)
	}
	return nil
}

var _ Sink = (*QueueSink)(nil)
