package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "task"}, nil
}

func sampleRecord() Record {
	return Record{
		ID:           "0b6f2d4e-1111-4a55-9d4b-3f0a5c1d2e3f",
		PrincipalID:  "u1",
		Action:       "DELETE",
		ResourceType: "PAYMENT",
		Outcome:      OutcomeDenied,
		Detail:       []byte(`{"reason":"insufficient permissions"}`),
		OccurredAt:   time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC),
	}
}

func TestQueueSinkEnqueuesRecordTask(t *testing.T) {
	client := &stubEnqueuer{}
	sink := NewQueueSink(client, "")

	require.NoError(t, sink.Write(context.Background(), sampleRecord()))
	require.Len(t, client.tasks, 1)
	require.Equal(t, TaskRecord, client.tasks[0].Type())

	decoded, err := DecodeRecordTask(client.tasks[0])
	require.NoError(t, err)
	require.Equal(t, sampleRecord().ID, decoded.ID)
	require.Equal(t, OutcomeDenied, decoded.Outcome)
	require.JSONEq(t, `{"reason":"insufficient permissions"}`, string(decoded.Detail))
}

func TestQueueSinkTreatsDuplicateTaskIDAsDelivered(t *testing.T) {
	sink := NewQueueSink(&stubEnqueuer{err: asynq.ErrTaskIDConflict}, "audit")
	require.NoError(t, sink.Write(context.Background(), sampleRecord()))
}

func TestQueueSinkPropagatesBrokerErrors(t *testing.T) {
	sink := NewQueueSink(&stubEnqueuer{err: errors.New("redis down")}, "audit")
	err := sink.Write(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "redis down")
}

func TestQueueSinkRequiresRecordID(t *testing.T) {
	sink := NewQueueSink(&stubEnqueuer{}, "audit")
	rec := sampleRecord()
	rec.ID = ""
	require.ErrorIs(t, sink.Write(context.Background(), rec), ErrInvalidEntry)
}

func TestDecodeRecordTaskRejectsIncompletePayload(t *testing.T) {
	_, err := DecodeRecordTask(asynq.NewTask(TaskRecord, []byte(`{"id":"x"}`)))
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = DecodeRecordTask(asynq.NewTask(TaskRecord, []byte(`not json`)))
	require.ErrorIs(t, err, ErrInvalidEntry)
}
