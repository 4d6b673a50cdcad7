package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/tenantguard/internal/audit"
	jobmetrics "github.com/odyssey-erp/tenantguard/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RecordInserter persists one audit record idempotently by id.
type RecordInserter interface {
	Insert(ctx context.Context, rec audit.Record) error
}

// AuditRecordJob drains queued audit records into the database.
type AuditRecordJob struct {
	Repo    RecordInserter
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob wires dependencies for the audit record handler.
func NewAuditRecordJob(repo RecordInserter, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Repo: repo, Logger: logger, Metrics: metrics}
}

// Handle inserts the carried record. Malformed payloads are not retried;
// insert failures are, and the insert ignores ids it has already stored.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("audit record: handler not configured")
	}
	rec, err := audit.DecodeRecordTask(t)
	if err != nil {
		j.logger().Warn("drop malformed audit task", slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(audit.TaskRecord)
	if err := j.Repo.Insert(ctx, rec); err != nil {
		j.logger().Error("insert audit record", slog.String("record_id", rec.ID), slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddPersisted(string(rec.Outcome), 1)
	return tracker.End(nil)
}

func (j *AuditRecordJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", audit.TaskRecord))
	}
	return slog.Default().With(slog.String("job", audit.TaskRecord))
}

func (j *AuditRecordJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
