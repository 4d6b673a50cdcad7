package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/tenantguard/internal/authz"
	jobmetrics "github.com/odyssey-erp/tenantguard/internal/jobs"
)

var warmupActions = []authz.Action{authz.ActionCreate, authz.ActionRead, authz.ActionUpdate, authz.ActionDelete}

// GrantsWarmupJob reads every (action, resource type) pair through the grant
// source so the cache is populated before traffic arrives.
type GrantsWarmupJob struct {
	Grants  authz.GrantSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGrantsWarmupJob initialises the warmup handler.
func NewGrantsWarmupJob(grants authz.GrantSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *GrantsWarmupJob {
	return &GrantsWarmupJob{
		Grants:  grants,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle warms every pair and stops at the first failure.
func (j *GrantsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Grants == nil {
		return errors.New("grants warmup: handler not configured")
	}
	var payload GrantsWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskGrantsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := j.now()
	warmed := 0
	for _, rt := range authz.ResourceTypes() {
		if rt.IsLegacy() && !payload.IncludeLegacy {
			continue
		}
		for _, action := range warmupActions {
			if _, err := j.Grants.GrantsFor(ctx, action, rt); err != nil {
				resultErr = err
				logger.Error("warm grants", slog.String("action", string(action)), slog.String("resource_type", string(rt)), slog.Any("error", err))
				return resultErr
			}
			warmed++
		}
	}
	logger.Info("completed grants warmup", slog.Int("pairs", warmed), slog.Duration("duration", j.now().Sub(start)))
	return resultErr
}

func (j *GrantsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGrantsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskGrantsWarmup))
}

func (j *GrantsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GrantsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
