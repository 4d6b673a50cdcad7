package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/tenantguard/internal/authz"
	jobmetrics "github.com/odyssey-erp/tenantguard/internal/jobs"
)

type stubGrantSource struct {
	calls  []authz.ResourceType
	failOn authz.ResourceType
}

func (s *stubGrantSource) GrantsFor(ctx context.Context, action authz.Action, rt authz.ResourceType) (authz.RoleSet, error) {
	s.calls = append(s.calls, rt)
	if rt == s.failOn {
		return nil, errors.New("grant table unavailable")
	}
	return authz.NewRoleSet(authz.RoleMember), nil
}

func newWarmupJob(src authz.GrantSource) *GrantsWarmupJob {
	job := NewGrantsWarmupJob(src, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return job
}

func TestGrantsWarmupSkipsLegacyByDefault(t *testing.T) {
	src := &stubGrantSource{}
	task, err := NewGrantsWarmupTask(false)
	require.NoError(t, err)

	require.NoError(t, newWarmupJob(src).Handle(context.Background(), task))

	require.Len(t, src.calls, 10*len(warmupActions))
	require.NotContains(t, src.calls, authz.ResourceOther)
}

func TestGrantsWarmupIncludesLegacyWhenAsked(t *testing.T) {
	src := &stubGrantSource{}
	task, err := NewGrantsWarmupTask(true)
	require.NoError(t, err)

	require.NoError(t, newWarmupJob(src).Handle(context.Background(), task))

	require.Len(t, src.calls, 11*len(warmupActions))
	require.Contains(t, src.calls, authz.ResourceOther)
}

func TestGrantsWarmupStopsAtFirstFailure(t *testing.T) {
	src := &stubGrantSource{failOn: authz.ResourceClient}
	task, err := NewGrantsWarmupTask(false)
	require.NoError(t, err)

	err = newWarmupJob(src).Handle(context.Background(), task)

	require.ErrorContains(t, err, "grant table unavailable")
	// CLIENT sorts first, so only its first action was attempted.
	require.Len(t, src.calls, 1)
}

func TestGrantsWarmupEmptyPayloadUsesDefaults(t *testing.T) {
	src := &stubGrantSource{}

	require.NoError(t, newWarmupJob(src).Handle(context.Background(), asynq.NewTask(TaskGrantsWarmup, nil)))
	require.NotContains(t, src.calls, authz.ResourceOther)

	err := newWarmupJob(src).Handle(context.Background(), asynq.NewTask(TaskGrantsWarmup, []byte("[")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
