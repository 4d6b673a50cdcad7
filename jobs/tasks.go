package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantsWarmup preloads the grant cache for every action and type.
	TaskGrantsWarmup = "authz:grants:warmup"
)

// GrantsWarmupPayload configures a warmup run.
type GrantsWarmupPayload struct {
	// IncludeLegacy also warms the quarantined OTHER type.
	IncludeLegacy bool `json:"include_legacy"`
}

// NewGrantsWarmupTask constructs the warmup task.
func NewGrantsWarmupTask(includeLegacy bool) (*asynq.Task, error) {
	data, err := json.Marshal(GrantsWarmupPayload{IncludeLegacy: includeLegacy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantsWarmup, data), nil
}
