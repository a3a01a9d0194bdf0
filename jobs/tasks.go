package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegritySweep re-verifies the latest export artifacts.
	TaskIntegritySweep = "integrity:sweep"
)

// IntegritySweepPayload configures one sweep run.
type IntegritySweepPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewIntegritySweepTask constructs an Asynq task.
func NewIntegritySweepTask(payload IntegritySweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegritySweep, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
