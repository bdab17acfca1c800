package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries housekeeping tasks.
	QueueDefault = "default"
	// QueueConsolidation carries consolidation runs. A dedicated queue keeps
	// long pipeline executions from starving short tasks.
	QueueConsolidation = "consolidation"

	// TaskConsolidationRun executes one consolidation run to a terminal status.
	TaskConsolidationRun = "consolidation:run"
	// TaskConsolidationRecover re-enqueues runs a dead worker left InProgress.
	TaskConsolidationRecover = "consolidation:recover"
)

// ConsolidationRunPayload identifies the run a worker should drive forward.
type ConsolidationRunPayload struct {
	OrgID uuid.UUID `json:"orgId"`
	RunID uuid.UUID `json:"runId"`
}

// NewConsolidationRunTask constructs the Asynq task for one run.
func NewConsolidationRunTask(payload ConsolidationRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidationRun, data), nil
}

// NewConsolidationRecoverTask constructs the periodic stalled-run sweep task.
func NewConsolidationRecoverTask() *asynq.Task {
	return asynq.NewTask(TaskConsolidationRecover, nil)
}
