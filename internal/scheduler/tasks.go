package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskDialBatch = "campaign.dial_batch"

type DialBatchPayload struct {
	Campaign  string `json:"campaign"`
	BatchSize int    `json:"batchSize,omitempty"`
}

func NewDialBatchTask(payload DialBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDialBatch, data), nil
}

func ParseDialBatchPayload(task *asynq.Task) (DialBatchPayload, error) {
	var payload DialBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DialBatchPayload{}, err
	}
	return payload, nil
}
