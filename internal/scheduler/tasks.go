package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskSLASweep = "sla.sweep"

const TaskOutboxDispatch = "messages.outbox_dispatch"

type SLASweepPayload struct {
	WorkspaceID *string `json:"workspaceId,omitempty"`
}

type OutboxDispatchPayload struct {
	Batch int `json:"batch"`
}

func NewSLASweepTask(payload SLASweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSLASweep, data), nil
}

func ParseSLASweepPayload(task *asynq.Task) (SLASweepPayload, error) {
	var payload SLASweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SLASweepPayload{}, err
	}
	return payload, nil
}

func NewOutboxDispatchTask(payload OutboxDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDispatch, data), nil
}

func ParseOutboxDispatchPayload(task *asynq.Task) (OutboxDispatchPayload, error) {
	var payload OutboxDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboxDispatchPayload{}, err
	}
	return payload, nil
}
