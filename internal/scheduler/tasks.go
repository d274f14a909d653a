package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const TaskNotificationOutboxDue = "notification.outbox.due"

// jobTaskPrefix prefixes the task type of every engagement entry point.
const jobTaskPrefix = "engagement."

type NotificationOutboxDuePayload struct {
	OutboxID string          `json:"outboxId"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

type JobPayload struct {
	Job string `json:"job"`
}

func NewNotificationOutboxDueTask(payload NotificationOutboxDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationOutboxDue, data), nil
}

func ParseNotificationOutboxDuePayload(task *asynq.Task) (NotificationOutboxDuePayload, error) {
	var payload NotificationOutboxDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NotificationOutboxDuePayload{}, err
	}
	return payload, nil
}

// JobTaskType returns the asynq task type for a job name.
func JobTaskType(job string) string {
	return jobTaskPrefix + job
}

func NewJobTask(job string) (*asynq.Task, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("job name is required")
	}
	data, err := json.Marshal(JobPayload{Job: job})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(JobTaskType(job), data), nil
}

func ParseJobPayload(task *asynq.Task) (JobPayload, error) {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return JobPayload{}, err
	}
	if payload.Job == "" {
		payload.Job = strings.TrimPrefix(task.Type(), jobTaskPrefix)
	}
	return payload, nil
}
