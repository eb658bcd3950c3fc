package executor

import (
	"context"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

const defaultNotificationEvent = "request.step_completed"

// NotificationExecutor NOTIFICATION 步骤：发送即忘，发送失败不影响流水线
type NotificationExecutor struct {
	notifier gateway.Notifier
}

func NewNotificationExecutor(notifier gateway.Notifier) *NotificationExecutor {
	return &NotificationExecutor{notifier: notifier}
}

func (e *NotificationExecutor) Type() vo.StepType { return vo.StepTypeNotification }

func (e *NotificationExecutor) Execute(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
	payload := port.StepPayloadFromJob(job)
	name := payload.LookupString("event")
	if name == "" {
		name = defaultNotificationEvent
	}
	body := map[string]interface{}{
		"requestId":   payload.RequestID,
		"executionId": payload.ExecutionID,
		"stepId":      payload.StepID,
		"result":      payload.ParentResult,
	}
	if msg := payload.LookupString("message"); msg != "" {
		body["message"] = msg
	}

	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}
	delivered := true
	if err := e.notifier.Notify(ctx, name, body); err != nil {
		delivered = false
		logger.Warnf("notification not delivered job_id=%s event=%s error=%v", job.ID(), name, err)
	}
	return map[string]interface{}{
		"event":     name,
		"delivered": delivered,
	}, nil
}
