package executor

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// DeliverExecutor DELIVER 步骤：把上游产物交付到对象存储
type DeliverExecutor struct {
	delivery  gateway.DeliveryGateway
	keyPrefix string
}

func NewDeliverExecutor(delivery gateway.DeliveryGateway, keyPrefix string) *DeliverExecutor {
	if keyPrefix == "" {
		keyPrefix = "deliveries"
	}
	return &DeliverExecutor{delivery: delivery, keyPrefix: strings.Trim(keyPrefix, "/")}
}

func (e *DeliverExecutor) Type() vo.StepType { return vo.StepTypeDeliver }

func (e *DeliverExecutor) Execute(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
	payload := port.StepPayloadFromJob(job)
	local := payload.LookupString("outputPath")
	if local == "" {
		local = payload.LookupString("path")
	}
	if local == "" {
		return nil, failure.Permanentf("deliver job %s has no file to deliver", job.ID())
	}
	info, err := os.Stat(local)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Permanentf("deliver source %s does not exist", local)
		}
		return nil, err
	}

	key := payload.LookupString("objectKey")
	if key == "" {
		owner := payload.RequestID
		if owner == "" {
			owner = job.ID()
		}
		key = path.Join(e.keyPrefix, owner, filepath.Base(local))
	}

	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}
	url, err := e.delivery.Deliver(ctx, local, key, payload.LookupString("contentType"))
	if err != nil {
		return nil, err
	}
	_ = ctl.ReportProgress(ctx, info.Size(), info.Size(), "delivered")
	logger.Infof("delivery finished job_id=%s object_key=%s size=%d", job.ID(), key, info.Size())
	return map[string]interface{}{
		"objectKey": key,
		"url":       url,
		"size":      info.Size(),
		"path":      local,
	}, nil
}
