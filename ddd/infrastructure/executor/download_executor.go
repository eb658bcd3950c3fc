package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// DownloadExecutor DOWNLOAD 步骤：启动下载并轮询直到完成
type DownloadExecutor struct {
	client       gateway.DownloadClient
	pollInterval time.Duration
	timeout      time.Duration
}

func NewDownloadExecutor(client gateway.DownloadClient, pollInterval, timeout time.Duration) *DownloadExecutor {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &DownloadExecutor{client: client, pollInterval: pollInterval, timeout: timeout}
}

func (e *DownloadExecutor) Type() vo.StepType { return vo.StepTypeDownload }

func (e *DownloadExecutor) Execute(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
	payload := port.StepPayloadFromJob(job)
	url := payload.LookupString("url")
	if url == "" {
		return nil, failure.Permanentf("download job %s has no url", job.ID())
	}

	handle, err := e.client.Start(ctx, map[string]interface{}{
		"url":       url,
		"title":     payload.LookupString("title"),
		"requestId": payload.RequestID,
		"jobId":     job.ID(),
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("download started job_id=%s handle=%s url=%s", job.ID(), handle, url)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	var last gateway.DownloadStatus
	for {
		if err := ctl.Checkpoint(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, failure.Transient(fmt.Errorf("download %s timed out after %s", handle, e.timeout))
			}
			return nil, err
		}

		status, err := e.client.Status(ctx, handle)
		if err != nil {
			return nil, err
		}
		if status.BytesDone != last.BytesDone || status.State != last.State {
			msg := fmt.Sprintf("%s %d/%d bytes", status.State, status.BytesDone, status.BytesTotal)
			if perr := ctl.ReportProgress(ctx, status.BytesDone, status.BytesTotal, msg); perr != nil {
				logger.Warnf("download progress report failed job_id=%s error=%v", job.ID(), perr)
			}
			last = status
		}

		switch status.State {
		case gateway.DownloadCompleted:
			path, err := e.client.Result(ctx, handle)
			if err != nil {
				return nil, err
			}
			logger.Infof("download finished job_id=%s handle=%s path=%s bytes=%d", job.ID(), handle, path, status.BytesDone)
			return map[string]interface{}{
				"handle":    handle,
				"path":      path,
				"inputPath": path,
				"bytes":     status.BytesDone,
				"title":     payload.LookupString("title"),
			}, nil
		case gateway.DownloadFailed:
			msg := status.Message
			if msg == "" {
				msg = "download failed"
			}
			return nil, failure.Transient(fmt.Errorf("download %s: %s", handle, msg))
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}
