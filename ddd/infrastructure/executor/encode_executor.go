package executor

import (
	"context"
	"fmt"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// EncodeDispatcher 远程编码调度
type EncodeDispatcher interface {
	SubmitEncodeJob(ctx context.Context, job *entity.JobEntity, obs service.EncodeObserver) (*entity.EncoderAssignmentEntity, error)
	CancelByJob(ctx context.Context, jobID, reason string) (*entity.EncoderAssignmentEntity, error)
	Unwatch(jobID string)
}

// EncodeExecutor ENCODE 步骤：把任务交给远程编码节点，持有租约直到分配结束
// 停机时不取消分配，重新领取后会接上同一个分配
type EncodeExecutor struct {
	dispatch      EncodeDispatcher
	checkInterval time.Duration
}

func NewEncodeExecutor(dispatch EncodeDispatcher, checkInterval time.Duration) *EncodeExecutor {
	if checkInterval <= 0 {
		checkInterval = 2 * time.Second
	}
	return &EncodeExecutor{dispatch: dispatch, checkInterval: checkInterval}
}

func (e *EncodeExecutor) Type() vo.StepType { return vo.StepTypeEncode }

func (e *EncodeExecutor) Execute(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
	obs := &encodeObserver{jobID: job.ID(), ctl: ctl, done: make(chan *entity.EncoderAssignmentEntity, 1)}
	a, err := e.dispatch.SubmitEncodeJob(ctx, job, obs)
	if err != nil {
		return nil, err
	}
	defer e.dispatch.Unwatch(job.ID())
	logger.Infof("encode submitted job_id=%s assignment_id=%s status=%s", job.ID(), a.ID(), a.Status())

	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case fin := <-obs.done:
			return encodeOutcome(fin)
		case <-ctx.Done():
			if failure.IsCancelled(ctl.Checkpoint(context.Background())) {
				return e.cancel(job.ID())
			}
			return nil, ctx.Err()
		case <-ticker.C:
			if failure.IsCancelled(ctl.Checkpoint(ctx)) {
				return e.cancel(job.ID())
			}
		}
	}
}

func (e *EncodeExecutor) cancel(jobID string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.dispatch.CancelByJob(ctx, jobID, "cancellation requested"); err != nil {
		logger.Warnf("encode cancel failed job_id=%s error=%v", jobID, err)
	}
	return nil, failure.ErrCancelled
}

func encodeOutcome(a *entity.EncoderAssignmentEntity) (map[string]interface{}, error) {
	switch a.Status() {
	case vo.AssignmentCompleted:
		result := make(map[string]interface{}, len(a.OutputMeta())+4)
		for k, v := range a.OutputMeta() {
			result[k] = v
		}
		result["outputPath"] = a.OutputPath()
		result["path"] = a.OutputPath()
		result["encoderId"] = a.EncoderID()
		result["assignmentId"] = a.ID()
		return result, nil
	case vo.AssignmentCancelled:
		return nil, failure.ErrCancelled
	default:
		// 节点侧的重试次数已经用完
		return nil, failure.Permanentf("encode failed after %d attempts: %s", a.Attempt(), a.Error())
	}
}

// encodeObserver 把分配进度写回队列任务
type encodeObserver struct {
	jobID string
	ctl   port.JobControl
	done  chan *entity.EncoderAssignmentEntity
}

func (o *encodeObserver) OnProgress(a *entity.EncoderAssignmentEntity) {
	msg := fmt.Sprintf("encoding on %s fps=%.1f speed=%.2fx eta=%ds", a.EncoderID(), a.FPS(), a.Speed(), a.ETASeconds())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.ctl.ReportProgress(ctx, int64(a.Progress()), 100, msg); err != nil {
		logger.Debugf("encode progress not recorded job_id=%s error=%v", o.jobID, err)
	}
}

func (o *encodeObserver) OnFinished(a *entity.EncoderAssignmentEntity) {
	select {
	case o.done <- a:
	default:
	}
}
