package app

import (
	"context"

	"acquisition-service/ddd/application/cqe"
	"acquisition-service/ddd/application/dto"
	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/errno"
)

type JobApp interface {
	// Enqueue 入队；去重键已被活跃任务占用时返回该任务
	Enqueue(ctx context.Context, req *cqe.EnqueueJobReq) (*dto.JobDTO, error)
	// GetJob 获取任务详情
	GetJob(ctx context.Context, jobID string) (*dto.JobDTO, error)
	// ListJobs 分页查询任务
	ListJobs(ctx context.Context, req *cqe.ListJobsReq) (*dto.PageDTO[*dto.JobDTO], error)
	// Stats 按状态/类型统计
	Stats(ctx context.Context) (*repo.JobStatistics, error)
	// Cancel pending/paused 立即取消，running 请求协作取消
	Cancel(ctx context.Context, jobID string) (*dto.JobDTO, error)
	// RequestCancellation 只设置取消标记
	RequestCancellation(ctx context.Context, jobID string) (*dto.JobDTO, error)
	Pause(ctx context.Context, jobID string) (*dto.JobDTO, error)
	Resume(ctx context.Context, jobID string) (*dto.JobDTO, error)
	Retry(ctx context.Context, jobID string) (*dto.JobDTO, error)
	// Cleanup 删除超过保留天数的终态任务
	Cleanup(ctx context.Context, req *cqe.CleanupJobsReq) (*dto.CleanupResultDTO, error)
	// ListWorkers Worker 及其持有的任务
	ListWorkers(ctx context.Context) ([]*dto.WorkerDTO, error)
}

type jobAppImpl struct {
	queue         *service.JobQueueService
	workers       *service.WorkerService
	retentionDays int
}

func NewJobApp(queue *service.JobQueueService, workers *service.WorkerService, retentionDays int) JobApp {
	return &jobAppImpl{queue: queue, workers: workers, retentionDays: retentionDays}
}

func (a *jobAppImpl) Enqueue(ctx context.Context, req *cqe.EnqueueJobReq) (*dto.JobDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job, err := a.queue.Enqueue(ctx, service.EnqueueRequest{
		Type:        req.Type,
		Payload:     req.Payload,
		DedupeKey:   req.DedupeKey,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidJobStatus)
	}
	return dto.NewJobDTO(job), nil
}

func (a *jobAppImpl) GetJob(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	job, err := a.queue.Get(ctx, jobID)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidJobStatus)
	}
	return dto.NewJobDTO(job), nil
}

func (a *jobAppImpl) ListJobs(ctx context.Context, req *cqe.ListJobsReq) (*dto.PageDTO[*dto.JobDTO], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	jobs, total, err := a.queue.List(ctx, repo.JobFilter{
		Status:   vo.JobStatus(req.Status),
		Type:     req.Type,
		WorkerID: req.WorkerID,
		Limit:    req.Size,
		Offset:   (req.Page - 1) * req.Size,
	})
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidJobStatus)
	}
	return &dto.PageDTO[*dto.JobDTO]{Items: dto.NewJobDTOList(jobs), Total: total, Page: req.Page, Size: req.Size}, nil
}

func (a *jobAppImpl) Stats(ctx context.Context) (*repo.JobStatistics, error) {
	stats, err := a.queue.Stats(ctx)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidJobStatus)
	}
	return stats, nil
}

func (a *jobAppImpl) transition(ctx context.Context, jobID string, fn func(context.Context, string) (*entity.JobEntity, error)) (*dto.JobDTO, error) {
	job, err := fn(ctx, jobID)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidJobStatus)
	}
	return dto.NewJobDTO(job), nil
}

func (a *jobAppImpl) Cancel(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	return a.transition(ctx, jobID, a.queue.Cancel)
}

func (a *jobAppImpl) RequestCancellation(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	return a.transition(ctx, jobID, a.queue.RequestCancellation)
}

func (a *jobAppImpl) Pause(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	return a.transition(ctx, jobID, a.queue.Pause)
}

func (a *jobAppImpl) Resume(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	return a.transition(ctx, jobID, a.queue.Resume)
}

func (a *jobAppImpl) Retry(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	return a.transition(ctx, jobID, a.queue.Retry)
}

func (a *jobAppImpl) Cleanup(ctx context.Context, req *cqe.CleanupJobsReq) (*dto.CleanupResultDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	days := req.OlderThanDays
	if days == 0 {
		days = a.retentionDays
	}
	n, err := a.queue.Cleanup(ctx, days)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidJobStatus)
	}
	return &dto.CleanupResultDTO{Deleted: n}, nil
}

func (a *jobAppImpl) ListWorkers(ctx context.Context) ([]*dto.WorkerDTO, error) {
	views, err := a.workers.List(ctx)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidJobStatus)
	}
	list := make([]*dto.WorkerDTO, 0, len(views))
	for _, v := range views {
		list = append(list, dto.NewWorkerDTO(v))
	}
	return list, nil
}
