package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/backoff"
	"acquisition-service/pkg/logger"
)

const maxCASRetries = 8

// EnqueueRequest 入队参数
type EnqueueRequest struct {
	Type        string
	Payload     map[string]interface{}
	DedupeKey   string
	Priority    int
	MaxAttempts int
}

// JobQueueOption 队列可选配置
type JobQueueOption func(*JobQueueService)

// WithClock 替换时间源
func WithClock(now func() time.Time) JobQueueOption {
	return func(s *JobQueueService) { s.now = now }
}

// WithBackoff 重试退避策略
func WithBackoff(b *backoff.Backoff) JobQueueOption {
	return func(s *JobQueueService) { s.backoff = b }
}

// WithWorkerGrace Worker 心跳宽限期
func WithWorkerGrace(d time.Duration) JobQueueOption {
	return func(s *JobQueueService) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithClaimBatch 单次领取时读取的候选数量
func WithClaimBatch(n int) JobQueueOption {
	return func(s *JobQueueService) {
		if n > 0 {
			s.claimBatch = n
		}
	}
}

// WithDefaultMaxAttempts 未指定 maxAttempts 时的默认值
func WithDefaultMaxAttempts(n int) JobQueueOption {
	return func(s *JobQueueService) {
		if n > 0 {
			s.defaultMaxAttempts = n
		}
	}
}

// JobQueueService 持久化任务队列
// 所有状态变更都走仓储的条件更新，进程之间不共享锁
type JobQueueService struct {
	jobs    repo.JobRepository
	workers repo.WorkerRepository
	events  event.Publisher

	now                func() time.Time
	backoff            *backoff.Backoff
	grace              time.Duration
	claimBatch         int
	defaultMaxAttempts int
}

func NewJobQueueService(jobs repo.JobRepository, workers repo.WorkerRepository, events event.Publisher, opts ...JobQueueOption) *JobQueueService {
	s := &JobQueueService{
		jobs:               jobs,
		workers:            workers,
		events:             events,
		now:                time.Now,
		backoff:            backoff.NewBackoff(5*time.Second, 10*time.Minute, 2),
		grace:              30 * time.Second,
		claimBatch:         16,
		defaultMaxAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JobQueueService) publish(typ event.Type, job *entity.JobEntity, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(event.Event{
		Type:    typ,
		JobID:   job.ID(),
		JobType: job.Type(),
		Status:  job.Status().String(),
		Data:    data,
		At:      s.now(),
	})
}

// Enqueue 入队；去重键已被活跃任务占用时直接返回该任务
func (s *JobQueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*entity.JobEntity, error) {
	if req.Type == "" {
		return nil, entity.NewDomainError("job type is required")
	}
	if req.DedupeKey != "" {
		existing, err := s.jobs.GetActiveJobByDedupeKey(ctx, req.DedupeKey)
		if err != nil {
			return nil, fmt.Errorf("failed to look up dedupe key: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}
	job := entity.NewJobEntity(uuid.NewString(), req.Type, req.Payload, req.DedupeKey, req.Priority, maxAttempts, s.now())
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, repo.ErrDuplicateDedupeKey) {
			// 并发入队时另一方先写入
			existing, getErr := s.jobs.GetActiveJobByDedupeKey(ctx, req.DedupeKey)
			if getErr == nil && existing != nil {
				return existing, nil
			}
			return nil, ErrDedupeKeyHeld
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	logger.Debugf("job enqueued job_id=%s type=%s dedupe_key=%s priority=%d", job.ID(), job.Type(), job.DedupeKey(), job.Priority())
	s.publish(event.JobEnqueued, job, nil)
	return job, nil
}

// ClaimNext 领取下一个可执行任务；没有可领取任务时返回 nil
func (s *JobQueueService) ClaimNext(ctx context.Context, workerID string, types []string) (*entity.JobEntity, error) {
	worker, err := s.workers.GetWorkerByID(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	if worker == nil || !worker.Status().CanClaim() {
		return nil, ErrWorkerNotActive
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := s.now()
		candidates, err := s.jobs.ListClaimable(ctx, types, now, s.claimBatch)
		if err != nil {
			return nil, fmt.Errorf("failed to list claimable jobs: %w", err)
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		contended := false
		for _, job := range candidates {
			if err := job.Claim(workerID, now); err != nil {
				continue
			}
			if err := s.jobs.UpdateJob(ctx, job); err != nil {
				if errors.Is(err, repo.ErrVersionConflict) {
					// 被其他 Worker 抢先，尝试下一个
					contended = true
					continue
				}
				return nil, fmt.Errorf("failed to claim job: %w", err)
			}
			logger.Debugf("job claimed job_id=%s worker_id=%s attempt=%d/%d", job.ID(), workerID, job.Attempts(), job.MaxAttempts())
			s.publish(event.JobClaimed, job, map[string]interface{}{"workerId": workerID, "attempt": job.Attempts()})
			return job, nil
		}
		if !contended {
			return nil, nil
		}
	}
}

// Heartbeat 刷新 Worker 心跳，其持有任务的租约随之延续
func (s *JobQueueService) Heartbeat(ctx context.Context, workerID string) error {
	ok, err := s.workers.TouchHeartbeat(ctx, workerID, s.now())
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if !ok {
		return ErrWorkerNotActive
	}
	return nil
}

// mutate 读取-修改-条件写入，版本冲突时重新读取
func (s *JobQueueService) mutate(ctx context.Context, jobID string, fn func(job *entity.JobEntity) error) (*entity.JobEntity, error) {
	for i := 0; i < maxCASRetries; i++ {
		job, err := s.jobs.GetJobByID(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to get job: %w", err)
		}
		if job == nil {
			return nil, ErrJobNotFound
		}
		if err := fn(job); err != nil {
			return job, err
		}
		err = s.jobs.UpdateJob(ctx, job)
		if err == nil {
			return job, nil
		}
		if errors.Is(err, repo.ErrDuplicateDedupeKey) {
			return nil, ErrDedupeKeyHeld
		}
		if !errors.Is(err, repo.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update job: %w", err)
		}
	}
	return nil, fmt.Errorf("job %s: %w", jobID, repo.ErrVersionConflict)
}

// ReportProgress 更新执行进度
func (s *JobQueueService) ReportProgress(ctx context.Context, jobID, workerID string, current, total int64, message string) error {
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		return job.ReportProgress(workerID, current, total, message, s.now())
	})
	if err != nil {
		return err
	}
	s.publish(event.JobProgress, job, map[string]interface{}{
		"current": current,
		"total":   total,
		"message": message,
	})
	return nil
}

// Complete 任务成功
func (s *JobQueueService) Complete(ctx context.Context, jobID, workerID string, result map[string]interface{}) (*entity.JobEntity, error) {
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		return job.Complete(workerID, result, s.now())
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("job completed job_id=%s type=%s attempts=%d", job.ID(), job.Type(), job.Attempts())
	s.publish(event.JobCompleted, job, nil)
	return job, nil
}

// Fail 记录失败；可重试且仍有次数时退避后重新排队，否则进入 failed
// 取消类错误视为执行器确认取消
func (s *JobQueueService) Fail(ctx context.Context, jobID, workerID string, cause error) (*entity.JobEntity, error) {
	if failure.IsCancelled(cause) {
		return s.MarkCancelled(ctx, jobID, workerID)
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	retryable := failure.IsRetryable(cause)

	var retried bool
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		delay := s.backoff.Duration(job.Attempts() + 1)
		var ferr error
		retried, ferr = job.Fail(workerID, msg, retryable, delay, s.now())
		return ferr
	})
	if err != nil {
		return nil, err
	}

	if retried {
		logger.Warnf("job failed, retry scheduled job_id=%s attempt=%d/%d run_at=%s error=%s",
			job.ID(), job.Attempts(), job.MaxAttempts(), job.RunAt().Format(time.RFC3339), msg)
		s.publish(event.JobRetryScheduled, job, map[string]interface{}{"error": msg, "runAt": job.RunAt()})
		return job, nil
	}
	logger.Errorf("job failed job_id=%s type=%s attempts=%d/%d kind=%s error=%s",
		job.ID(), job.Type(), job.Attempts(), job.MaxAttempts(), failure.KindOf(cause), msg)
	s.publishTerminal(job, map[string]interface{}{"error": msg})
	return job, nil
}

func (s *JobQueueService) publishTerminal(job *entity.JobEntity, data map[string]interface{}) {
	switch job.Status() {
	case vo.JobStatusCompleted:
		s.publish(event.JobCompleted, job, data)
	case vo.JobStatusCancelled:
		s.publish(event.JobCancelled, job, data)
	case vo.JobStatusFailed:
		s.publish(event.JobFailed, job, data)
	}
}

// RequestCancellation 未运行的任务立即取消，运行中的设置取消标记由执行器在检查点响应
func (s *JobQueueService) RequestCancellation(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	var immediate bool
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		var cerr error
		immediate, cerr = job.RequestCancellation(s.now())
		return cerr
	})
	if err != nil {
		return nil, err
	}
	if immediate {
		logger.Infof("job cancelled job_id=%s", job.ID())
		s.publish(event.JobCancelled, job, nil)
	} else {
		logger.Infof("job cancellation requested job_id=%s worker_id=%s", job.ID(), job.LockedBy())
		s.publish(event.JobCancelRequested, job, map[string]interface{}{"workerId": job.LockedBy()})
	}
	return job, nil
}

// Cancel pending/paused 任务立即取消，running 任务走协作取消
func (s *JobQueueService) Cancel(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	return s.RequestCancellation(ctx, jobID)
}

// MarkCancelled 执行器确认已停止
func (s *JobQueueService) MarkCancelled(ctx context.Context, jobID, workerID string) (*entity.JobEntity, error) {
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		return job.MarkCancelled(workerID, s.now())
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("job cancelled by executor job_id=%s worker_id=%s", job.ID(), workerID)
	s.publish(event.JobCancelled, job, nil)
	return job, nil
}

// CancelRequested 执行器检查点读取取消标记
func (s *JobQueueService) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return false, ErrJobNotFound
	}
	return job.CancelRequested() || job.Status() == vo.JobStatusCancelled, nil
}

// Pause 暂停
func (s *JobQueueService) Pause(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		return job.Pause(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publish(event.JobPaused, job, nil)
	return job, nil
}

// Resume 恢复
func (s *JobQueueService) Resume(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		return job.Resume(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publish(event.JobResumed, job, nil)
	return job, nil
}

// Retry 人工重试 failed/cancelled 任务
func (s *JobQueueService) Retry(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	job, err := s.mutate(ctx, jobID, func(job *entity.JobEntity) error {
		return job.Retry(s.now())
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("job retried manually job_id=%s", job.ID())
	s.publish(event.JobEnqueued, job, map[string]interface{}{"retry": true})
	return job, nil
}

// Cleanup 删除超过保留天数的终态任务
func (s *JobQueueService) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		olderThanDays = 0
	}
	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := s.jobs.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}
	if n > 0 {
		logger.Infof("cleaned up finished jobs count=%d cutoff=%s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// ReapStale 回收持有者失联的运行中任务，返回回收数量
func (s *JobQueueService) ReapStale(ctx context.Context) (int, error) {
	running, err := s.jobs.ListRunningJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	now := s.now()
	alive := make(map[string]bool)
	reaped := 0
	for _, job := range running {
		holder := job.LockedBy()
		isAlive, seen := alive[holder]
		if !seen {
			isAlive, err = s.holderAlive(ctx, holder, now)
			if err != nil {
				return reaped, err
			}
			alive[holder] = isAlive
		}
		if isAlive {
			continue
		}

		reason := failure.LivenessTimeout(holder).Error()
		var requeued bool
		reapedJob, err := s.mutate(ctx, job.ID(), func(j *entity.JobEntity) error {
			if j.Status() != vo.JobStatusRunning || j.LockedBy() != holder {
				return errSkip
			}
			var rerr error
			requeued, rerr = j.ForceRequeue(reason, now)
			return rerr
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			logger.Warnf("failed to reap job job_id=%s holder=%s error=%v", job.ID(), holder, err)
			continue
		}
		reaped++
		logger.Warnf("reaped job from stale worker job_id=%s worker_id=%s requeued=%t attempts=%d/%d",
			reapedJob.ID(), holder, requeued, reapedJob.Attempts(), reapedJob.MaxAttempts())
		s.publish(event.JobReaped, reapedJob, map[string]interface{}{"workerId": holder, "requeued": requeued})
		if !requeued {
			s.publishTerminal(reapedJob, map[string]interface{}{"error": reason})
		}
	}
	return reaped, nil
}

var errSkip = errors.New("skip")

// holderAlive 持有者存在、active 且心跳在宽限期内；否则顺带标记为 dead
func (s *JobQueueService) holderAlive(ctx context.Context, workerID string, now time.Time) (bool, error) {
	worker, err := s.workers.GetWorkerByID(ctx, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to get worker: %w", err)
	}
	if worker == nil {
		return false, nil
	}
	if worker.IsAlive(s.grace, now) {
		return true, nil
	}
	if worker.Status() == vo.WorkerStatusActive {
		marked, err := s.workers.MarkDeadIfStale(ctx, workerID, now.Add(-s.grace), now)
		if err != nil {
			return false, fmt.Errorf("failed to mark worker dead: %w", err)
		}
		if marked {
			logger.Warnf("worker marked dead worker_id=%s last_heartbeat=%s", workerID, worker.LastHeartbeat().Format(time.RFC3339))
		} else {
			// 标记前刚好收到心跳
			return true, nil
		}
	}
	return false, nil
}

// Get 查询任务
func (s *JobQueueService) Get(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List 分页查询
func (s *JobQueueService) List(ctx context.Context, filter repo.JobFilter) ([]*entity.JobEntity, int64, error) {
	return s.jobs.ListJobs(ctx, filter)
}

// Stats 按状态与类型统计
func (s *JobQueueService) Stats(ctx context.Context) (*repo.JobStatistics, error) {
	return s.jobs.GetJobStatistics(ctx)
}
