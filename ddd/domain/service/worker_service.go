package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// WorkerView Worker 及其当前持有的任务
type WorkerView struct {
	Worker        *entity.WorkerEntity
	RunningJobIDs []string
}

// WorkerService Worker注册表
type WorkerService struct {
	workers repo.WorkerRepository
	jobs    repo.JobRepository
	now     func() time.Time
}

func NewWorkerService(workers repo.WorkerRepository, jobs repo.JobRepository, now func() time.Time) *WorkerService {
	if now == nil {
		now = time.Now
	}
	return &WorkerService{workers: workers, jobs: jobs, now: now}
}

// Register 注册Worker
func (s *WorkerService) Register(ctx context.Context, hostname string, pid, concurrency int, jobTypes []string) (*entity.WorkerEntity, error) {
	if len(jobTypes) == 0 {
		return nil, entity.NewDomainError("worker must declare at least one job type")
	}
	worker := entity.NewWorkerEntity(uuid.NewString(), hostname, pid, concurrency, jobTypes, s.now())
	if err := s.workers.SaveWorker(ctx, worker); err != nil {
		return nil, fmt.Errorf("failed to register worker: %w", err)
	}
	logger.Infof("worker registered worker_id=%s hostname=%s pid=%d concurrency=%d types=%v",
		worker.ID(), hostname, pid, worker.Concurrency(), jobTypes)
	return worker, nil
}

// Heartbeat 更新心跳
func (s *WorkerService) Heartbeat(ctx context.Context, workerID string) error {
	ok, err := s.workers.TouchHeartbeat(ctx, workerID, s.now())
	if err != nil {
		return fmt.Errorf("failed to update worker heartbeat: %w", err)
	}
	if !ok {
		return ErrWorkerNotActive
	}
	return nil
}

// Stop 正常下线，未完成的任务由回收器重新排队
func (s *WorkerService) Stop(ctx context.Context, workerID string) error {
	worker, err := s.get(ctx, workerID)
	if err != nil {
		return err
	}
	worker.Stop(s.now())
	if err := s.workers.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("failed to stop worker: %w", err)
	}
	logger.Infof("worker stopped worker_id=%s", workerID)
	return nil
}

// MarkDead 强制标记为 dead
func (s *WorkerService) MarkDead(ctx context.Context, workerID string) error {
	worker, err := s.get(ctx, workerID)
	if err != nil {
		return err
	}
	worker.MarkDead(s.now())
	if err := s.workers.SaveWorker(ctx, worker); err != nil {
		return fmt.Errorf("failed to mark worker dead: %w", err)
	}
	return nil
}

// Get 查询Worker
func (s *WorkerService) Get(ctx context.Context, workerID string) (*entity.WorkerEntity, error) {
	return s.get(ctx, workerID)
}

func (s *WorkerService) get(ctx context.Context, workerID string) (*entity.WorkerEntity, error) {
	worker, err := s.workers.GetWorkerByID(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	if worker == nil {
		return nil, ErrWorkerNotFound
	}
	return worker, nil
}

// List 列出所有Worker及其运行中的任务
func (s *WorkerService) List(ctx context.Context) ([]WorkerView, error) {
	workers, err := s.workers.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	running, err := s.jobs.ListRunningJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}
	byWorker := make(map[string][]string)
	for _, job := range running {
		byWorker[job.LockedBy()] = append(byWorker[job.LockedBy()], job.ID())
	}
	views := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		ids := byWorker[w.ID()]
		if ids == nil {
			ids = []string{}
		}
		views = append(views, WorkerView{Worker: w, RunningJobIDs: ids})
	}
	return views, nil
}

// ActiveCount active 状态的 Worker 数量
func (s *WorkerService) ActiveCount(ctx context.Context) (int, error) {
	workers, err := s.workers.ListWorkers(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range workers {
		if w.Status() == vo.WorkerStatusActive {
			n++
		}
	}
	return n, nil
}
