package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/infrastructure/progress"
	"acquisition-service/pkg/logger"
)

// JobWorker 步骤任务工作器接口
type JobWorker interface {
	// Name 后台任务名称
	Name() string

	// Start 注册 Worker 并启动领取协程
	Start(ctx context.Context) error

	// Stop 停止领取并等待执行中的任务
	Stop() error

	// IsRunning 检查工作器是否运行中
	IsRunning() bool

	// GetStats 获取工作器统计信息
	GetStats() WorkerStats

	// WorkerID 当前注册的 Worker ID
	WorkerID() string
}

// WorkerStats 工作器统计信息
type WorkerStats struct {
	ProcessedJobs    uint64    `json:"processedJobs"`
	SuccessfulJobs   uint64    `json:"successfulJobs"`
	FailedJobs       uint64    `json:"failedJobs"`
	CancelledJobs    uint64    `json:"cancelledJobs"`
	CurrentlyRunning int       `json:"currentlyRunning"`
	StartTime        time.Time `json:"startTime"`
	LastJobTime      time.Time `json:"lastJobTime"`
}

// Queue 工作器使用的队列操作
type Queue interface {
	ClaimNext(ctx context.Context, workerID string, types []string) (*entity.JobEntity, error)
	Heartbeat(ctx context.Context, workerID string) error
	ReportProgress(ctx context.Context, jobID, workerID string, current, total int64, message string) error
	Complete(ctx context.Context, jobID, workerID string, result map[string]interface{}) (*entity.JobEntity, error)
	Fail(ctx context.Context, jobID, workerID string, cause error) (*entity.JobEntity, error)
	MarkCancelled(ctx context.Context, jobID, workerID string) (*entity.JobEntity, error)
	CancelRequested(ctx context.Context, jobID string) (bool, error)
}

// Registry Worker 注册表操作
type Registry interface {
	Register(ctx context.Context, hostname string, pid, concurrency int, jobTypes []string) (*entity.WorkerEntity, error)
	Stop(ctx context.Context, workerID string) error
}

// Options 工作器参数
type Options struct {
	Name                string
	Hostname            string
	Concurrency         int
	PollInterval        time.Duration
	HeartbeatInterval   time.Duration
	CancelCheckInterval time.Duration
	ShutdownGracePeriod time.Duration
	// ProgressInterval 同一任务进度落库的最小间隔
	ProgressInterval time.Duration
}

func (o *Options) normalize() {
	if o.Name == "" {
		o.Name = "jobWorker"
	}
	if o.Hostname == "" {
		o.Hostname, _ = os.Hostname()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.CancelCheckInterval <= 0 {
		o.CancelCheckInterval = 2 * time.Second
	}
	if o.ShutdownGracePeriod <= 0 {
		o.ShutdownGracePeriod = 30 * time.Second
	}
}

// jobWorkerImpl 步骤任务工作器实现
type jobWorkerImpl struct {
	opts      Options
	queue     Queue
	registry  Registry
	executors map[string]port.StepExecutor
	types     []string

	workerID atomic.Value
	running  bool
	cancel   context.CancelFunc
	stats    WorkerStats
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewJobWorker 创建步骤任务工作器，只领取有执行器的任务类型
func NewJobWorker(queue Queue, registry Registry, executors []port.StepExecutor, opts Options) JobWorker {
	opts.normalize()
	w := &jobWorkerImpl{
		opts:      opts,
		queue:     queue,
		registry:  registry,
		executors: make(map[string]port.StepExecutor, len(executors)),
	}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		w.executors[ex.Type().String()] = ex
	}
	for typ := range w.executors {
		w.types = append(w.types, typ)
	}
	sort.Strings(w.types)
	w.workerID.Store("")
	return w
}

func (w *jobWorkerImpl) Name() string { return w.opts.Name }

func (w *jobWorkerImpl) WorkerID() string {
	return w.workerID.Load().(string)
}

// Start 启动工作器
func (w *jobWorkerImpl) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker %s is already running", w.opts.Name)
	}
	if len(w.types) == 0 {
		return fmt.Errorf("worker %s has no executors", w.opts.Name)
	}
	if err := w.register(ctx); err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.stats.StartTime = time.Now()

	logger.Infof("Starting job worker name=%s worker_id=%s concurrency=%d types=%v",
		w.opts.Name, w.WorkerID(), w.opts.Concurrency, w.types)

	w.wg.Add(1)
	go w.heartbeatLoop(workerCtx)
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(workerCtx, i)
	}
	return nil
}

func (w *jobWorkerImpl) register(ctx context.Context) error {
	ent, err := w.registry.Register(ctx, w.opts.Hostname, os.Getpid(), w.opts.Concurrency, w.types)
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	w.workerID.Store(ent.ID())
	return nil
}

// Stop 停止工作器；超过宽限期仍未结束的任务留给回收器处理
func (w *jobWorkerImpl) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	logger.Infof("Stopping job worker name=%s worker_id=%s", w.opts.Name, w.WorkerID())
	if w.cancel != nil {
		w.cancel()
	}
	w.running = false
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.opts.ShutdownGracePeriod):
		logger.Warnf("Job worker stop timed out name=%s grace=%s", w.opts.Name, w.opts.ShutdownGracePeriod)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.registry.Stop(ctx, w.WorkerID()); err != nil && !errors.Is(err, service.ErrWorkerNotFound) {
		return fmt.Errorf("failed to deregister worker: %w", err)
	}
	logger.Infof("Job worker stopped name=%s", w.opts.Name)
	return nil
}

// IsRunning 检查工作器是否运行中
func (w *jobWorkerImpl) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// GetStats 获取工作器统计信息
func (w *jobWorkerImpl) GetStats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *jobWorkerImpl) updateStats(fn func(*WorkerStats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.stats)
}

// heartbeatLoop 心跳；被判定为死亡后重新注册
func (w *jobWorkerImpl) heartbeatLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.queue.Heartbeat(ctx, w.WorkerID())
			if err == nil {
				continue
			}
			if !errors.Is(err, service.ErrWorkerNotActive) {
				logger.Warnf("Worker heartbeat failed worker_id=%s error=%v", w.WorkerID(), err)
				continue
			}
			logger.Errorf("Worker was declared dead, re-registering worker_id=%s", w.WorkerID())
			if err := w.register(ctx); err != nil {
				logger.Errorf("Worker re-registration failed error=%v", err)
			}
		}
	}
}

// workerLoop 领取循环
func (w *jobWorkerImpl) workerLoop(ctx context.Context, slot int) {
	defer w.wg.Done()

	logger.Debugf("Job worker loop started name=%s slot=%d", w.opts.Name, slot)
	defer logger.Debugf("Job worker loop stopped name=%s slot=%d", w.opts.Name, slot)

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.ClaimNext(ctx, w.WorkerID(), w.types)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Warnf("Job worker failed to claim name=%s slot=%d error=%v", w.opts.Name, slot, err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollInterval):
			}
			continue
		}
		w.processJob(ctx, job)
	}
}

// processJob 执行单个任务并写回结果
func (w *jobWorkerImpl) processJob(ctx context.Context, job *entity.JobEntity) {
	workerID := job.LockedBy()
	executor := w.executors[job.Type()]

	w.updateStats(func(s *WorkerStats) {
		s.CurrentlyRunning++
		s.LastJobTime = time.Now()
	})
	defer w.updateStats(func(s *WorkerStats) {
		s.CurrentlyRunning--
		s.ProcessedJobs++
	})

	logger.Infof("Processing job job_id=%s type=%s attempt=%d/%d", job.ID(), job.Type(), job.Attempts(), job.MaxAttempts())

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctl := &jobControl{
		queue:    w.queue,
		jobID:    job.ID(),
		progress: progress.NewSink(w.queue, job.ID(), workerID, w.opts.ProgressInterval),
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ctl.watch(jobCtx, w.opts.CancelCheckInterval, cancel)
	}()

	result, err := w.execute(jobCtx, executor, job, ctl)
	cancel()
	<-watchDone

	// 写回使用独立上下文，停机时也能落库
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer writeCancel()

	switch {
	case err == nil:
		if _, cerr := w.queue.Complete(writeCtx, job.ID(), workerID, result); cerr != nil {
			logger.Errorf("Failed to complete job job_id=%s error=%v", job.ID(), cerr)
			return
		}
		w.updateStats(func(s *WorkerStats) { s.SuccessfulJobs++ })
	case ctl.cancelled.Load() || failure.IsCancelled(err):
		if _, cerr := w.queue.MarkCancelled(writeCtx, job.ID(), workerID); cerr != nil {
			logger.Errorf("Failed to acknowledge cancellation job_id=%s error=%v", job.ID(), cerr)
			return
		}
		w.updateStats(func(s *WorkerStats) { s.CancelledJobs++ })
	default:
		if ctx.Err() != nil && !failure.IsPermanent(err) {
			err = failure.Transient(fmt.Errorf("worker shutting down: %w", err))
		}
		logger.Warnf("Job execution failed job_id=%s type=%s error=%v", job.ID(), job.Type(), err)
		if _, ferr := w.queue.Fail(writeCtx, job.ID(), workerID, err); ferr != nil {
			logger.Errorf("Failed to record job failure job_id=%s error=%v", job.ID(), ferr)
			return
		}
		w.updateStats(func(s *WorkerStats) { s.FailedJobs++ })
	}
}

func (w *jobWorkerImpl) execute(ctx context.Context, executor port.StepExecutor, job *entity.JobEntity, ctl port.JobControl) (result map[string]interface{}, err error) {
	if executor == nil {
		return nil, failure.Permanentf("no executor for job type %s", job.Type())
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Executor panic job_id=%s type=%s panic=%v", job.ID(), job.Type(), r)
			err = failure.Permanentf("executor panic: %v", r)
		}
	}()
	if err := ctl.Checkpoint(ctx); err != nil {
		return nil, err
	}
	return executor.Execute(ctx, job, ctl)
}

// jobControl 执行器持有租约期间的进度与取消通道
type jobControl struct {
	queue     Queue
	jobID     string
	progress  *progress.Sink
	cancelled atomic.Bool
}

func (c *jobControl) ReportProgress(ctx context.Context, current, total int64, message string) error {
	return c.progress.Report(ctx, current, total, message)
}

// Checkpoint 读取取消标记
func (c *jobControl) Checkpoint(ctx context.Context) error {
	if c.cancelled.Load() {
		return failure.ErrCancelled
	}
	requested, err := c.queue.CancelRequested(ctx, c.jobID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warnf("Cancel flag check failed job_id=%s error=%v", c.jobID, err)
		return nil
	}
	if requested {
		c.cancelled.Store(true)
		return failure.ErrCancelled
	}
	return ctx.Err()
}

// watch 周期性检查取消标记，命中后取消执行上下文以打断阻塞调用
func (c *jobControl) watch(ctx context.Context, interval time.Duration, cancel context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if failure.IsCancelled(c.Checkpoint(ctx)) {
				logger.Infof("Cancellation observed job_id=%s", c.jobID)
				cancel()
				return
			}
		}
	}
}
