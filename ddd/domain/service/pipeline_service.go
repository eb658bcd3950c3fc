package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/logger"
)

// ApprovalTimeoutActor 超时自动处理审批时记录的操作者
const ApprovalTimeoutActor = "system:timeout"

// JobSubmitter 流水线引擎对任务队列的依赖
type JobSubmitter interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*entity.JobEntity, error)
	Get(ctx context.Context, jobID string) (*entity.JobEntity, error)
	RequestCancellation(ctx context.Context, jobID string) (*entity.JobEntity, error)
}

// TemplateInput 模板创建/更新参数；Steps 为空时使用 Tree
type TemplateInput struct {
	ID          string
	Name        string
	MediaType   string
	Description string
	Steps       []vo.StepDefinition
	Tree        []vo.StepNode
}

func (in TemplateInput) steps() []vo.StepDefinition {
	if len(in.Steps) == 0 && len(in.Tree) > 0 {
		return FlattenTree(in.Tree)
	}
	return in.Steps
}

// PipelineOption 引擎可选配置
type PipelineOption func(*PipelineService)

// WithPipelineClock 替换时间源
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(s *PipelineService) { s.now = now }
}

// WithApprovalTimers 是否为审批步骤启动进程内定时器；关闭后只依赖 ExpireApprovals 扫描
func WithApprovalTimers(enabled bool) PipelineOption {
	return func(s *PipelineService) { s.timersEnabled = enabled }
}

// PipelineService 流水线执行引擎
type PipelineService struct {
	templates repo.TemplateRepository
	execs     repo.ExecutionRepository
	queue     JobSubmitter
	events    event.Publisher

	now           func() time.Time
	timersEnabled bool

	locks   [64]sync.Mutex
	timerMu sync.Mutex
	timers  map[string]*time.Timer
	closed  bool
}

func NewPipelineService(templates repo.TemplateRepository, execs repo.ExecutionRepository, queue JobSubmitter, events event.Publisher, opts ...PipelineOption) *PipelineService {
	s := &PipelineService{
		templates:     templates,
		execs:         execs,
		queue:         queue,
		events:        events,
		now:           time.Now,
		timersEnabled: true,
		timers:        make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lock 同一执行在本进程内串行处理；跨进程由条件更新保证
func (s *PipelineService) lock(executionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(executionID))
	m := &s.locks[h.Sum32()%uint32(len(s.locks))]
	m.Lock()
	return m.Unlock
}

func (s *PipelineService) publish(typ event.Type, executionID string, run *entity.StepRunEntity, status string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	e := event.Event{Type: typ, ExecutionID: executionID, Status: status, Data: data, At: s.now()}
	if run != nil {
		e.StepRunID = run.ID()
		e.JobID = run.JobID()
		e.JobType = run.Type().String()
		if status == "" {
			e.Status = run.Status().String()
		}
	}
	s.events.Publish(e)
}

// ---------------------------------------------------------------------------
// 模板

// CreateTemplate 校验并保存模板
func (s *PipelineService) CreateTemplate(ctx context.Context, in TemplateInput) (*entity.PipelineTemplateEntity, error) {
	steps := in.steps()
	if err := ValidateTemplate(steps); err != nil {
		return nil, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	tpl := entity.NewPipelineTemplateEntity(id, in.Name, in.MediaType, in.Description, steps, s.now())
	if err := s.templates.CreateTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	logger.Infof("pipeline template created template_id=%s media_type=%s steps=%d", tpl.ID(), tpl.MediaType(), len(steps))
	return tpl, nil
}

// UpdateTemplate 校验并替换模板内容；已开始的执行使用各自的快照，不受影响
func (s *PipelineService) UpdateTemplate(ctx context.Context, templateID string, in TemplateInput) (*entity.PipelineTemplateEntity, error) {
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	steps := in.steps()
	if err := ValidateTemplate(steps); err != nil {
		return nil, err
	}
	tpl.Update(in.Name, in.MediaType, in.Description, steps, s.now())
	if err := s.templates.UpdateTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return tpl, nil
}

// GetTemplate 查询模板
func (s *PipelineService) GetTemplate(ctx context.Context, templateID string) (*entity.PipelineTemplateEntity, error) {
	tpl, err := s.templates.GetTemplateByID(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tpl == nil {
		return nil, ErrTemplateNotFound
	}
	return tpl, nil
}

// ListTemplates 列出模板
func (s *PipelineService) ListTemplates(ctx context.Context, mediaType string) ([]*entity.PipelineTemplateEntity, error) {
	return s.templates.ListTemplates(ctx, mediaType)
}

// DeleteTemplate 删除模板
func (s *PipelineService) DeleteTemplate(ctx context.Context, templateID string) error {
	if _, err := s.GetTemplate(ctx, templateID); err != nil {
		return err
	}
	return s.templates.DeleteTemplate(ctx, templateID)
}

// ---------------------------------------------------------------------------
// 执行

// Execute 以模板快照创建执行并启动全部根步骤
func (s *PipelineService) Execute(ctx context.Context, requestID, templateID string) (*entity.RequestExecutionEntity, error) {
	if requestID == "" {
		return nil, entity.NewDomainError("request id is required")
	}
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTemplate(tpl.Steps()); err != nil {
		return nil, err
	}

	now := s.now()
	exec := entity.NewRequestExecutionEntity(uuid.NewString(), requestID, tpl, now)
	steps := exec.Steps()
	runIDs := make(map[string]string, len(steps))
	for _, def := range steps {
		runIDs[def.ID] = uuid.NewString()
	}
	parents := entity.ParentIndex(steps)
	runs := make([]*entity.StepRunEntity, 0, len(steps))
	for _, def := range steps {
		parentRunID := ""
		if p, ok := parents[def.ID]; ok {
			parentRunID = runIDs[p]
		}
		runs = append(runs, entity.NewStepRunEntity(runIDs[def.ID], exec.ID(), parentRunID, def, now))
	}

	unlock := s.lock(exec.ID())
	defer unlock()

	if err := s.execs.CreateExecution(ctx, exec, runs); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}
	logger.Infof("execution started execution_id=%s request_id=%s template_id=%s steps=%d",
		exec.ID(), requestID, templateID, len(runs))
	s.publish(event.ExecutionStarted, exec.ID(), nil, exec.Status().String(), map[string]interface{}{
		"requestId":  requestID,
		"templateId": templateID,
	})

	for _, run := range runs {
		if run.IsRoot() {
			if err := s.startStep(ctx, exec, run, nil); err != nil {
				logger.Errorf("failed to start root step execution_id=%s step_id=%s error=%v", exec.ID(), run.StepID(), err)
			}
		}
	}
	return exec, nil
}

// startStep 启动一个 pending 步骤：APPROVAL 进入等待，其余提交队列任务
func (s *PipelineService) startStep(ctx context.Context, exec *entity.RequestExecutionEntity, run *entity.StepRunEntity, parentResult map[string]interface{}) error {
	def, ok := exec.Step(run.StepID())
	if !ok {
		return fmt.Errorf("step %s missing from execution snapshot", run.StepID())
	}
	now := s.now()

	if def.Type == vo.StepTypeApproval {
		cfg, err := def.ApprovalConfig()
		if err != nil {
			return err
		}
		deadline := now.Add(time.Duration(cfg.TimeoutHours * float64(time.Hour)))
		if err := run.AwaitApproval(deadline, now); err != nil {
			return err
		}
		if err := s.execs.UpdateStepRun(ctx, run); err != nil {
			return ignoreConflict(err)
		}
		s.scheduleApprovalTimer(run.ID(), deadline)
		logger.Infof("step awaiting approval execution_id=%s step_run_id=%s deadline=%s",
			exec.ID(), run.ID(), deadline.Format(time.RFC3339))
		s.publish(event.StepAwaitingApproval, exec.ID(), run, "", map[string]interface{}{"deadline": deadline})
		return nil
	}

	if err := run.Start(now); err != nil {
		return err
	}
	if err := s.execs.UpdateStepRun(ctx, run); err != nil {
		return ignoreConflict(err)
	}
	return s.enqueueStep(ctx, exec, run, def, parentResult)
}

// enqueueStep 为 running 且尚未关联任务的步骤提交任务；失败时由 Reconcile 补偿
func (s *PipelineService) enqueueStep(ctx context.Context, exec *entity.RequestExecutionEntity, run *entity.StepRunEntity, def vo.StepDefinition, parentResult map[string]interface{}) error {
	payload := port.StepPayload{
		ExecutionID:  exec.ID(),
		StepRunID:    run.ID(),
		StepID:       run.StepID(),
		RequestID:    exec.RequestID(),
		Config:       def.Config,
		ParentResult: parentResult,
	}
	job, err := s.queue.Enqueue(ctx, EnqueueRequest{
		Type:        def.Type.String(),
		Payload:     payload.ToMap(),
		DedupeKey:   "steprun:" + run.ID(),
		Priority:    def.Priority,
		MaxAttempts: def.JobMaxAttempts(),
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue step job: %w", err)
	}
	if err := run.AttachJob(job.ID(), s.now()); err != nil {
		return err
	}
	run.SyncAttempt(job.Attempts())
	if err := s.execs.UpdateStepRun(ctx, run); err != nil {
		return ignoreConflict(err)
	}
	logger.Infof("step started execution_id=%s step_run_id=%s type=%s job_id=%s", exec.ID(), run.ID(), run.Type(), job.ID())
	s.publish(event.StepStarted, exec.ID(), run, "", nil)
	return nil
}

// HandleJobTerminal 任务进入终态后推进对应步骤；重复调用无副作用
func (s *PipelineService) HandleJobTerminal(ctx context.Context, jobID string) error {
	run, err := s.execs.GetStepRunByJobID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get step run: %w", err)
	}
	if run == nil {
		return nil
	}
	unlock := s.lock(run.ExecutionID())
	defer unlock()

	exec, runs, err := s.loadExecution(ctx, run.ExecutionID())
	if err != nil {
		return err
	}
	run = findRun(runs, run.ID())
	if run == nil || run.Status() != vo.StepRunRunning || run.JobID() != jobID {
		return nil
	}
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status().IsTerminal() {
		return nil
	}
	return s.applyJobOutcome(ctx, exec, runs, run, job)
}

func (s *PipelineService) applyJobOutcome(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity, run *entity.StepRunEntity, job *entity.JobEntity) error {
	now := s.now()
	run.SyncAttempt(job.Attempts())

	switch job.Status() {
	case vo.JobStatusCompleted:
		if err := run.Succeed(job.Result(), "", now); err != nil {
			return err
		}
		if err := s.execs.UpdateStepRun(ctx, run); err != nil {
			return ignoreConflict(err)
		}
		s.publish(event.StepSucceeded, exec.ID(), run, "", nil)
		return s.onStepSucceeded(ctx, exec, runs, run)

	case vo.JobStatusCancelled:
		if exec.Status() != vo.ExecutionRunning {
			// 执行终止时发出的取消
			if err := run.Block(vo.StepRunSkipped, exec.HaltedBy(), "cancelled: execution "+exec.Status().String(), now); err != nil {
				return err
			}
			if err := s.execs.UpdateStepRun(ctx, run); err != nil {
				return ignoreConflict(err)
			}
			s.publish(event.StepSkipped, exec.ID(), run, "", nil)
			return nil
		}
		return s.failRun(ctx, exec, runs, run, "job cancelled: "+job.Error(), "")

	default:
		return s.failRun(ctx, exec, runs, run, job.Error(), "")
	}
}

func (s *PipelineService) failRun(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity, run *entity.StepRunEntity, reason, actor string) error {
	if err := run.Fail(reason, actor, s.now()); err != nil {
		return err
	}
	if err := s.execs.UpdateStepRun(ctx, run); err != nil {
		return ignoreConflict(err)
	}
	logger.Warnf("step failed execution_id=%s step_run_id=%s type=%s required=%t continue_on_error=%t error=%s",
		exec.ID(), run.ID(), run.Type(), run.Required(), run.ContinueOnError(), reason)
	s.publish(event.StepFailed, exec.ID(), run, "", map[string]interface{}{"error": reason})
	return s.onStepFailed(ctx, exec, runs, run, reason)
}

// onStepSucceeded 启动子步骤，随后尝试结束执行
func (s *PipelineService) onStepSucceeded(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity, run *entity.StepRunEntity) error {
	if exec.Status() == vo.ExecutionRunning {
		for _, child := range runs {
			if child.ParentRunID() != run.ID() || child.Status() != vo.StepRunPending {
				continue
			}
			if err := s.startStep(ctx, exec, child, run.Result()); err != nil {
				logger.Errorf("failed to start step execution_id=%s step_run_id=%s error=%v", exec.ID(), child.ID(), err)
			}
		}
	}
	return s.maybeFinish(ctx, exec, runs)
}

// onStepFailed 按 required/continueOnError 处理失败：
// 后代步骤 required 时标记 failed、否则 skipped；required 且不允许继续时整个执行失败
func (s *PipelineService) onStepFailed(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity, run *entity.StepRunEntity, reason string) error {
	status := vo.StepRunSkipped
	if run.Required() {
		status = vo.StepRunFailed
	}
	for _, d := range descendants(runs, run.ID()) {
		if d.Status() != vo.StepRunPending && d.Status() != vo.StepRunAwaitingApproval {
			continue
		}
		if err := s.blockRun(ctx, exec, d, status, run.ID(), "upstream step "+run.StepID()+" failed"); err != nil {
			return err
		}
	}

	if run.HaltsExecution() && exec.Status() == vo.ExecutionRunning {
		return s.halt(ctx, exec, runs, run, reason)
	}
	return s.maybeFinish(ctx, exec, runs)
}

func (s *PipelineService) blockRun(ctx context.Context, exec *entity.RequestExecutionEntity, run *entity.StepRunEntity, status vo.StepRunStatus, blockedBy, reason string) error {
	wasAwaiting := run.Status() == vo.StepRunAwaitingApproval
	if err := run.Block(status, blockedBy, reason, s.now()); err != nil {
		return err
	}
	if err := s.execs.UpdateStepRun(ctx, run); err != nil {
		return ignoreConflict(err)
	}
	if wasAwaiting {
		s.stopApprovalTimer(run.ID())
	}
	typ := event.StepSkipped
	if status == vo.StepRunFailed {
		typ = event.StepFailed
	}
	s.publish(typ, exec.ID(), run, "", map[string]interface{}{"blockedBy": blockedBy})
	return nil
}

// halt 执行失败：未完成步骤跳过，运行中的任务请求取消
func (s *PipelineService) halt(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity, cause *entity.StepRunEntity, reason string) error {
	msg := fmt.Sprintf("required step %s failed: %s", cause.StepID(), reason)
	if err := exec.Halt(cause.ID(), msg, s.now()); err != nil {
		return err
	}
	if err := s.execs.UpdateExecution(ctx, exec); err != nil {
		return ignoreConflict(err)
	}
	logger.Errorf("execution failed execution_id=%s request_id=%s error=%s", exec.ID(), exec.RequestID(), msg)

	for _, r := range runs {
		switch r.Status() {
		case vo.StepRunPending, vo.StepRunAwaitingApproval:
			if err := s.blockRun(ctx, exec, r, vo.StepRunSkipped, cause.ID(), "execution failed"); err != nil {
				logger.Warnf("failed to skip step step_run_id=%s error=%v", r.ID(), err)
			}
		case vo.StepRunRunning:
			if r.JobID() == "" {
				if err := s.blockRun(ctx, exec, r, vo.StepRunSkipped, cause.ID(), "execution failed"); err != nil {
					logger.Warnf("failed to skip step step_run_id=%s error=%v", r.ID(), err)
				}
				continue
			}
			job, err := s.queue.RequestCancellation(ctx, r.JobID())
			if err != nil {
				logger.Warnf("failed to cancel step job step_run_id=%s job_id=%s error=%v", r.ID(), r.JobID(), err)
				continue
			}
			if job.Status().IsTerminal() {
				if err := s.applyJobOutcome(ctx, exec, runs, r, job); err != nil {
					logger.Warnf("failed to record cancelled step step_run_id=%s error=%v", r.ID(), err)
				}
			}
		}
	}
	s.publish(event.ExecutionFinished, exec.ID(), nil, exec.Status().String(), map[string]interface{}{"error": msg})
	return nil
}

// maybeFinish 全部步骤进入终态后结束执行
// 成功条件：没有因自身失败的 required 且 continueOnError=false 的步骤
func (s *PipelineService) maybeFinish(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity) error {
	if exec.Status() != vo.ExecutionRunning {
		return nil
	}
	var halting *entity.StepRunEntity
	for _, r := range runs {
		if !r.Status().IsTerminal() {
			return nil
		}
		if halting == nil && r.Status() == vo.StepRunFailed && r.BlockedBy() == "" && r.HaltsExecution() {
			halting = r
		}
	}

	now := s.now()
	if halting != nil {
		if err := exec.Halt(halting.ID(), fmt.Sprintf("required step %s failed: %s", halting.StepID(), halting.Error()), now); err != nil {
			return err
		}
	} else if err := exec.Finish(vo.ExecutionSucceeded, "", now); err != nil {
		return err
	}
	if err := s.execs.UpdateExecution(ctx, exec); err != nil {
		return ignoreConflict(err)
	}
	logger.Infof("execution finished execution_id=%s request_id=%s status=%s", exec.ID(), exec.RequestID(), exec.Status())
	s.publish(event.ExecutionFinished, exec.ID(), nil, exec.Status().String(), nil)
	return nil
}

// ---------------------------------------------------------------------------
// 审批

// Approve 人工通过
func (s *PipelineService) Approve(ctx context.Context, stepRunID, actor, reason string) (*entity.StepRunEntity, error) {
	return s.resolve(ctx, stepRunID, vo.ApprovalApprove, actor, reason, false)
}

// Reject 人工拒绝
func (s *PipelineService) Reject(ctx context.Context, stepRunID, actor, reason string) (*entity.StepRunEntity, error) {
	return s.resolve(ctx, stepRunID, vo.ApprovalReject, actor, reason, false)
}

func (s *PipelineService) resolve(ctx context.Context, stepRunID string, action vo.ApprovalAction, actor, reason string, onlyIfExpired bool) (*entity.StepRunEntity, error) {
	run, err := s.execs.GetStepRunByID(ctx, stepRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step run: %w", err)
	}
	if run == nil {
		return nil, ErrStepRunNotFound
	}
	unlock := s.lock(run.ExecutionID())
	defer unlock()

	exec, runs, err := s.loadExecution(ctx, run.ExecutionID())
	if err != nil {
		return nil, err
	}
	run = findRun(runs, stepRunID)
	if run == nil {
		return nil, ErrStepRunNotFound
	}
	if run.Status() != vo.StepRunAwaitingApproval {
		if onlyIfExpired {
			return run, nil
		}
		return nil, entity.NewDomainError("step is not awaiting approval: " + run.Status().String())
	}
	now := s.now()
	if onlyIfExpired && (run.ApprovalDeadline() == nil || run.ApprovalDeadline().After(now)) {
		return run, nil
	}
	s.stopApprovalTimer(run.ID())

	if action == vo.ApprovalApprove {
		result := map[string]interface{}{"action": string(action), "actor": actor}
		if reason != "" {
			result["reason"] = reason
		}
		if onlyIfExpired {
			result["timedOut"] = true
		}
		if err := run.Succeed(result, actor, now); err != nil {
			return nil, err
		}
		if err := s.execs.UpdateStepRun(ctx, run); err != nil {
			return nil, err
		}
		logger.Infof("approval granted execution_id=%s step_run_id=%s actor=%s", exec.ID(), run.ID(), actor)
		s.publish(event.StepSucceeded, exec.ID(), run, "", map[string]interface{}{"actor": actor})
		return run, s.onStepSucceeded(ctx, exec, runs, run)
	}

	msg := fmt.Sprintf("rejected by %s", actor)
	if onlyIfExpired {
		msg = "approval timed out; default action REJECT applied"
	}
	if reason != "" {
		msg += ": " + reason
	}
	return run, s.failRun(ctx, exec, runs, run, msg, actor)
}

// ExpireApprovals 对已过期的审批应用默认动作，返回处理数量
func (s *PipelineService) ExpireApprovals(ctx context.Context) (int, error) {
	waiting, err := s.execs.ListStepRunsByStatus(ctx, vo.StepRunAwaitingApproval)
	if err != nil {
		return 0, fmt.Errorf("failed to list awaiting approvals: %w", err)
	}
	now := s.now()
	n := 0
	for _, run := range waiting {
		if run.ApprovalDeadline() == nil || run.ApprovalDeadline().After(now) {
			continue
		}
		if err := s.expireApproval(ctx, run.ID()); err != nil {
			logger.Warnf("failed to expire approval step_run_id=%s error=%v", run.ID(), err)
			continue
		}
		n++
	}
	return n, nil
}

func (s *PipelineService) expireApproval(ctx context.Context, stepRunID string) error {
	run, err := s.execs.GetStepRunByID(ctx, stepRunID)
	if err != nil || run == nil {
		return err
	}
	exec, err := s.execs.GetExecutionByID(ctx, run.ExecutionID())
	if err != nil || exec == nil {
		return err
	}
	def, ok := exec.Step(run.StepID())
	if !ok {
		return fmt.Errorf("step %s missing from execution snapshot", run.StepID())
	}
	cfg, err := def.ApprovalConfig()
	if err != nil {
		return err
	}
	_, err = s.resolve(ctx, stepRunID, cfg.DefaultAction, ApprovalTimeoutActor, "", true)
	return err
}

func (s *PipelineService) scheduleApprovalTimer(stepRunID string, deadline time.Time) {
	if !s.timersEnabled {
		return
	}
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[stepRunID]; ok {
		t.Stop()
	}
	s.timers[stepRunID] = time.AfterFunc(time.Until(deadline), func() {
		s.timerMu.Lock()
		delete(s.timers, stepRunID)
		s.timerMu.Unlock()
		if err := s.expireApproval(context.Background(), stepRunID); err != nil {
			logger.Warnf("approval timer failed step_run_id=%s error=%v", stepRunID, err)
		}
	})
}

func (s *PipelineService) stopApprovalTimer(stepRunID string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if t, ok := s.timers[stepRunID]; ok {
		t.Stop()
		delete(s.timers, stepRunID)
	}
}

// Close 停止所有审批定时器
func (s *PipelineService) Close() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// ---------------------------------------------------------------------------
// 重试与取消

// RetryStep 重新提交一个因自身失败的可重试步骤，连同被它阻塞的步骤一起重置
func (s *PipelineService) RetryStep(ctx context.Context, stepRunID string) (*entity.StepRunEntity, error) {
	run, err := s.execs.GetStepRunByID(ctx, stepRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step run: %w", err)
	}
	if run == nil {
		return nil, ErrStepRunNotFound
	}
	unlock := s.lock(run.ExecutionID())
	defer unlock()

	exec, runs, err := s.loadExecution(ctx, run.ExecutionID())
	if err != nil {
		return nil, err
	}
	run = findRun(runs, stepRunID)
	if run == nil {
		return nil, ErrStepRunNotFound
	}
	if run.Status() != vo.StepRunFailed {
		return nil, entity.NewDomainError("only failed steps can be retried, current: " + run.Status().String())
	}
	if run.BlockedBy() != "" {
		return nil, entity.NewDomainError("step was blocked by step run " + run.BlockedBy() + "; retry that step instead")
	}
	if !run.Retryable() {
		return nil, ErrStepNotRetryable
	}
	if exec.Status() == vo.ExecutionCancelled {
		return nil, entity.NewDomainError("execution was cancelled")
	}

	now := s.now()
	if exec.Status() != vo.ExecutionRunning {
		if err := exec.Reopen(now); err != nil {
			return nil, err
		}
		if err := s.execs.UpdateExecution(ctx, exec); err != nil {
			return nil, err
		}
	}

	var reset []*entity.StepRunEntity
	for _, r := range runs {
		if r.ID() != run.ID() && r.BlockedBy() != run.ID() {
			continue
		}
		if err := r.Reset(now); err != nil {
			continue
		}
		if err := s.execs.UpdateStepRun(ctx, r); err != nil {
			return nil, err
		}
		reset = append(reset, r)
	}
	logger.Infof("step retried execution_id=%s step_run_id=%s reset=%d", exec.ID(), run.ID(), len(reset))

	for _, r := range reset {
		ready, parentResult := readiness(runs, r)
		if !ready {
			continue
		}
		if err := s.startStep(ctx, exec, r, parentResult); err != nil {
			logger.Errorf("failed to restart step step_run_id=%s error=%v", r.ID(), err)
		}
	}
	return run, nil
}

// CancelExecution 取消执行：未完成步骤跳过，运行中的任务请求取消
func (s *PipelineService) CancelExecution(ctx context.Context, executionID string) (*entity.RequestExecutionEntity, error) {
	unlock := s.lock(executionID)
	defer unlock()

	exec, runs, err := s.loadExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := exec.Finish(vo.ExecutionCancelled, "cancelled by user", s.now()); err != nil {
		return nil, err
	}
	if err := s.execs.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	for _, r := range runs {
		switch {
		case r.Status() == vo.StepRunPending || r.Status() == vo.StepRunAwaitingApproval || (r.Status() == vo.StepRunRunning && r.JobID() == ""):
			if err := s.blockRun(ctx, exec, r, vo.StepRunSkipped, "", "execution cancelled"); err != nil {
				logger.Warnf("failed to skip step step_run_id=%s error=%v", r.ID(), err)
			}
		case r.Status() == vo.StepRunRunning:
			job, err := s.queue.RequestCancellation(ctx, r.JobID())
			if err != nil {
				logger.Warnf("failed to cancel step job job_id=%s error=%v", r.JobID(), err)
				continue
			}
			if job.Status().IsTerminal() {
				if err := s.applyJobOutcome(ctx, exec, runs, r, job); err != nil {
					logger.Warnf("failed to record cancelled step step_run_id=%s error=%v", r.ID(), err)
				}
			}
		}
	}
	logger.Infof("execution cancelled execution_id=%s", executionID)
	s.publish(event.ExecutionFinished, exec.ID(), nil, exec.Status().String(), nil)
	return exec, nil
}

// ---------------------------------------------------------------------------
// 补偿

// Reconcile 补偿错过的事件：提交缺失的任务、处理已终结的任务、过期审批、启动就绪步骤、结束执行
func (s *PipelineService) Reconcile(ctx context.Context) error {
	running, err := s.execs.ListStepRunsByStatus(ctx, vo.StepRunRunning)
	if err != nil {
		return fmt.Errorf("failed to list running steps: %w", err)
	}
	for _, run := range running {
		if run.JobID() == "" {
			s.resubmit(ctx, run.ExecutionID(), run.ID())
			continue
		}
		if err := s.HandleJobTerminal(ctx, run.JobID()); err != nil {
			logger.Warnf("reconcile step failed step_run_id=%s job_id=%s error=%v", run.ID(), run.JobID(), err)
		}
	}

	if _, err := s.ExpireApprovals(ctx); err != nil {
		logger.Warnf("reconcile approvals failed error=%v", err)
	}

	execs, _, err := s.execs.ListExecutions(ctx, repo.ExecutionFilter{Status: vo.ExecutionRunning})
	if err != nil {
		return fmt.Errorf("failed to list running executions: %w", err)
	}
	for _, e := range execs {
		s.advance(ctx, e.ID())
	}
	return nil
}

func (s *PipelineService) resubmit(ctx context.Context, executionID, stepRunID string) {
	unlock := s.lock(executionID)
	defer unlock()
	exec, runs, err := s.loadExecution(ctx, executionID)
	if err != nil {
		logger.Warnf("failed to load execution for resubmit execution_id=%s error=%v", executionID, err)
		return
	}
	run := findRun(runs, stepRunID)
	if run == nil || run.Status() != vo.StepRunRunning || run.JobID() != "" {
		return
	}
	if exec.Status() != vo.ExecutionRunning {
		if err := s.blockRun(ctx, exec, run, vo.StepRunSkipped, exec.HaltedBy(), "execution "+exec.Status().String()); err != nil {
			logger.Warnf("failed to skip orphan step step_run_id=%s execution_id=%s error=%v", run.ID(), exec.ID(), err)
		}
		return
	}
	def, _ := exec.Step(run.StepID())
	_, parentResult := readiness(runs, run)
	if err := s.enqueueStep(ctx, exec, run, def, parentResult); err != nil {
		logger.Warnf("failed to resubmit step step_run_id=%s error=%v", run.ID(), err)
	}
}

// advance 启动父步骤已成功但仍为 pending 的步骤，并尝试结束执行
func (s *PipelineService) advance(ctx context.Context, executionID string) {
	unlock := s.lock(executionID)
	defer unlock()
	exec, runs, err := s.loadExecution(ctx, executionID)
	if err != nil || exec.Status() != vo.ExecutionRunning {
		return
	}
	for _, r := range runs {
		if r.Status() != vo.StepRunPending {
			continue
		}
		if ready, parentResult := readiness(runs, r); ready {
			if err := s.startStep(ctx, exec, r, parentResult); err != nil {
				logger.Warnf("failed to start ready step step_run_id=%s error=%v", r.ID(), err)
			}
		}
	}
	if err := s.maybeFinish(ctx, exec, runs); err != nil {
		logger.Warnf("failed to finish execution execution_id=%s error=%v", exec.ID(), err)
	}
}

// ConsumeEvents 消费任务终态事件直到通道关闭或 ctx 结束
func (s *PipelineService) ConsumeEvents(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !e.IsJobTerminal() {
				continue
			}
			if err := s.HandleJobTerminal(ctx, e.JobID); err != nil {
				logger.Warnf("failed to handle job outcome job_id=%s error=%v", e.JobID, err)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// 查询

// GetExecution 查询执行及其步骤
func (s *PipelineService) GetExecution(ctx context.Context, executionID string) (*entity.RequestExecutionEntity, []*entity.StepRunEntity, error) {
	return s.loadExecution(ctx, executionID)
}

// ListExecutions 分页查询执行
func (s *PipelineService) ListExecutions(ctx context.Context, filter repo.ExecutionFilter) ([]*entity.RequestExecutionEntity, int64, error) {
	return s.execs.ListExecutions(ctx, filter)
}

// GetStepRun 查询步骤运行
func (s *PipelineService) GetStepRun(ctx context.Context, stepRunID string) (*entity.StepRunEntity, error) {
	run, err := s.execs.GetStepRunByID(ctx, stepRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step run: %w", err)
	}
	if run == nil {
		return nil, ErrStepRunNotFound
	}
	return run, nil
}

func (s *PipelineService) loadExecution(ctx context.Context, executionID string) (*entity.RequestExecutionEntity, []*entity.StepRunEntity, error) {
	exec, err := s.execs.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if exec == nil {
		return nil, nil, ErrExecutionNotFound
	}
	runs, err := s.execs.ListStepRuns(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list step runs: %w", err)
	}
	return exec, runs, nil
}

func findRun(runs []*entity.StepRunEntity, id string) *entity.StepRunEntity {
	for _, r := range runs {
		if r.ID() == id {
			return r
		}
	}
	return nil
}

// descendants 广度优先返回 rootID 的全部后代
func descendants(runs []*entity.StepRunEntity, rootID string) []*entity.StepRunEntity {
	children := make(map[string][]*entity.StepRunEntity)
	for _, r := range runs {
		if r.ParentRunID() != "" {
			children[r.ParentRunID()] = append(children[r.ParentRunID()], r)
		}
	}
	var out []*entity.StepRunEntity
	queue := append([]*entity.StepRunEntity(nil), children[rootID]...)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		out = append(out, r)
		queue = append(queue, children[r.ID()]...)
	}
	return out
}

// readiness 根步骤或父步骤已成功时就绪，同时返回父步骤结果
func readiness(runs []*entity.StepRunEntity, run *entity.StepRunEntity) (bool, map[string]interface{}) {
	if run.IsRoot() {
		return true, nil
	}
	parent := findRun(runs, run.ParentRunID())
	if parent == nil || parent.Status() != vo.StepRunSucceeded {
		return false, nil
	}
	return true, parent.Result()
}

// ignoreConflict 条件更新冲突说明其他参与者已推进该记录
func ignoreConflict(err error) error {
	if errors.Is(err, repo.ErrVersionConflict) {
		return nil
	}
	return err
}
