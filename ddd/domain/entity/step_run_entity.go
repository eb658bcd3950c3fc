package entity

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// StepRunState 步骤运行持久化状态
type StepRunState struct {
	ID               string
	ExecutionID      string
	StepID           string
	ParentRunID      string
	Type             vo.StepType
	Required         bool
	Retryable        bool
	ContinueOnError  bool
	Status           vo.StepRunStatus
	Attempt          int
	JobID            string
	Result           map[string]interface{}
	Error            string
	BlockedBy        string
	ApprovalDeadline *time.Time
	ResolvedBy       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	Version          int64
}

// StepRunEntity 某个步骤定义在一次执行中的实例
type StepRunEntity struct {
	st StepRunState
}

func NewStepRunEntity(id, executionID, parentRunID string, def vo.StepDefinition, now time.Time) *StepRunEntity {
	return &StepRunEntity{st: StepRunState{
		ID:              id,
		ExecutionID:     executionID,
		StepID:          def.ID,
		ParentRunID:     parentRunID,
		Type:            def.Type,
		Required:        def.Required,
		Retryable:       def.Retryable,
		ContinueOnError: def.ContinueOnError,
		Status:          vo.StepRunPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}}
}

func RestoreStepRunEntity(st StepRunState) *StepRunEntity {
	return &StepRunEntity{st: st}
}

func (r *StepRunEntity) State() StepRunState {
	st := r.st
	st.Result = copyMap(r.st.Result)
	return st
}

func (r *StepRunEntity) ID() string                      { return r.st.ID }
func (r *StepRunEntity) ExecutionID() string             { return r.st.ExecutionID }
func (r *StepRunEntity) StepID() string                  { return r.st.StepID }
func (r *StepRunEntity) ParentRunID() string             { return r.st.ParentRunID }
func (r *StepRunEntity) Type() vo.StepType               { return r.st.Type }
func (r *StepRunEntity) Required() bool                  { return r.st.Required }
func (r *StepRunEntity) Retryable() bool                 { return r.st.Retryable }
func (r *StepRunEntity) ContinueOnError() bool           { return r.st.ContinueOnError }
func (r *StepRunEntity) Status() vo.StepRunStatus        { return r.st.Status }
func (r *StepRunEntity) Attempt() int                    { return r.st.Attempt }
func (r *StepRunEntity) JobID() string                   { return r.st.JobID }
func (r *StepRunEntity) Result() map[string]interface{}  { return r.st.Result }
func (r *StepRunEntity) Error() string                   { return r.st.Error }
func (r *StepRunEntity) BlockedBy() string               { return r.st.BlockedBy }
func (r *StepRunEntity) ApprovalDeadline() *time.Time    { return r.st.ApprovalDeadline }
func (r *StepRunEntity) ResolvedBy() string              { return r.st.ResolvedBy }
func (r *StepRunEntity) CreatedAt() time.Time            { return r.st.CreatedAt }
func (r *StepRunEntity) UpdatedAt() time.Time            { return r.st.UpdatedAt }
func (r *StepRunEntity) StartedAt() *time.Time           { return r.st.StartedAt }
func (r *StepRunEntity) FinishedAt() *time.Time          { return r.st.FinishedAt }
func (r *StepRunEntity) Version() int64                  { return r.st.Version }
func (r *StepRunEntity) SyncVersion(v int64)             { r.st.Version = v }
func (r *StepRunEntity) IsRoot() bool                    { return r.st.ParentRunID == "" }

// HaltsExecution 失败时是否导致整个执行失败
func (r *StepRunEntity) HaltsExecution() bool {
	return r.st.Required && !r.st.ContinueOnError
}

// Start pending -> running，任务 ID 随后通过 AttachJob 写入
func (r *StepRunEntity) Start(now time.Time) error {
	if r.st.Status != vo.StepRunPending {
		return NewDomainError("cannot start step in status: " + r.st.Status.String())
	}
	r.st.Status = vo.StepRunRunning
	r.st.StartedAt = timePtr(now)
	r.st.UpdatedAt = now
	return nil
}

// AttachJob 关联队列任务
func (r *StepRunEntity) AttachJob(jobID string, now time.Time) error {
	if r.st.Status != vo.StepRunRunning {
		return NewDomainError("cannot attach job to step in status: " + r.st.Status.String())
	}
	r.st.JobID = jobID
	r.st.UpdatedAt = now
	return nil
}

// AwaitApproval pending -> awaiting_approval
func (r *StepRunEntity) AwaitApproval(deadline time.Time, now time.Time) error {
	if r.st.Status != vo.StepRunPending {
		return NewDomainError("cannot await approval in status: " + r.st.Status.String())
	}
	r.st.Status = vo.StepRunAwaitingApproval
	r.st.ApprovalDeadline = timePtr(deadline)
	r.st.StartedAt = timePtr(now)
	r.st.UpdatedAt = now
	return nil
}

// SyncAttempt 同步队列任务的尝试次数
func (r *StepRunEntity) SyncAttempt(attempt int) {
	if attempt > r.st.Attempt {
		r.st.Attempt = attempt
	}
}

// Succeed 成功
func (r *StepRunEntity) Succeed(result map[string]interface{}, resolvedBy string, now time.Time) error {
	if !r.st.Status.IsInFlight() {
		return NewDomainError("cannot succeed step in status: " + r.st.Status.String())
	}
	r.st.Status = vo.StepRunSucceeded
	r.st.Result = result
	r.st.Error = ""
	r.st.ResolvedBy = resolvedBy
	r.st.FinishedAt = timePtr(now)
	r.st.UpdatedAt = now
	return nil
}

// Fail 自身失败
func (r *StepRunEntity) Fail(errMsg, resolvedBy string, now time.Time) error {
	if !r.st.Status.IsInFlight() {
		return NewDomainError("cannot fail step in status: " + r.st.Status.String())
	}
	r.st.Status = vo.StepRunFailed
	r.st.Error = errMsg
	r.st.ResolvedBy = resolvedBy
	r.st.FinishedAt = timePtr(now)
	r.st.UpdatedAt = now
	return nil
}

// Block 因其他步骤失败或执行终止而结束，status 为 failed 或 skipped
func (r *StepRunEntity) Block(status vo.StepRunStatus, blockedBy, reason string, now time.Time) error {
	if status != vo.StepRunFailed && status != vo.StepRunSkipped {
		return NewDomainError("invalid block status: " + status.String())
	}
	if r.st.Status.IsTerminal() {
		return NewDomainError("cannot block step in status: " + r.st.Status.String())
	}
	r.st.Status = status
	r.st.BlockedBy = blockedBy
	r.st.Error = reason
	r.st.FinishedAt = timePtr(now)
	r.st.UpdatedAt = now
	return nil
}

// Reset 重试时回到 pending
func (r *StepRunEntity) Reset(now time.Time) error {
	if r.st.Status != vo.StepRunFailed && r.st.Status != vo.StepRunSkipped {
		return NewDomainError("cannot reset step in status: " + r.st.Status.String())
	}
	r.st.Status = vo.StepRunPending
	r.st.Attempt = 0
	r.st.JobID = ""
	r.st.Result = nil
	r.st.Error = ""
	r.st.BlockedBy = ""
	r.st.ApprovalDeadline = nil
	r.st.ResolvedBy = ""
	r.st.StartedAt = nil
	r.st.FinishedAt = nil
	r.st.UpdatedAt = now
	return nil
}
