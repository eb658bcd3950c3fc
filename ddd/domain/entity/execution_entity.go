package entity

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// ExecutionState 请求执行持久化状态
type ExecutionState struct {
	ID         string
	RequestID  string
	TemplateID string
	MediaType  string
	Steps      []vo.StepDefinition
	Status     vo.ExecutionStatus
	Error      string
	HaltedBy   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
	Version    int64
}

// RequestExecutionEntity 模板针对一个请求的一次实例化，步骤为执行时的快照
type RequestExecutionEntity struct {
	st ExecutionState
}

func NewRequestExecutionEntity(id, requestID string, tpl *PipelineTemplateEntity, now time.Time) *RequestExecutionEntity {
	return &RequestExecutionEntity{st: ExecutionState{
		ID:         id,
		RequestID:  requestID,
		TemplateID: tpl.ID(),
		MediaType:  tpl.MediaType(),
		Steps:      vo.CloneSteps(tpl.Steps()),
		Status:     vo.ExecutionRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}}
}

func RestoreRequestExecutionEntity(st ExecutionState) *RequestExecutionEntity {
	return &RequestExecutionEntity{st: st}
}

func (e *RequestExecutionEntity) State() ExecutionState {
	st := e.st
	st.Steps = vo.CloneSteps(e.st.Steps)
	return st
}

func (e *RequestExecutionEntity) ID() string                  { return e.st.ID }
func (e *RequestExecutionEntity) RequestID() string           { return e.st.RequestID }
func (e *RequestExecutionEntity) TemplateID() string          { return e.st.TemplateID }
func (e *RequestExecutionEntity) MediaType() string           { return e.st.MediaType }
func (e *RequestExecutionEntity) Steps() []vo.StepDefinition  { return e.st.Steps }
func (e *RequestExecutionEntity) Status() vo.ExecutionStatus  { return e.st.Status }
func (e *RequestExecutionEntity) Error() string               { return e.st.Error }
func (e *RequestExecutionEntity) HaltedBy() string            { return e.st.HaltedBy }
func (e *RequestExecutionEntity) CreatedAt() time.Time        { return e.st.CreatedAt }
func (e *RequestExecutionEntity) UpdatedAt() time.Time        { return e.st.UpdatedAt }
func (e *RequestExecutionEntity) FinishedAt() *time.Time      { return e.st.FinishedAt }
func (e *RequestExecutionEntity) Version() int64              { return e.st.Version }
func (e *RequestExecutionEntity) SyncVersion(v int64)         { e.st.Version = v }

// Step 按 ID 查找快照中的步骤定义
func (e *RequestExecutionEntity) Step(stepID string) (vo.StepDefinition, bool) {
	for _, s := range e.st.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return vo.StepDefinition{}, false
}

// Halt 必需步骤失败导致整个执行失败
func (e *RequestExecutionEntity) Halt(stepRunID, errMsg string, now time.Time) error {
	if err := e.Finish(vo.ExecutionFailed, errMsg, now); err != nil {
		return err
	}
	e.st.HaltedBy = stepRunID
	return nil
}

// Finish 进入终态
func (e *RequestExecutionEntity) Finish(status vo.ExecutionStatus, errMsg string, now time.Time) error {
	if e.st.Status.IsTerminal() {
		return NewDomainError("execution already finished: " + e.st.Status.String())
	}
	if !status.IsTerminal() {
		return NewDomainError("not a terminal execution status: " + status.String())
	}
	e.st.Status = status
	e.st.Error = errMsg
	e.st.FinishedAt = timePtr(now)
	e.st.UpdatedAt = now
	return nil
}

// Reopen 重试某个步骤时重新打开已失败的执行
func (e *RequestExecutionEntity) Reopen(now time.Time) error {
	if e.st.Status == vo.ExecutionRunning {
		return nil
	}
	if e.st.Status == vo.ExecutionCancelled {
		return NewDomainError("cancelled executions cannot be reopened")
	}
	e.st.Status = vo.ExecutionRunning
	e.st.Error = ""
	e.st.HaltedBy = ""
	e.st.FinishedAt = nil
	e.st.UpdatedAt = now
	return nil
}
