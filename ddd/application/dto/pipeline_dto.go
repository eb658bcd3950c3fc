package dto

import (
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
)

// TemplateDTO 流水线模板
type TemplateDTO struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	MediaType   string              `json:"mediaType,omitempty"`
	Description string              `json:"description,omitempty"`
	Steps       []vo.StepDefinition `json:"steps"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

func NewTemplateDTO(t *entity.PipelineTemplateEntity) *TemplateDTO {
	if t == nil {
		return nil
	}
	return &TemplateDTO{
		ID:          t.ID(),
		Name:        t.Name(),
		MediaType:   t.MediaType(),
		Description: t.Description(),
		Steps:       t.Steps(),
		CreatedAt:   t.CreatedAt(),
		UpdatedAt:   t.UpdatedAt(),
	}
}

// ValidationResultDTO 模板校验结果
type ValidationResultDTO struct {
	Valid    bool                `json:"valid"`
	Problems []string            `json:"problems,omitempty"`
	Steps    []vo.StepDefinition `json:"steps,omitempty"`
}

// StepRunDTO 步骤运行
type StepRunDTO struct {
	ID               string                 `json:"id"`
	StepID           string                 `json:"stepId"`
	ParentRunID      string                 `json:"parentRunId,omitempty"`
	Type             string                 `json:"type"`
	Required         bool                   `json:"required"`
	Retryable        bool                   `json:"retryable"`
	ContinueOnError  bool                   `json:"continueOnError"`
	Status           string                 `json:"status"`
	Attempt          int                    `json:"attempt"`
	JobID            string                 `json:"jobId,omitempty"`
	Result           map[string]interface{} `json:"result,omitempty"`
	Error            string                 `json:"error,omitempty"`
	BlockedBy        string                 `json:"blockedBy,omitempty"`
	ApprovalDeadline *time.Time             `json:"approvalDeadline,omitempty"`
	ResolvedBy       string                 `json:"resolvedBy,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	StartedAt        *time.Time             `json:"startedAt,omitempty"`
	FinishedAt       *time.Time             `json:"finishedAt,omitempty"`
}

func NewStepRunDTO(r *entity.StepRunEntity) *StepRunDTO {
	if r == nil {
		return nil
	}
	return &StepRunDTO{
		ID:               r.ID(),
		StepID:           r.StepID(),
		ParentRunID:      r.ParentRunID(),
		Type:             r.Type().String(),
		Required:         r.Required(),
		Retryable:        r.Retryable(),
		ContinueOnError:  r.ContinueOnError(),
		Status:           r.Status().String(),
		Attempt:          r.Attempt(),
		JobID:            r.JobID(),
		Result:           r.Result(),
		Error:            r.Error(),
		BlockedBy:        r.BlockedBy(),
		ApprovalDeadline: r.ApprovalDeadline(),
		ResolvedBy:       r.ResolvedBy(),
		CreatedAt:        r.CreatedAt(),
		UpdatedAt:        r.UpdatedAt(),
		StartedAt:        r.StartedAt(),
		FinishedAt:       r.FinishedAt(),
	}
}

// ExecutionDTO 请求执行，详情接口附带步骤运行
type ExecutionDTO struct {
	ID         string              `json:"id"`
	RequestID  string              `json:"requestId"`
	TemplateID string              `json:"templateId"`
	MediaType  string              `json:"mediaType,omitempty"`
	Status     string              `json:"status"`
	Error      string              `json:"error,omitempty"`
	HaltedBy   string              `json:"haltedBy,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	UpdatedAt  time.Time           `json:"updatedAt"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
	Steps      []vo.StepDefinition `json:"steps,omitempty"`
	Runs       []*StepRunDTO       `json:"runs,omitempty"`
}

func NewExecutionDTO(e *entity.RequestExecutionEntity, runs []*entity.StepRunEntity) *ExecutionDTO {
	if e == nil {
		return nil
	}
	d := &ExecutionDTO{
		ID:         e.ID(),
		RequestID:  e.RequestID(),
		TemplateID: e.TemplateID(),
		MediaType:  e.MediaType(),
		Status:     e.Status().String(),
		Error:      e.Error(),
		HaltedBy:   e.HaltedBy(),
		CreatedAt:  e.CreatedAt(),
		UpdatedAt:  e.UpdatedAt(),
		FinishedAt: e.FinishedAt(),
	}
	if runs != nil {
		d.Steps = e.Steps()
		d.Runs = make([]*StepRunDTO, 0, len(runs))
		for _, r := range runs {
			d.Runs = append(d.Runs, NewStepRunDTO(r))
		}
	}
	return d
}
