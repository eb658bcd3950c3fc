package po

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// TemplatePO 流水线模板持久化对象
type TemplatePO struct {
	ID          uint                      `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID  string                    `gorm:"uniqueIndex;size:64;not null" json:"template_id"`
	Name        string                    `gorm:"size:255;not null" json:"name"`
	MediaType   string                    `gorm:"index;size:32" json:"media_type"`
	Description string                    `gorm:"type:text" json:"description"`
	Steps       JSON[[]vo.StepDefinition] `gorm:"type:json" json:"steps"`
	CreatedAt   time.Time                 `gorm:"index;precision:3;autoCreateTime:false" json:"created_at"`
	UpdatedAt   time.Time                 `gorm:"precision:3;autoUpdateTime:false" json:"updated_at"`
}

// TableName 指定表名
func (TemplatePO) TableName() string {
	return "pipeline_templates"
}

// ExecutionPO 请求执行持久化对象，Steps 为执行时的模板快照
type ExecutionPO struct {
	ID          uint                      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID string                    `gorm:"uniqueIndex;size:36;not null" json:"execution_id"`
	RequestID   string                    `gorm:"index;size:64;not null" json:"request_id"`
	TemplateID  string                    `gorm:"size:64" json:"template_id"`
	MediaType   string                    `gorm:"size:32" json:"media_type"`
	Steps       JSON[[]vo.StepDefinition] `gorm:"type:json" json:"steps"`
	Status      string                    `gorm:"index;size:20;not null" json:"status"`
	Error       string                    `gorm:"type:text" json:"error"`
	HaltedBy    string                    `gorm:"size:36" json:"halted_by"`
	CreatedAt   time.Time                 `gorm:"index;precision:3;autoCreateTime:false" json:"created_at"`
	UpdatedAt   time.Time                 `gorm:"precision:3;autoUpdateTime:false" json:"updated_at"`
	FinishedAt  *time.Time                `gorm:"precision:3" json:"finished_at"`
	Version     int64                     `gorm:"not null;default:0" json:"version"`
}

// TableName 指定表名
func (ExecutionPO) TableName() string {
	return "request_executions"
}

// StepRunPO 步骤运行持久化对象
type StepRunPO struct {
	ID               uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	StepRunID        string     `gorm:"uniqueIndex;size:36;not null" json:"step_run_id"`
	ExecutionID      string     `gorm:"index;size:36;not null" json:"execution_id"`
	StepID           string     `gorm:"size:64;not null" json:"step_id"`
	ParentRunID      string     `gorm:"size:36" json:"parent_run_id"`
	Type             string     `gorm:"size:32;not null" json:"type"`
	Required         bool       `json:"required"`
	Retryable        bool       `json:"retryable"`
	ContinueOnError  bool       `json:"continue_on_error"`
	Status           string     `gorm:"index;size:20;not null" json:"status"`
	Attempt          int        `gorm:"default:0" json:"attempt"`
	JobID            string     `gorm:"index;size:36" json:"job_id"`
	Result           JSONMap    `gorm:"type:json" json:"result"`
	Error            string     `gorm:"type:text" json:"error"`
	BlockedBy        string     `gorm:"size:36" json:"blocked_by"`
	ApprovalDeadline *time.Time `gorm:"precision:3" json:"approval_deadline"`
	ResolvedBy       string     `gorm:"size:128" json:"resolved_by"`
	CreatedAt        time.Time  `gorm:"precision:3;autoCreateTime:false" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"precision:3;autoUpdateTime:false" json:"updated_at"`
	StartedAt        *time.Time `gorm:"precision:3" json:"started_at"`
	FinishedAt       *time.Time `gorm:"precision:3" json:"finished_at"`
	Version          int64      `gorm:"not null;default:0" json:"version"`
}

// TableName 指定表名
func (StepRunPO) TableName() string {
	return "step_runs"
}
