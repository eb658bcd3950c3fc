package repo

import (
	"context"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
)

// TemplateRepository 流水线模板仓储接口
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, tpl *entity.PipelineTemplateEntity) error
	UpdateTemplate(ctx context.Context, tpl *entity.PipelineTemplateEntity) error
	// GetTemplateByID 不存在返回 nil
	GetTemplateByID(ctx context.Context, templateID string) (*entity.PipelineTemplateEntity, error)
	// ListTemplates mediaType 为空表示全部
	ListTemplates(ctx context.Context, mediaType string) ([]*entity.PipelineTemplateEntity, error)
	DeleteTemplate(ctx context.Context, templateID string) error
}

// ExecutionFilter 执行列表查询条件
type ExecutionFilter struct {
	Status    vo.ExecutionStatus
	RequestID string
	Limit     int
	Offset    int
}

// ExecutionRepository 请求执行与步骤运行仓储接口
type ExecutionRepository interface {
	// CreateExecution 在一个事务中写入执行及其全部步骤运行
	CreateExecution(ctx context.Context, exec *entity.RequestExecutionEntity, runs []*entity.StepRunEntity) error

	// GetExecutionByID 不存在返回 nil
	GetExecutionByID(ctx context.Context, executionID string) (*entity.RequestExecutionEntity, error)

	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*entity.RequestExecutionEntity, int64, error)

	// UpdateExecution 条件更新，版本不匹配返回 ErrVersionConflict
	UpdateExecution(ctx context.Context, exec *entity.RequestExecutionEntity) error

	// GetStepRunByID 不存在返回 nil
	GetStepRunByID(ctx context.Context, stepRunID string) (*entity.StepRunEntity, error)

	// GetStepRunByJobID 不存在返回 nil
	GetStepRunByJobID(ctx context.Context, jobID string) (*entity.StepRunEntity, error)

	// ListStepRuns 按创建顺序返回执行的全部步骤运行
	ListStepRuns(ctx context.Context, executionID string) ([]*entity.StepRunEntity, error)

	// ListStepRunsByStatus 所有执行中处于指定状态的步骤运行
	ListStepRunsByStatus(ctx context.Context, status vo.StepRunStatus) ([]*entity.StepRunEntity, error)

	// UpdateStepRun 条件更新，版本不匹配返回 ErrVersionConflict
	UpdateStepRun(ctx context.Context, run *entity.StepRunEntity) error
}
