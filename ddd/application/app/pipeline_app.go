package app

import (
	"context"
	"errors"

	"acquisition-service/ddd/application/cqe"
	"acquisition-service/ddd/application/dto"
	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/errno"
)

type PipelineApp interface {
	CreateTemplate(ctx context.Context, req *cqe.TemplateReq) (*dto.TemplateDTO, error)
	UpdateTemplate(ctx context.Context, templateID string, req *cqe.TemplateReq) (*dto.TemplateDTO, error)
	GetTemplate(ctx context.Context, templateID string) (*dto.TemplateDTO, error)
	ListTemplates(ctx context.Context, mediaType string) ([]*dto.TemplateDTO, error)
	DeleteTemplate(ctx context.Context, templateID string) error
	// ValidateTemplate 只校验不保存，tree 输入返回展开后的步骤
	ValidateTemplate(ctx context.Context, req *cqe.TemplateReq) (*dto.ValidationResultDTO, error)

	Execute(ctx context.Context, req *cqe.ExecuteReq) (*dto.ExecutionDTO, error)
	GetExecution(ctx context.Context, executionID string) (*dto.ExecutionDTO, error)
	ListExecutions(ctx context.Context, req *cqe.ListExecutionsReq) (*dto.PageDTO[*dto.ExecutionDTO], error)
	CancelExecution(ctx context.Context, executionID string) (*dto.ExecutionDTO, error)

	Approve(ctx context.Context, stepRunID, actor, reason string) (*dto.StepRunDTO, error)
	Reject(ctx context.Context, stepRunID, actor, reason string) (*dto.StepRunDTO, error)
	RetryStep(ctx context.Context, stepRunID string) (*dto.StepRunDTO, error)
}

type pipelineAppImpl struct {
	pipeline *service.PipelineService
}

func NewPipelineApp(pipeline *service.PipelineService) PipelineApp {
	return &pipelineAppImpl{pipeline: pipeline}
}

func templateInput(req *cqe.TemplateReq) service.TemplateInput {
	return service.TemplateInput{
		ID:          req.ID,
		Name:        req.Name,
		MediaType:   req.MediaType,
		Description: req.Description,
		Steps:       req.Steps,
		Tree:        req.Tree,
	}
}

func (a *pipelineAppImpl) CreateTemplate(ctx context.Context, req *cqe.TemplateReq) (*dto.TemplateDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tpl, err := a.pipeline.CreateTemplate(ctx, templateInput(req))
	if err != nil {
		return nil, bizError(err, errno.ErrTemplateInvalid)
	}
	return dto.NewTemplateDTO(tpl), nil
}

func (a *pipelineAppImpl) UpdateTemplate(ctx context.Context, templateID string, req *cqe.TemplateReq) (*dto.TemplateDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tpl, err := a.pipeline.UpdateTemplate(ctx, templateID, templateInput(req))
	if err != nil {
		return nil, bizError(err, errno.ErrTemplateInvalid)
	}
	return dto.NewTemplateDTO(tpl), nil
}

func (a *pipelineAppImpl) GetTemplate(ctx context.Context, templateID string) (*dto.TemplateDTO, error) {
	tpl, err := a.pipeline.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, bizError(err, errno.ErrTemplateInvalid)
	}
	return dto.NewTemplateDTO(tpl), nil
}

func (a *pipelineAppImpl) ListTemplates(ctx context.Context, mediaType string) ([]*dto.TemplateDTO, error) {
	list, err := a.pipeline.ListTemplates(ctx, mediaType)
	if err != nil {
		return nil, bizError(err, errno.ErrTemplateInvalid)
	}
	out := make([]*dto.TemplateDTO, 0, len(list))
	for _, t := range list {
		out = append(out, dto.NewTemplateDTO(t))
	}
	return out, nil
}

func (a *pipelineAppImpl) DeleteTemplate(ctx context.Context, templateID string) error {
	return bizError(a.pipeline.DeleteTemplate(ctx, templateID), errno.ErrTemplateInvalid)
}

func (a *pipelineAppImpl) ValidateTemplate(ctx context.Context, req *cqe.TemplateReq) (*dto.ValidationResultDTO, error) {
	steps := req.Steps
	if len(steps) == 0 && len(req.Tree) > 0 {
		steps = service.FlattenTree(req.Tree)
	}
	err := service.ValidateTemplate(steps)
	if err == nil {
		return &dto.ValidationResultDTO{Valid: true, Steps: steps}, nil
	}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return &dto.ValidationResultDTO{Valid: false, Problems: verr.Problems}, nil
	}
	return nil, bizError(err, errno.ErrTemplateInvalid)
}

func (a *pipelineAppImpl) Execute(ctx context.Context, req *cqe.ExecuteReq) (*dto.ExecutionDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exec, err := a.pipeline.Execute(ctx, req.RequestID, req.TemplateID)
	if err != nil {
		return nil, bizError(err, errno.ErrTemplateInvalid)
	}
	return a.GetExecution(ctx, exec.ID())
}

func (a *pipelineAppImpl) GetExecution(ctx context.Context, executionID string) (*dto.ExecutionDTO, error) {
	exec, runs, err := a.pipeline.GetExecution(ctx, executionID)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidStepStatus)
	}
	if runs == nil {
		runs = []*entity.StepRunEntity{}
	}
	return dto.NewExecutionDTO(exec, runs), nil
}

func (a *pipelineAppImpl) ListExecutions(ctx context.Context, req *cqe.ListExecutionsReq) (*dto.PageDTO[*dto.ExecutionDTO], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	list, total, err := a.pipeline.ListExecutions(ctx, repo.ExecutionFilter{
		Status:    vo.ExecutionStatus(req.Status),
		RequestID: req.RequestID,
		Limit:     req.Size,
		Offset:    (req.Page - 1) * req.Size,
	})
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidStepStatus)
	}
	items := make([]*dto.ExecutionDTO, 0, len(list))
	for _, e := range list {
		items = append(items, dto.NewExecutionDTO(e, nil))
	}
	return &dto.PageDTO[*dto.ExecutionDTO]{Items: items, Total: total, Page: req.Page, Size: req.Size}, nil
}

func (a *pipelineAppImpl) CancelExecution(ctx context.Context, executionID string) (*dto.ExecutionDTO, error) {
	if _, err := a.pipeline.CancelExecution(ctx, executionID); err != nil {
		return nil, bizError(err, errno.ErrInvalidStepStatus)
	}
	return a.GetExecution(ctx, executionID)
}

func (a *pipelineAppImpl) Approve(ctx context.Context, stepRunID, actor, reason string) (*dto.StepRunDTO, error) {
	run, err := a.pipeline.Approve(ctx, stepRunID, actor, reason)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidStepStatus)
	}
	return dto.NewStepRunDTO(run), nil
}

func (a *pipelineAppImpl) Reject(ctx context.Context, stepRunID, actor, reason string) (*dto.StepRunDTO, error) {
	run, err := a.pipeline.Reject(ctx, stepRunID, actor, reason)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidStepStatus)
	}
	return dto.NewStepRunDTO(run), nil
}

func (a *pipelineAppImpl) RetryStep(ctx context.Context, stepRunID string) (*dto.StepRunDTO, error) {
	run, err := a.pipeline.RetryStep(ctx, stepRunID)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidStepStatus)
	}
	return dto.NewStepRunDTO(run), nil
}
