package convertor

import (
	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/database/po"
)

// PipelineConvertor 模板、执行与步骤运行转换器
type PipelineConvertor struct{}

func NewPipelineConvertor() *PipelineConvertor {
	return &PipelineConvertor{}
}

func (c *PipelineConvertor) TemplateToPO(tpl *entity.PipelineTemplateEntity) *po.TemplatePO {
	st := tpl.State()
	return &po.TemplatePO{
		TemplateID:  st.ID,
		Name:        st.Name,
		MediaType:   st.MediaType,
		Description: st.Description,
		Steps:       po.NewJSON(st.Steps),
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
	}
}

func (c *PipelineConvertor) POToTemplate(p *po.TemplatePO) *entity.PipelineTemplateEntity {
	return entity.RestorePipelineTemplateEntity(entity.TemplateState{
		ID:          p.TemplateID,
		Name:        p.Name,
		MediaType:   p.MediaType,
		Description: p.Description,
		Steps:       p.Steps.Data,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	})
}

func (c *PipelineConvertor) ExecutionToPO(exec *entity.RequestExecutionEntity) *po.ExecutionPO {
	st := exec.State()
	return &po.ExecutionPO{
		ExecutionID: st.ID,
		RequestID:   st.RequestID,
		TemplateID:  st.TemplateID,
		MediaType:   st.MediaType,
		Steps:       po.NewJSON(st.Steps),
		Status:      st.Status.String(),
		Error:       st.Error,
		HaltedBy:    st.HaltedBy,
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
		FinishedAt:  st.FinishedAt,
		Version:     st.Version,
	}
}

func (c *PipelineConvertor) POToExecution(p *po.ExecutionPO) *entity.RequestExecutionEntity {
	return entity.RestoreRequestExecutionEntity(entity.ExecutionState{
		ID:         p.ExecutionID,
		RequestID:  p.RequestID,
		TemplateID: p.TemplateID,
		MediaType:  p.MediaType,
		Steps:      p.Steps.Data,
		Status:     vo.ExecutionStatus(p.Status),
		Error:      p.Error,
		HaltedBy:   p.HaltedBy,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
		FinishedAt: p.FinishedAt,
		Version:    p.Version,
	})
}

func (c *PipelineConvertor) StepRunToPO(run *entity.StepRunEntity) *po.StepRunPO {
	st := run.State()
	return &po.StepRunPO{
		StepRunID:        st.ID,
		ExecutionID:      st.ExecutionID,
		StepID:           st.StepID,
		ParentRunID:      st.ParentRunID,
		Type:             st.Type.String(),
		Required:         st.Required,
		Retryable:        st.Retryable,
		ContinueOnError:  st.ContinueOnError,
		Status:           st.Status.String(),
		Attempt:          st.Attempt,
		JobID:            st.JobID,
		Result:           po.JSONMap(st.Result),
		Error:            st.Error,
		BlockedBy:        st.BlockedBy,
		ApprovalDeadline: st.ApprovalDeadline,
		ResolvedBy:       st.ResolvedBy,
		CreatedAt:        st.CreatedAt,
		UpdatedAt:        st.UpdatedAt,
		StartedAt:        st.StartedAt,
		FinishedAt:       st.FinishedAt,
		Version:          st.Version,
	}
}

func (c *PipelineConvertor) POToStepRun(p *po.StepRunPO) *entity.StepRunEntity {
	return entity.RestoreStepRunEntity(entity.StepRunState{
		ID:               p.StepRunID,
		ExecutionID:      p.ExecutionID,
		StepID:           p.StepID,
		ParentRunID:      p.ParentRunID,
		Type:             vo.StepType(p.Type),
		Required:         p.Required,
		Retryable:        p.Retryable,
		ContinueOnError:  p.ContinueOnError,
		Status:           vo.StepRunStatus(p.Status),
		Attempt:          p.Attempt,
		JobID:            p.JobID,
		Result:           map[string]interface{}(p.Result),
		Error:            p.Error,
		BlockedBy:        p.BlockedBy,
		ApprovalDeadline: p.ApprovalDeadline,
		ResolvedBy:       p.ResolvedBy,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
		StartedAt:        p.StartedAt,
		FinishedAt:       p.FinishedAt,
		Version:          p.Version,
	})
}

func (c *PipelineConvertor) POListToStepRuns(list []*po.StepRunPO) []*entity.StepRunEntity {
	out := make([]*entity.StepRunEntity, 0, len(list))
	for _, p := range list {
		out = append(out, c.POToStepRun(p))
	}
	return out
}
