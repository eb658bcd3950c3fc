package convertor

import (
	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/database/po"
)

// EncoderConvertor 编码节点与分配转换器
type EncoderConvertor struct{}

func NewEncoderConvertor() *EncoderConvertor {
	return &EncoderConvertor{}
}

func (c *EncoderConvertor) EncoderToPO(enc *entity.RemoteEncoderEntity) *po.EncoderPO {
	st := enc.State()
	return &po.EncoderPO{
		EncoderID:      st.EncoderID,
		Name:           st.Name,
		Capabilities:   po.NewJSON(st.Capabilities),
		Status:         st.Status.String(),
		MaxConcurrent:  st.MaxConcurrent,
		CurrentJobs:    st.CurrentJobs,
		LastHeartbeat:  st.LastHeartbeat,
		TotalCompleted: st.TotalCompleted,
		TotalFailed:    st.TotalFailed,
		RegisteredAt:   st.RegisteredAt,
		UpdatedAt:      st.UpdatedAt,
	}
}

func (c *EncoderConvertor) POToEncoder(p *po.EncoderPO) *entity.RemoteEncoderEntity {
	return entity.RestoreRemoteEncoderEntity(entity.EncoderState{
		EncoderID:      p.EncoderID,
		Name:           p.Name,
		Capabilities:   p.Capabilities.Data,
		Status:         vo.EncoderStatus(p.Status),
		MaxConcurrent:  p.MaxConcurrent,
		CurrentJobs:    p.CurrentJobs,
		LastHeartbeat:  p.LastHeartbeat,
		TotalCompleted: p.TotalCompleted,
		TotalFailed:    p.TotalFailed,
		RegisteredAt:   p.RegisteredAt,
		UpdatedAt:      p.UpdatedAt,
	})
}

func (c *EncoderConvertor) AssignmentToPO(a *entity.EncoderAssignmentEntity) *po.AssignmentPO {
	st := a.State()
	return &po.AssignmentPO{
		AssignmentID: st.ID,
		JobID:        st.JobID,
		EncoderID:    st.EncoderID,
		InputPath:    st.InputPath,
		OutputPath:   st.OutputPath,
		Profile:      po.NewJSON(st.Profile),
		Status:       st.Status.String(),
		Attempt:      st.Attempt,
		MaxAttempts:  st.MaxAttempts,
		Progress:     st.Progress,
		FPS:          st.FPS,
		Speed:        st.Speed,
		ETASeconds:   st.ETASeconds,
		OutputMeta:   po.JSONMap(st.OutputMeta),
		Error:        st.Error,
		CreatedAt:    st.CreatedAt,
		UpdatedAt:    st.UpdatedAt,
		StartedAt:    st.StartedAt,
		FinishedAt:   st.FinishedAt,
		Version:      st.Version,
	}
}

func (c *EncoderConvertor) POToAssignment(p *po.AssignmentPO) *entity.EncoderAssignmentEntity {
	return entity.RestoreEncoderAssignmentEntity(entity.AssignmentState{
		ID:          p.AssignmentID,
		JobID:       p.JobID,
		EncoderID:   p.EncoderID,
		InputPath:   p.InputPath,
		OutputPath:  p.OutputPath,
		Profile:     p.Profile.Data,
		Status:      vo.AssignmentStatus(p.Status),
		Attempt:     p.Attempt,
		MaxAttempts: p.MaxAttempts,
		Progress:    p.Progress,
		FPS:         p.FPS,
		Speed:       p.Speed,
		ETASeconds:  p.ETASeconds,
		OutputMeta:  map[string]interface{}(p.OutputMeta),
		Error:       p.Error,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		StartedAt:   p.StartedAt,
		FinishedAt:  p.FinishedAt,
		Version:     p.Version,
	})
}

func (c *EncoderConvertor) POListToAssignments(list []*po.AssignmentPO) []*entity.EncoderAssignmentEntity {
	out := make([]*entity.EncoderAssignmentEntity, 0, len(list))
	for _, p := range list {
		out = append(out, c.POToAssignment(p))
	}
	return out
}
