package convertor

import (
	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/database/po"
)

// JobConvertor 队列任务转换器
type JobConvertor struct{}

// NewJobConvertor 创建任务转换器
func NewJobConvertor() *JobConvertor {
	return &JobConvertor{}
}

// EntityToPO 实体转PO
func (c *JobConvertor) EntityToPO(job *entity.JobEntity) *po.JobPO {
	if job == nil {
		return nil
	}
	st := job.State()
	out := &po.JobPO{
		JobID:           st.ID,
		Type:            st.Type,
		Payload:         po.JSONMap(st.Payload),
		DedupeKey:       st.DedupeKey,
		Status:          st.Status.String(),
		Priority:        st.Priority,
		Attempts:        st.Attempts,
		MaxAttempts:     st.MaxAttempts,
		LockedBy:        st.LockedBy,
		LockedAt:        st.LockedAt,
		ProgressCurrent: st.ProgressCurrent,
		ProgressTotal:   st.ProgressTotal,
		ProgressMessage: st.ProgressMessage,
		Result:          po.JSONMap(st.Result),
		ErrorMessage:    st.Error,
		CancelRequested: st.CancelRequested,
		RunAt:           st.RunAt,
		CreatedAt:       st.CreatedAt,
		UpdatedAt:       st.UpdatedAt,
		StartedAt:       st.StartedAt,
		FinishedAt:      st.FinishedAt,
		Version:         st.Version,
	}
	if key := job.ActiveDedupeKey(); key != "" {
		out.ActiveDedupeKey = &key
	}
	return out
}

// POToEntity PO转实体
func (c *JobConvertor) POToEntity(p *po.JobPO) *entity.JobEntity {
	if p == nil {
		return nil
	}
	return entity.RestoreJobEntity(entity.JobState{
		ID:              p.JobID,
		Type:            p.Type,
		Payload:         map[string]interface{}(p.Payload),
		DedupeKey:       p.DedupeKey,
		Status:          vo.JobStatus(p.Status),
		Priority:        p.Priority,
		Attempts:        p.Attempts,
		MaxAttempts:     p.MaxAttempts,
		LockedBy:        p.LockedBy,
		LockedAt:        p.LockedAt,
		ProgressCurrent: p.ProgressCurrent,
		ProgressTotal:   p.ProgressTotal,
		ProgressMessage: p.ProgressMessage,
		Result:          map[string]interface{}(p.Result),
		Error:           p.ErrorMessage,
		CancelRequested: p.CancelRequested,
		RunAt:           p.RunAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		StartedAt:       p.StartedAt,
		FinishedAt:      p.FinishedAt,
		Version:         p.Version,
	})
}

// POListToEntityList PO列表转实体列表
func (c *JobConvertor) POListToEntityList(list []*po.JobPO) []*entity.JobEntity {
	out := make([]*entity.JobEntity, 0, len(list))
	for _, p := range list {
		out = append(out, c.POToEntity(p))
	}
	return out
}
