package convertor

import (
	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/database/po"
)

// WorkerConvertor Worker转换器
type WorkerConvertor struct{}

// NewWorkerConvertor 创建Worker转换器
func NewWorkerConvertor() *WorkerConvertor {
	return &WorkerConvertor{}
}

// EntityToPO 实体转PO
func (c *WorkerConvertor) EntityToPO(worker *entity.WorkerEntity) *po.WorkerPO {
	if worker == nil {
		return nil
	}
	st := worker.State()
	return &po.WorkerPO{
		WorkerID:      st.ID,
		Hostname:      st.Hostname,
		PID:           st.PID,
		Status:        st.Status.String(),
		Concurrency:   st.Concurrency,
		JobTypes:      po.NewJSON(st.JobTypes),
		LastHeartbeat: st.LastHeartbeat,
		StartedAt:     st.StartedAt,
		StoppedAt:     st.StoppedAt,
		UpdatedAt:     st.UpdatedAt,
	}
}

// POToEntity PO转实体
func (c *WorkerConvertor) POToEntity(p *po.WorkerPO) *entity.WorkerEntity {
	if p == nil {
		return nil
	}
	return entity.RestoreWorkerEntity(entity.WorkerState{
		ID:            p.WorkerID,
		Hostname:      p.Hostname,
		PID:           p.PID,
		Status:        vo.WorkerStatus(p.Status),
		Concurrency:   p.Concurrency,
		JobTypes:      p.JobTypes.Data,
		LastHeartbeat: p.LastHeartbeat,
		StartedAt:     p.StartedAt,
		StoppedAt:     p.StoppedAt,
		UpdatedAt:     p.UpdatedAt,
	})
}

// POListToEntityList PO列表转实体列表
func (c *WorkerConvertor) POListToEntityList(list []*po.WorkerPO) []*entity.WorkerEntity {
	out := make([]*entity.WorkerEntity, 0, len(list))
	for _, p := range list {
		out = append(out, c.POToEntity(p))
	}
	return out
}
