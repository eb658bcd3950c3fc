package entity

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// WorkerState Worker持久化状态
type WorkerState struct {
	ID            string
	Hostname      string
	PID           int
	Status        vo.WorkerStatus
	Concurrency   int
	JobTypes      []string
	LastHeartbeat time.Time
	StartedAt     time.Time
	StoppedAt     *time.Time
	UpdatedAt     time.Time
}

// WorkerEntity 领取并执行任务的进程
type WorkerEntity struct {
	st WorkerState
}

// NewWorkerEntity 创建新的Worker实体
func NewWorkerEntity(id, hostname string, pid, concurrency int, jobTypes []string, now time.Time) *WorkerEntity {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &WorkerEntity{st: WorkerState{
		ID:            id,
		Hostname:      hostname,
		PID:           pid,
		Status:        vo.WorkerStatusActive,
		Concurrency:   concurrency,
		JobTypes:      append([]string(nil), jobTypes...),
		LastHeartbeat: now,
		StartedAt:     now,
		UpdatedAt:     now,
	}}
}

// RestoreWorkerEntity 从持久化状态重建实体
func RestoreWorkerEntity(st WorkerState) *WorkerEntity {
	return &WorkerEntity{st: st}
}

func (w *WorkerEntity) State() WorkerState {
	st := w.st
	st.JobTypes = append([]string(nil), w.st.JobTypes...)
	return st
}

// Getters
func (w *WorkerEntity) ID() string               { return w.st.ID }
func (w *WorkerEntity) Hostname() string         { return w.st.Hostname }
func (w *WorkerEntity) PID() int                 { return w.st.PID }
func (w *WorkerEntity) Status() vo.WorkerStatus  { return w.st.Status }
func (w *WorkerEntity) Concurrency() int         { return w.st.Concurrency }
func (w *WorkerEntity) JobTypes() []string       { return w.st.JobTypes }
func (w *WorkerEntity) LastHeartbeat() time.Time { return w.st.LastHeartbeat }
func (w *WorkerEntity) StartedAt() time.Time     { return w.st.StartedAt }
func (w *WorkerEntity) StoppedAt() *time.Time    { return w.st.StoppedAt }
func (w *WorkerEntity) UpdatedAt() time.Time     { return w.st.UpdatedAt }

// IsAlive 心跳在宽限期内且状态为 active
func (w *WorkerEntity) IsAlive(grace time.Duration, now time.Time) bool {
	if !w.st.Status.CanClaim() {
		return false
	}
	return now.Sub(w.st.LastHeartbeat) <= grace
}

// Heartbeat 更新心跳
func (w *WorkerEntity) Heartbeat(now time.Time) error {
	if w.st.Status != vo.WorkerStatusActive {
		return NewDomainError("worker is not active: " + w.st.Status.String())
	}
	w.st.LastHeartbeat = now
	w.st.UpdatedAt = now
	return nil
}

// Stop 正常下线
func (w *WorkerEntity) Stop(now time.Time) {
	w.st.Status = vo.WorkerStatusStopped
	w.st.StoppedAt = timePtr(now)
	w.st.UpdatedAt = now
}

// MarkDead 心跳超时
func (w *WorkerEntity) MarkDead(now time.Time) {
	if w.st.Status == vo.WorkerStatusActive {
		w.st.Status = vo.WorkerStatusDead
		w.st.StoppedAt = timePtr(now)
	}
	w.st.UpdatedAt = now
}
