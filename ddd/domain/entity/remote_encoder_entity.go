package entity

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// EncoderState 远程编码节点持久化状态
type EncoderState struct {
	EncoderID      string
	Name           string
	Capabilities   vo.Capabilities
	Status         vo.EncoderStatus
	MaxConcurrent  int
	CurrentJobs    int
	LastHeartbeat  time.Time
	TotalCompleted int64
	TotalFailed    int64
	RegisteredAt   time.Time
	UpdatedAt      time.Time
}

// RemoteEncoderEntity 远程编码节点
// CurrentJobs 只能随分配状态变化一起修改，由仓储在同一事务中完成
type RemoteEncoderEntity struct {
	st EncoderState
}

func NewRemoteEncoderEntity(encoderID, name string, caps vo.Capabilities, maxConcurrent int, now time.Time) *RemoteEncoderEntity {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if name == "" {
		name = encoderID
	}
	return &RemoteEncoderEntity{st: EncoderState{
		EncoderID:     encoderID,
		Name:          name,
		Capabilities:  caps,
		Status:        vo.EncoderIdle,
		MaxConcurrent: maxConcurrent,
		LastHeartbeat: now,
		RegisteredAt:  now,
		UpdatedAt:     now,
	}}
}

func RestoreRemoteEncoderEntity(st EncoderState) *RemoteEncoderEntity {
	return &RemoteEncoderEntity{st: st}
}

func (e *RemoteEncoderEntity) State() EncoderState { return e.st }

func (e *RemoteEncoderEntity) EncoderID() string                { return e.st.EncoderID }
func (e *RemoteEncoderEntity) Name() string                     { return e.st.Name }
func (e *RemoteEncoderEntity) Capabilities() vo.Capabilities    { return e.st.Capabilities }
func (e *RemoteEncoderEntity) Status() vo.EncoderStatus         { return e.st.Status }
func (e *RemoteEncoderEntity) MaxConcurrent() int               { return e.st.MaxConcurrent }
func (e *RemoteEncoderEntity) CurrentJobs() int                 { return e.st.CurrentJobs }
func (e *RemoteEncoderEntity) LastHeartbeat() time.Time         { return e.st.LastHeartbeat }
func (e *RemoteEncoderEntity) TotalCompleted() int64            { return e.st.TotalCompleted }
func (e *RemoteEncoderEntity) TotalFailed() int64               { return e.st.TotalFailed }
func (e *RemoteEncoderEntity) RegisteredAt() time.Time          { return e.st.RegisteredAt }
func (e *RemoteEncoderEntity) UpdatedAt() time.Time             { return e.st.UpdatedAt }

// HasCapacity 是否还能接收分配
func (e *RemoteEncoderEntity) HasCapacity() bool {
	return e.st.Status.CanAccept() && e.st.CurrentJobs < e.st.MaxConcurrent
}

// Eligible 状态、容量和能力都满足
func (e *RemoteEncoderEntity) Eligible(p vo.EncodeProfile) bool {
	return e.HasCapacity() && e.st.Capabilities.Supports(p)
}

// IsStale 心跳超过 timeout 未到达
func (e *RemoteEncoderEntity) IsStale(timeout time.Duration, now time.Time) bool {
	return e.st.Status != vo.EncoderOffline && now.Sub(e.st.LastHeartbeat) > timeout
}

// Reregister 节点重新注册，保留计数器和历史统计
func (e *RemoteEncoderEntity) Reregister(name string, caps vo.Capabilities, maxConcurrent int, now time.Time) {
	if name != "" {
		e.st.Name = name
	}
	if maxConcurrent > 0 {
		e.st.MaxConcurrent = maxConcurrent
	}
	e.st.Capabilities = caps
	e.st.LastHeartbeat = now
	e.st.UpdatedAt = now
	e.st.Status = e.busyStatus()
}

// Heartbeat 刷新心跳，离线节点恢复
func (e *RemoteEncoderEntity) Heartbeat(now time.Time) {
	e.st.LastHeartbeat = now
	e.st.UpdatedAt = now
	if e.st.Status == vo.EncoderOffline {
		e.st.Status = e.busyStatus()
	}
}

func (e *RemoteEncoderEntity) busyStatus() vo.EncoderStatus {
	if e.st.CurrentJobs > 0 {
		return vo.EncoderEncoding
	}
	return vo.EncoderIdle
}
