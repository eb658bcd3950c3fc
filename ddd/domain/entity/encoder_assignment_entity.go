package entity

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// AssignmentState 编码分配持久化状态
type AssignmentState struct {
	ID          string
	JobID       string
	EncoderID   string
	InputPath   string
	OutputPath  string
	Profile     vo.EncodeProfile
	Status      vo.AssignmentStatus
	Attempt     int
	MaxAttempts int
	Progress    float64
	FPS         float64
	Speed       float64
	ETASeconds  int64
	OutputMeta  map[string]interface{}
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Version     int64
}

// EncoderAssignmentEntity 交给某个远程节点的一次编码
type EncoderAssignmentEntity struct {
	st AssignmentState
}

func NewEncoderAssignmentEntity(id, jobID, inputPath, outputPath string, profile vo.EncodeProfile, maxAttempts int, now time.Time) *EncoderAssignmentEntity {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &EncoderAssignmentEntity{st: AssignmentState{
		ID:          id,
		JobID:       jobID,
		InputPath:   inputPath,
		OutputPath:  outputPath,
		Profile:     profile,
		Status:      vo.AssignmentPending,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}}
}

func RestoreEncoderAssignmentEntity(st AssignmentState) *EncoderAssignmentEntity {
	return &EncoderAssignmentEntity{st: st}
}

func (a *EncoderAssignmentEntity) State() AssignmentState {
	st := a.st
	st.OutputMeta = copyMap(a.st.OutputMeta)
	return st
}

func (a *EncoderAssignmentEntity) ID() string                         { return a.st.ID }
func (a *EncoderAssignmentEntity) JobID() string                      { return a.st.JobID }
func (a *EncoderAssignmentEntity) EncoderID() string                  { return a.st.EncoderID }
func (a *EncoderAssignmentEntity) InputPath() string                  { return a.st.InputPath }
func (a *EncoderAssignmentEntity) OutputPath() string                 { return a.st.OutputPath }
func (a *EncoderAssignmentEntity) Profile() vo.EncodeProfile          { return a.st.Profile }
func (a *EncoderAssignmentEntity) Status() vo.AssignmentStatus        { return a.st.Status }
func (a *EncoderAssignmentEntity) Attempt() int                       { return a.st.Attempt }
func (a *EncoderAssignmentEntity) MaxAttempts() int                   { return a.st.MaxAttempts }
func (a *EncoderAssignmentEntity) Progress() float64                  { return a.st.Progress }
func (a *EncoderAssignmentEntity) FPS() float64                       { return a.st.FPS }
func (a *EncoderAssignmentEntity) Speed() float64                     { return a.st.Speed }
func (a *EncoderAssignmentEntity) ETASeconds() int64                  { return a.st.ETASeconds }
func (a *EncoderAssignmentEntity) OutputMeta() map[string]interface{} { return a.st.OutputMeta }
func (a *EncoderAssignmentEntity) Error() string                      { return a.st.Error }
func (a *EncoderAssignmentEntity) CreatedAt() time.Time               { return a.st.CreatedAt }
func (a *EncoderAssignmentEntity) UpdatedAt() time.Time               { return a.st.UpdatedAt }
func (a *EncoderAssignmentEntity) StartedAt() *time.Time              { return a.st.StartedAt }
func (a *EncoderAssignmentEntity) FinishedAt() *time.Time             { return a.st.FinishedAt }
func (a *EncoderAssignmentEntity) Version() int64                     { return a.st.Version }
func (a *EncoderAssignmentEntity) SyncVersion(v int64)                { a.st.Version = v }

// AssignTo PENDING -> ENCODING
func (a *EncoderAssignmentEntity) AssignTo(encoderID string, now time.Time) error {
	if a.st.Status != vo.AssignmentPending {
		return NewDomainError("cannot assign in status: " + a.st.Status.String())
	}
	a.st.Status = vo.AssignmentEncoding
	a.st.EncoderID = encoderID
	a.st.Progress, a.st.FPS, a.st.Speed, a.st.ETASeconds = 0, 0, 0, 0
	a.st.StartedAt = timePtr(now)
	a.st.UpdatedAt = now
	return nil
}

// UpdateProgress 节点上报进度
func (a *EncoderAssignmentEntity) UpdateProgress(progress, fps, speed float64, eta int64, now time.Time) error {
	if a.st.Status != vo.AssignmentEncoding {
		return NewDomainError("cannot report progress in status: " + a.st.Status.String())
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	a.st.Progress = progress
	a.st.FPS = fps
	a.st.Speed = speed
	a.st.ETASeconds = eta
	a.st.UpdatedAt = now
	return nil
}

// Complete ENCODING -> COMPLETED
func (a *EncoderAssignmentEntity) Complete(meta map[string]interface{}, now time.Time) error {
	if a.st.Status != vo.AssignmentEncoding {
		return NewDomainError("cannot complete in status: " + a.st.Status.String())
	}
	a.st.Status = vo.AssignmentCompleted
	a.st.Progress = 100
	a.st.OutputMeta = meta
	a.st.Error = ""
	a.st.FinishedAt = timePtr(now)
	a.st.UpdatedAt = now
	return nil
}

// Fail 节点上报失败；仍有次数时回到 PENDING 等待重新分配
func (a *EncoderAssignmentEntity) Fail(errMsg string, now time.Time) (bool, error) {
	if a.st.Status != vo.AssignmentEncoding {
		return false, NewDomainError("cannot fail in status: " + a.st.Status.String())
	}
	return a.requeueOrFail(errMsg, now), nil
}

// Requeue 节点离线时强制回收，attempt+1
func (a *EncoderAssignmentEntity) Requeue(reason string, now time.Time) (bool, error) {
	return a.Fail(reason, now)
}

func (a *EncoderAssignmentEntity) requeueOrFail(errMsg string, now time.Time) bool {
	a.st.Error = errMsg
	a.st.UpdatedAt = now
	if a.st.Attempt < a.st.MaxAttempts {
		a.st.Attempt++
		a.st.Status = vo.AssignmentPending
		a.st.EncoderID = ""
		a.st.StartedAt = nil
		return true
	}
	a.st.Status = vo.AssignmentFailed
	a.st.FinishedAt = timePtr(now)
	return false
}

// Cancel PENDING/ENCODING -> CANCELLED
func (a *EncoderAssignmentEntity) Cancel(reason string, now time.Time) error {
	if a.st.Status.IsTerminal() {
		return NewDomainError("cannot cancel in status: " + a.st.Status.String())
	}
	a.st.Status = vo.AssignmentCancelled
	a.st.Error = reason
	a.st.FinishedAt = timePtr(now)
	a.st.UpdatedAt = now
	return nil
}
