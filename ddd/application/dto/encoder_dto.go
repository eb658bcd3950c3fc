package dto

import (
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
)

// EncoderDTO 远程编码节点
type EncoderDTO struct {
	EncoderID      string          `json:"encoderId"`
	Name           string          `json:"name"`
	Capabilities   vo.Capabilities `json:"capabilities"`
	Status         string          `json:"status"`
	MaxConcurrent  int             `json:"maxConcurrent"`
	CurrentJobs    int             `json:"currentJobs"`
	LastHeartbeat  time.Time       `json:"lastHeartbeat"`
	TotalCompleted int64           `json:"totalCompleted"`
	TotalFailed    int64           `json:"totalFailed"`
	RegisteredAt   time.Time       `json:"registeredAt"`
	Connected      bool            `json:"connected"`
}

func NewEncoderDTO(e *entity.RemoteEncoderEntity, connected bool) *EncoderDTO {
	if e == nil {
		return nil
	}
	return &EncoderDTO{
		EncoderID:      e.EncoderID(),
		Name:           e.Name(),
		Capabilities:   e.Capabilities(),
		Status:         e.Status().String(),
		MaxConcurrent:  e.MaxConcurrent(),
		CurrentJobs:    e.CurrentJobs(),
		LastHeartbeat:  e.LastHeartbeat(),
		TotalCompleted: e.TotalCompleted(),
		TotalFailed:    e.TotalFailed(),
		RegisteredAt:   e.RegisteredAt(),
		Connected:      connected,
	}
}

// AssignmentDTO 编码分配
type AssignmentDTO struct {
	ID          string                 `json:"id"`
	JobID       string                 `json:"jobId"`
	EncoderID   string                 `json:"encoderId,omitempty"`
	InputPath   string                 `json:"inputPath"`
	OutputPath  string                 `json:"outputPath"`
	Profile     vo.EncodeProfile       `json:"profile"`
	Status      string                 `json:"status"`
	Attempt     int                    `json:"attempt"`
	MaxAttempts int                    `json:"maxAttempts"`
	Progress    float64                `json:"progress"`
	FPS         float64                `json:"fps"`
	Speed       float64                `json:"speed"`
	ETASeconds  int64                  `json:"eta"`
	OutputMeta  map[string]interface{} `json:"outputMeta,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	FinishedAt  *time.Time             `json:"finishedAt,omitempty"`
}

func NewAssignmentDTO(a *entity.EncoderAssignmentEntity) *AssignmentDTO {
	if a == nil {
		return nil
	}
	return &AssignmentDTO{
		ID:          a.ID(),
		JobID:       a.JobID(),
		EncoderID:   a.EncoderID(),
		InputPath:   a.InputPath(),
		OutputPath:  a.OutputPath(),
		Profile:     a.Profile(),
		Status:      a.Status().String(),
		Attempt:     a.Attempt(),
		MaxAttempts: a.MaxAttempts(),
		Progress:    a.Progress(),
		FPS:         a.FPS(),
		Speed:       a.Speed(),
		ETASeconds:  a.ETASeconds(),
		OutputMeta:  a.OutputMeta(),
		Error:       a.Error(),
		CreatedAt:   a.CreatedAt(),
		UpdatedAt:   a.UpdatedAt(),
		StartedAt:   a.StartedAt(),
		FinishedAt:  a.FinishedAt(),
	}
}
