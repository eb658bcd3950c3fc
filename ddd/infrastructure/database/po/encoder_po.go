package po

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// EncoderPO 远程编码节点持久化对象
type EncoderPO struct {
	ID             uint                  `gorm:"primaryKey;autoIncrement" json:"id"`
	EncoderID      string                `gorm:"uniqueIndex;size:64;not null" json:"encoder_id"`
	Name           string                `gorm:"size:255" json:"name"`
	Capabilities   JSON[vo.Capabilities] `gorm:"type:json" json:"capabilities"`
	Status         string                `gorm:"index;size:20;not null" json:"status"`
	MaxConcurrent  int                   `gorm:"not null;default:1" json:"max_concurrent"`
	CurrentJobs    int                   `gorm:"not null;default:0" json:"current_jobs"`
	LastHeartbeat  time.Time             `gorm:"precision:3" json:"last_heartbeat"`
	TotalCompleted int64                 `gorm:"default:0" json:"total_completed"`
	TotalFailed    int64                 `gorm:"default:0" json:"total_failed"`
	RegisteredAt   time.Time             `gorm:"precision:3" json:"registered_at"`
	UpdatedAt      time.Time             `gorm:"precision:3;autoUpdateTime:false" json:"updated_at"`
}

// TableName 指定表名
func (EncoderPO) TableName() string {
	return "remote_encoders"
}

// AssignmentPO 编码分配持久化对象
type AssignmentPO struct {
	ID           uint                   `gorm:"primaryKey;autoIncrement" json:"id"`
	AssignmentID string                 `gorm:"uniqueIndex;size:36;not null" json:"assignment_id"`
	JobID        string                 `gorm:"index;size:36;not null" json:"job_id"`
	EncoderID    string                 `gorm:"index;size:64" json:"encoder_id"`
	InputPath    string                 `gorm:"size:1024" json:"input_path"`
	OutputPath   string                 `gorm:"size:1024" json:"output_path"`
	Profile      JSON[vo.EncodeProfile] `gorm:"type:json" json:"profile"`
	Status       string                 `gorm:"index;size:20;not null" json:"status"`
	Attempt      int                    `gorm:"default:0" json:"attempt"`
	MaxAttempts  int                    `gorm:"default:1" json:"max_attempts"`
	Progress     float64                `json:"progress"`
	FPS          float64                `json:"fps"`
	Speed        float64                `json:"speed"`
	ETASeconds   int64                  `json:"eta_seconds"`
	OutputMeta   JSONMap                `gorm:"type:json" json:"output_meta"`
	Error        string                 `gorm:"type:text" json:"error"`
	CreatedAt    time.Time              `gorm:"index;precision:3;autoCreateTime:false" json:"created_at"`
	UpdatedAt    time.Time              `gorm:"precision:3;autoUpdateTime:false" json:"updated_at"`
	StartedAt    *time.Time             `gorm:"precision:3" json:"started_at"`
	FinishedAt   *time.Time             `gorm:"precision:3" json:"finished_at"`
	Version      int64                  `gorm:"not null;default:0" json:"version"`
}

// TableName 指定表名
func (AssignmentPO) TableName() string {
	return "encoder_assignments"
}
