package po

import "time"

// JobPO 队列任务持久化对象
// ActiveDedupeKey 只在任务处于活跃状态时有值，唯一索引保证同一去重键只有一个活跃任务
type JobPO struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID           string     `gorm:"uniqueIndex;size:36;not null" json:"job_id"`
	Type            string     `gorm:"index:idx_jobs_claim,priority:2;size:32;not null" json:"type"`
	Payload         JSONMap    `gorm:"type:json" json:"payload"`
	DedupeKey       string     `gorm:"size:191;index" json:"dedupe_key"`
	ActiveDedupeKey *string    `gorm:"size:191;uniqueIndex" json:"-"`
	Status          string     `gorm:"index:idx_jobs_claim,priority:1;size:20;not null" json:"status"`
	Priority        int        `gorm:"index:idx_jobs_claim,priority:3;default:0" json:"priority"`
	Attempts        int        `gorm:"default:0" json:"attempts"`
	MaxAttempts     int        `gorm:"default:3" json:"max_attempts"`
	LockedBy        string     `gorm:"index;size:36" json:"locked_by"`
	LockedAt        *time.Time `json:"locked_at"`
	ProgressCurrent int64      `gorm:"default:0" json:"progress_current"`
	ProgressTotal   int64      `gorm:"default:0" json:"progress_total"`
	ProgressMessage string     `gorm:"size:500" json:"progress_message"`
	Result          JSONMap    `gorm:"type:json" json:"result"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message"`
	CancelRequested bool       `gorm:"default:false" json:"cancel_requested"`
	RunAt           time.Time  `gorm:"index;precision:3" json:"run_at"`
	CreatedAt       time.Time  `gorm:"index;precision:3;autoCreateTime:false" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"precision:3;autoUpdateTime:false" json:"updated_at"`
	StartedAt       *time.Time `gorm:"precision:3" json:"started_at"`
	FinishedAt      *time.Time `gorm:"index;precision:3" json:"finished_at"`
	Version         int64      `gorm:"not null;default:0" json:"version"`
}

// TableName 指定表名
func (JobPO) TableName() string {
	return "queue_jobs"
}

// WorkerPO Worker持久化对象
type WorkerPO struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkerID      string         `gorm:"uniqueIndex;size:36;not null" json:"worker_id"`
	Hostname      string         `gorm:"size:255;not null" json:"hostname"`
	PID           int            `json:"pid"`
	Status        string         `gorm:"index;size:20;not null" json:"status"`
	Concurrency   int            `gorm:"not null" json:"concurrency"`
	JobTypes      JSON[[]string] `gorm:"type:json" json:"job_types"`
	LastHeartbeat time.Time      `gorm:"index;precision:3" json:"last_heartbeat"`
	StartedAt     time.Time      `gorm:"precision:3" json:"started_at"`
	StoppedAt     *time.Time     `gorm:"precision:3" json:"stopped_at"`
	UpdatedAt     time.Time      `gorm:"precision:3;autoUpdateTime:false" json:"updated_at"`
}

// TableName 指定表名
func (WorkerPO) TableName() string {
	return "workers"
}
