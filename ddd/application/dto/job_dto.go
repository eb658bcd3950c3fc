package dto

import (
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/service"
)

// PageDTO 分页结果
type PageDTO[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

// JobDTO 队列任务
type JobDTO struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	DedupeKey       string                 `json:"dedupeKey,omitempty"`
	Status          string                 `json:"status"`
	Priority        int                    `json:"priority"`
	Attempts        int                    `json:"attempts"`
	MaxAttempts     int                    `json:"maxAttempts"`
	LockedBy        string                 `json:"lockedBy,omitempty"`
	LockedAt        *time.Time             `json:"lockedAt,omitempty"`
	ProgressCurrent int64                  `json:"progressCurrent"`
	ProgressTotal   int64                  `json:"progressTotal"`
	ProgressMessage string                 `json:"progressMessage,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CancelRequested bool                   `json:"cancelRequested"`
	RunAt           time.Time              `json:"runAt"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
	StartedAt       *time.Time             `json:"startedAt,omitempty"`
	FinishedAt      *time.Time             `json:"finishedAt,omitempty"`
}

func NewJobDTO(job *entity.JobEntity) *JobDTO {
	if job == nil {
		return nil
	}
	return &JobDTO{
		ID:              job.ID(),
		Type:            job.Type(),
		Payload:         job.Payload(),
		DedupeKey:       job.DedupeKey(),
		Status:          job.Status().String(),
		Priority:        job.Priority(),
		Attempts:        job.Attempts(),
		MaxAttempts:     job.MaxAttempts(),
		LockedBy:        job.LockedBy(),
		LockedAt:        job.LockedAt(),
		ProgressCurrent: job.ProgressCurrent(),
		ProgressTotal:   job.ProgressTotal(),
		ProgressMessage: job.ProgressMessage(),
		Result:          job.Result(),
		Error:           job.Error(),
		CancelRequested: job.CancelRequested(),
		RunAt:           job.RunAt(),
		CreatedAt:       job.CreatedAt(),
		UpdatedAt:       job.UpdatedAt(),
		StartedAt:       job.StartedAt(),
		FinishedAt:      job.FinishedAt(),
	}
}

func NewJobDTOList(jobs []*entity.JobEntity) []*JobDTO {
	list := make([]*JobDTO, 0, len(jobs))
	for _, j := range jobs {
		list = append(list, NewJobDTO(j))
	}
	return list
}

// CleanupResultDTO 清理结果
type CleanupResultDTO struct {
	Deleted int64 `json:"deleted"`
}

// WorkerDTO Worker 及其持有的任务
type WorkerDTO struct {
	ID            string     `json:"id"`
	Hostname      string     `json:"hostname"`
	PID           int        `json:"pid"`
	Status        string     `json:"status"`
	Concurrency   int        `json:"concurrency"`
	JobTypes      []string   `json:"jobTypes"`
	LastHeartbeat time.Time  `json:"lastHeartbeat"`
	StartedAt     time.Time  `json:"startedAt"`
	StoppedAt     *time.Time `json:"stoppedAt,omitempty"`
	RunningJobIDs []string   `json:"runningJobIds"`
}

func NewWorkerDTO(v service.WorkerView) *WorkerDTO {
	w := v.Worker
	running := v.RunningJobIDs
	if running == nil {
		running = []string{}
	}
	return &WorkerDTO{
		ID:            w.ID(),
		Hostname:      w.Hostname(),
		PID:           w.PID(),
		Status:        w.Status().String(),
		Concurrency:   w.Concurrency(),
		JobTypes:      w.JobTypes(),
		LastHeartbeat: w.LastHeartbeat(),
		StartedAt:     w.StartedAt(),
		StoppedAt:     w.StoppedAt(),
		RunningJobIDs: running,
	}
}
