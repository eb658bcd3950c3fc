package entity

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// JobState 任务的完整持久化状态
type JobState struct {
	ID              string
	Type            string
	Payload         map[string]interface{}
	DedupeKey       string
	Status          vo.JobStatus
	Priority        int
	Attempts        int
	MaxAttempts     int
	LockedBy        string
	LockedAt        *time.Time
	ProgressCurrent int64
	ProgressTotal   int64
	ProgressMessage string
	Result          map[string]interface{}
	Error           string
	CancelRequested bool
	RunAt           time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	Version         int64
}

// JobEntity 队列任务实体
type JobEntity struct {
	st JobState
}

// NewJobEntity 创建待领取的任务
func NewJobEntity(id, jobType string, payload map[string]interface{}, dedupeKey string, priority, maxAttempts int, now time.Time) *JobEntity {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &JobEntity{st: JobState{
		ID:          id,
		Type:        jobType,
		Payload:     payload,
		DedupeKey:   dedupeKey,
		Status:      vo.JobStatusPending,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}}
}

// RestoreJobEntity 从持久化状态重建实体
func RestoreJobEntity(st JobState) *JobEntity {
	return &JobEntity{st: st}
}

// State 返回状态副本
func (j *JobEntity) State() JobState {
	st := j.st
	st.Payload = copyMap(j.st.Payload)
	st.Result = copyMap(j.st.Result)
	return st
}

// Getters
func (j *JobEntity) ID() string                      { return j.st.ID }
func (j *JobEntity) Type() string                    { return j.st.Type }
func (j *JobEntity) Payload() map[string]interface{} { return j.st.Payload }
func (j *JobEntity) DedupeKey() string               { return j.st.DedupeKey }
func (j *JobEntity) Status() vo.JobStatus            { return j.st.Status }
func (j *JobEntity) Priority() int                   { return j.st.Priority }
func (j *JobEntity) Attempts() int                   { return j.st.Attempts }
func (j *JobEntity) MaxAttempts() int                { return j.st.MaxAttempts }
func (j *JobEntity) LockedBy() string                { return j.st.LockedBy }
func (j *JobEntity) LockedAt() *time.Time            { return j.st.LockedAt }
func (j *JobEntity) ProgressCurrent() int64          { return j.st.ProgressCurrent }
func (j *JobEntity) ProgressTotal() int64            { return j.st.ProgressTotal }
func (j *JobEntity) ProgressMessage() string         { return j.st.ProgressMessage }
func (j *JobEntity) Result() map[string]interface{}  { return j.st.Result }
func (j *JobEntity) Error() string                   { return j.st.Error }
func (j *JobEntity) CancelRequested() bool           { return j.st.CancelRequested }
func (j *JobEntity) RunAt() time.Time                { return j.st.RunAt }
func (j *JobEntity) CreatedAt() time.Time            { return j.st.CreatedAt }
func (j *JobEntity) UpdatedAt() time.Time            { return j.st.UpdatedAt }
func (j *JobEntity) StartedAt() *time.Time           { return j.st.StartedAt }
func (j *JobEntity) FinishedAt() *time.Time          { return j.st.FinishedAt }
func (j *JobEntity) Version() int64                  { return j.st.Version }

// ActiveDedupeKey 活跃状态下占用的去重键，终态返回空
func (j *JobEntity) ActiveDedupeKey() string {
	if j.st.DedupeKey == "" || !j.st.Status.IsActive() {
		return ""
	}
	return j.st.DedupeKey
}

// SyncVersion 仓储写入成功后同步版本号
func (j *JobEntity) SyncVersion(v int64) {
	j.st.Version = v
}

// IsClaimable 是否可被领取
func (j *JobEntity) IsClaimable(now time.Time) bool {
	return j.st.Status == vo.JobStatusPending && !j.st.RunAt.After(now)
}

// Claim 领取任务：pending -> running，attempts+1
func (j *JobEntity) Claim(workerID string, now time.Time) error {
	if !j.st.Status.CanTransitionTo(vo.JobStatusRunning) {
		return NewDomainError("cannot claim job in status: " + j.st.Status.String())
	}
	if j.st.RunAt.After(now) {
		return NewDomainError("job is backing off until " + j.st.RunAt.Format(time.RFC3339))
	}
	if j.st.Attempts >= j.st.MaxAttempts {
		return NewDomainError("job has exhausted its attempts")
	}
	j.st.Status = vo.JobStatusRunning
	j.st.LockedBy = workerID
	j.st.LockedAt = timePtr(now)
	j.st.StartedAt = timePtr(now)
	j.st.Attempts++
	j.st.ProgressCurrent, j.st.ProgressTotal, j.st.ProgressMessage = 0, 0, ""
	j.st.UpdatedAt = now
	return nil
}

func (j *JobEntity) checkLease(workerID string) error {
	if j.st.Status != vo.JobStatusRunning {
		return NewDomainError("job is not running: " + j.st.Status.String())
	}
	if j.st.LockedBy != workerID {
		return ErrLeaseLost
	}
	return nil
}

// ReportProgress 更新进度
func (j *JobEntity) ReportProgress(workerID string, current, total int64, message string, now time.Time) error {
	if err := j.checkLease(workerID); err != nil {
		return err
	}
	j.st.ProgressCurrent = current
	j.st.ProgressTotal = total
	j.st.ProgressMessage = message
	j.st.UpdatedAt = now
	return nil
}

// Complete 完成任务
func (j *JobEntity) Complete(workerID string, result map[string]interface{}, now time.Time) error {
	if err := j.checkLease(workerID); err != nil {
		return err
	}
	j.st.Status = vo.JobStatusCompleted
	j.st.Result = result
	j.st.Error = ""
	if j.st.ProgressTotal > 0 {
		j.st.ProgressCurrent = j.st.ProgressTotal
	}
	j.finish(now)
	return nil
}

// Fail 记录失败；retryable 且仍有次数时回到 pending 并在 delay 后可再领取
func (j *JobEntity) Fail(workerID, errMsg string, retryable bool, delay time.Duration, now time.Time) (bool, error) {
	if err := j.checkLease(workerID); err != nil {
		return false, err
	}
	return j.failOrRequeue(errMsg, retryable, delay, now), nil
}

// ForceRequeue 持有者失联时由系统回收，已计入的 attempt 不返还
func (j *JobEntity) ForceRequeue(reason string, now time.Time) (bool, error) {
	if j.st.Status != vo.JobStatusRunning {
		return false, NewDomainError("cannot requeue job in status: " + j.st.Status.String())
	}
	return j.failOrRequeue(reason, true, 0, now), nil
}

func (j *JobEntity) failOrRequeue(errMsg string, retryable bool, delay time.Duration, now time.Time) bool {
	j.st.Error = errMsg
	if retryable && j.st.Attempts < j.st.MaxAttempts && !j.st.CancelRequested {
		j.st.Status = vo.JobStatusPending
		j.st.LockedBy = ""
		j.st.LockedAt = nil
		j.st.RunAt = now.Add(delay)
		j.st.UpdatedAt = now
		return true
	}
	if j.st.CancelRequested {
		j.st.Status = vo.JobStatusCancelled
	} else {
		j.st.Status = vo.JobStatusFailed
	}
	j.finish(now)
	return false
}

// RequestCancellation 未运行的任务立即取消，运行中的只设置标记
func (j *JobEntity) RequestCancellation(now time.Time) (bool, error) {
	switch j.st.Status {
	case vo.JobStatusPending, vo.JobStatusPaused:
		j.st.Status = vo.JobStatusCancelled
		j.st.Error = "cancelled before execution"
		j.finish(now)
		return true, nil
	case vo.JobStatusRunning:
		j.st.CancelRequested = true
		j.st.UpdatedAt = now
		return false, nil
	default:
		return false, NewDomainError("cannot cancel job in status: " + j.st.Status.String())
	}
}

// MarkCancelled 执行器确认取消
func (j *JobEntity) MarkCancelled(workerID string, now time.Time) error {
	if err := j.checkLease(workerID); err != nil {
		return err
	}
	j.st.Status = vo.JobStatusCancelled
	if j.st.Error == "" {
		j.st.Error = "cancelled during execution"
	}
	j.finish(now)
	return nil
}

// Pause 暂停待领取的任务
func (j *JobEntity) Pause(now time.Time) error {
	if j.st.Status != vo.JobStatusPending {
		return NewDomainError("only pending jobs can be paused, current: " + j.st.Status.String())
	}
	j.st.Status = vo.JobStatusPaused
	j.st.UpdatedAt = now
	return nil
}

// Resume 恢复暂停的任务
func (j *JobEntity) Resume(now time.Time) error {
	if j.st.Status != vo.JobStatusPaused {
		return NewDomainError("only paused jobs can be resumed, current: " + j.st.Status.String())
	}
	j.st.Status = vo.JobStatusPending
	j.st.UpdatedAt = now
	return nil
}

// Retry 人工重试失败/取消的任务，重置尝试次数
func (j *JobEntity) Retry(now time.Time) error {
	if j.st.Status != vo.JobStatusFailed && j.st.Status != vo.JobStatusCancelled {
		return NewDomainError("only failed or cancelled jobs can be retried, current: " + j.st.Status.String())
	}
	j.st.Status = vo.JobStatusPending
	j.st.Attempts = 0
	j.st.Error = ""
	j.st.Result = nil
	j.st.CancelRequested = false
	j.st.ProgressCurrent, j.st.ProgressTotal, j.st.ProgressMessage = 0, 0, ""
	j.st.StartedAt = nil
	j.st.FinishedAt = nil
	j.st.RunAt = now
	j.st.UpdatedAt = now
	return nil
}

func (j *JobEntity) finish(now time.Time) {
	j.st.LockedBy = ""
	j.st.LockedAt = nil
	j.st.FinishedAt = timePtr(now)
	j.st.UpdatedAt = now
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
