package vo

// JobStatus 队列任务状态
type JobStatus string

const (
	// JobStatusPending 待领取
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning 执行中
	JobStatusRunning JobStatus = "running"
	// JobStatusPaused 已暂停
	JobStatusPaused JobStatus = "paused"
	// JobStatusCompleted 已完成
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed 失败
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled 已取消
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValid 检查状态是否有效
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusPaused,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// String 返回状态字符串
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal 检查是否为最终状态
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive 占用 dedupeKey 的状态
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusPaused
}

// CanTransitionTo 检查是否可以转换到目标状态
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target == JobStatusRunning || target == JobStatusPaused || target == JobStatusCancelled
	case JobStatusPaused:
		return target == JobStatusPending || target == JobStatusCancelled
	case JobStatusRunning:
		return target == JobStatusPending || target == JobStatusCompleted ||
			target == JobStatusFailed || target == JobStatusCancelled
	case JobStatusFailed, JobStatusCancelled:
		// 只允许人工重试
		return target == JobStatusPending
	default:
		return false
	}
}

// ActiveJobStatuses 活跃状态列表
func ActiveJobStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning, JobStatusPaused}
}

// TerminalJobStatuses 终态列表
func TerminalJobStatuses() []JobStatus {
	return []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
}
