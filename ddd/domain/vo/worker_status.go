package vo

// WorkerStatus Worker状态
type WorkerStatus string

const (
	// WorkerStatusActive 运行中
	WorkerStatusActive WorkerStatus = "active"
	// WorkerStatusStopped 正常退出
	WorkerStatusStopped WorkerStatus = "stopped"
	// WorkerStatusDead 心跳超时
	WorkerStatusDead WorkerStatus = "dead"
)

// IsValid 检查状态是否有效
func (s WorkerStatus) IsValid() bool {
	switch s {
	case WorkerStatusActive, WorkerStatusStopped, WorkerStatusDead:
		return true
	default:
		return false
	}
}

// String 返回状态字符串
func (s WorkerStatus) String() string {
	return string(s)
}

// CanClaim 只有 active 的 Worker 可以领取任务
func (s WorkerStatus) CanClaim() bool {
	return s == WorkerStatusActive
}
