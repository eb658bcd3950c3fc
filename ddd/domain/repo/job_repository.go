package repo

import (
	"context"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
)

// JobFilter 任务列表查询条件
type JobFilter struct {
	Status   vo.JobStatus
	Type     string
	WorkerID string
	Limit    int
	Offset   int
}

// JobStatistics 任务统计信息
type JobStatistics struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
	ByType   map[string]int64 `json:"byType"`
}

// JobRepository 队列任务仓储接口
// 所有状态变更都是以 version 为条件的更新，成功后实体版本号 +1
type JobRepository interface {
	// CreateJob 创建任务；去重键冲突时返回 ErrDuplicateDedupeKey
	CreateJob(ctx context.Context, job *entity.JobEntity) error

	// GetJobByID 根据ID获取任务，不存在返回 nil
	GetJobByID(ctx context.Context, jobID string) (*entity.JobEntity, error)

	// GetActiveJobByDedupeKey 获取占用去重键的活跃任务
	GetActiveJobByDedupeKey(ctx context.Context, dedupeKey string) (*entity.JobEntity, error)

	// ListClaimable 可领取的任务，按 priority 升序、created_at 升序
	ListClaimable(ctx context.Context, types []string, now time.Time, limit int) ([]*entity.JobEntity, error)

	// UpdateJob 条件更新；版本不匹配返回 ErrVersionConflict
	UpdateJob(ctx context.Context, job *entity.JobEntity) error

	// ListJobs 分页列表
	ListJobs(ctx context.Context, filter JobFilter) ([]*entity.JobEntity, int64, error)

	// ListRunningJobs 运行中的任务，供回收使用
	ListRunningJobs(ctx context.Context) ([]*entity.JobEntity, error)

	// DeleteFinishedBefore 删除 cutoff 之前结束的终态任务
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetJobStatistics 按状态/类型统计
	GetJobStatistics(ctx context.Context) (*JobStatistics, error)
}

// WorkerRepository Worker仓储接口
type WorkerRepository interface {
	// SaveWorker 注册或覆盖 Worker
	SaveWorker(ctx context.Context, worker *entity.WorkerEntity) error

	// GetWorkerByID 根据ID获取Worker，不存在返回 nil
	GetWorkerByID(ctx context.Context, workerID string) (*entity.WorkerEntity, error)

	// ListWorkers 获取所有Worker
	ListWorkers(ctx context.Context) ([]*entity.WorkerEntity, error)

	// TouchHeartbeat 仅更新 active Worker 的心跳，返回是否命中
	TouchHeartbeat(ctx context.Context, workerID string, now time.Time) (bool, error)

	// MarkDeadIfStale active 且心跳早于 staleBefore 时标记为 dead，返回是否命中
	MarkDeadIfStale(ctx context.Context, workerID string, staleBefore, now time.Time) (bool, error)
}
