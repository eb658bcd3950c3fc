package repo

import (
	"context"
	"time"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
)

// EncoderRepository 远程编码节点仓储接口
// current_jobs 不会被这里的写入修改，只能通过 AssignmentRepository 的事务操作变化
type EncoderRepository interface {
	// SaveEncoder 注册或更新节点描述信息
	SaveEncoder(ctx context.Context, enc *entity.RemoteEncoderEntity) error

	// GetEncoderByID 不存在返回 nil
	GetEncoderByID(ctx context.Context, encoderID string) (*entity.RemoteEncoderEntity, error)

	ListEncoders(ctx context.Context) ([]*entity.RemoteEncoderEntity, error)

	// TouchHeartbeat 刷新心跳，OFFLINE 节点按 current_jobs 恢复为 IDLE/ENCODING
	TouchHeartbeat(ctx context.Context, encoderID string, now time.Time) (bool, error)

	// MarkOfflineIfStale 心跳早于 staleBefore 且未离线时置为 OFFLINE，返回是否命中
	MarkOfflineIfStale(ctx context.Context, encoderID string, staleBefore, now time.Time) (bool, error)
}

// ReleaseOutcome 分配释放节点槽位的原因，决定节点统计的变化
type ReleaseOutcome int

const (
	ReleaseCompleted ReleaseOutcome = iota
	ReleaseFailed
	ReleaseRequeued
	ReleaseCancelled
)

// AssignmentFilter 分配列表查询条件
type AssignmentFilter struct {
	Statuses  []vo.AssignmentStatus
	EncoderID string
	JobID     string
	Limit     int
	Offset    int
}

// AssignmentRepository 编码分配仓储接口
type AssignmentRepository interface {
	CreateAssignment(ctx context.Context, a *entity.EncoderAssignmentEntity) error

	// GetAssignmentByID 不存在返回 nil
	GetAssignmentByID(ctx context.Context, assignmentID string) (*entity.EncoderAssignmentEntity, error)

	// GetLatestAssignmentByJobID 任务最近一次的分配，不存在返回 nil
	GetLatestAssignmentByJobID(ctx context.Context, jobID string) (*entity.EncoderAssignmentEntity, error)

	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]*entity.EncoderAssignmentEntity, int64, error)

	// ListPendingAssignments 按创建时间升序
	ListPendingAssignments(ctx context.Context) ([]*entity.EncoderAssignmentEntity, error)

	// UpdateAssignment 不涉及节点槽位的条件更新（进度、PENDING 状态下的取消）
	UpdateAssignment(ctx context.Context, a *entity.EncoderAssignmentEntity) error

	// AssignToEncoder 事务：节点 current_jobs<max_concurrent 时 +1，同时条件更新分配为 ENCODING
	// 节点已满返回 ErrCapacityExhausted，分配版本不匹配返回 ErrVersionConflict
	AssignToEncoder(ctx context.Context, a *entity.EncoderAssignmentEntity) error

	// ReleaseFromEncoder 事务：条件更新分配的终态/回退，同时节点 current_jobs-1 并累计统计
	ReleaseFromEncoder(ctx context.Context, a *entity.EncoderAssignmentEntity, encoderID string, outcome ReleaseOutcome) error
}
