package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/database/convertor"
	"acquisition-service/ddd/infrastructure/database/dao"
)

// jobRepositoryImpl 队列任务仓储实现
type jobRepositoryImpl struct {
	jobDao    *dao.JobDao
	convertor *convertor.JobConvertor
}

// NewJobRepository 创建任务仓储实现
func NewJobRepository(db *gorm.DB) repo.JobRepository {
	return &jobRepositoryImpl{
		jobDao:    dao.NewJobDao(db),
		convertor: convertor.NewJobConvertor(),
	}
}

// CreateJob 创建任务
func (r *jobRepositoryImpl) CreateJob(ctx context.Context, job *entity.JobEntity) error {
	err := r.jobDao.Create(ctx, r.convertor.EntityToPO(job))
	if err != nil && isDuplicate(err) && job.ActiveDedupeKey() != "" {
		return repo.ErrDuplicateDedupeKey
	}
	return err
}

// GetJobByID 根据ID获取任务
func (r *jobRepositoryImpl) GetJobByID(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	p, err := r.jobDao.GetByJobID(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToEntity(p), nil
}

// GetActiveJobByDedupeKey 获取占用去重键的活跃任务
func (r *jobRepositoryImpl) GetActiveJobByDedupeKey(ctx context.Context, dedupeKey string) (*entity.JobEntity, error) {
	p, err := r.jobDao.GetByActiveDedupeKey(ctx, dedupeKey)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToEntity(p), nil
}

// ListClaimable 可领取的任务
func (r *jobRepositoryImpl) ListClaimable(ctx context.Context, types []string, now time.Time, limit int) ([]*entity.JobEntity, error) {
	list, err := r.jobDao.ListClaimable(ctx, types, now, limit)
	if err != nil {
		return nil, err
	}
	return r.convertor.POListToEntityList(list), nil
}

// UpdateJob 条件更新
func (r *jobRepositoryImpl) UpdateJob(ctx context.Context, job *entity.JobEntity) error {
	expected := job.Version()
	p := r.convertor.EntityToPO(job)
	p.Version = expected + 1
	ok, err := r.jobDao.UpdateWithVersion(ctx, p, expected)
	if err != nil {
		if isDuplicate(err) {
			return repo.ErrDuplicateDedupeKey
		}
		return fmt.Errorf("update job %s: %w", job.ID(), err)
	}
	if !ok {
		return repo.ErrVersionConflict
	}
	job.SyncVersion(p.Version)
	return nil
}

// ListJobs 分页列表
func (r *jobRepositoryImpl) ListJobs(ctx context.Context, filter repo.JobFilter) ([]*entity.JobEntity, int64, error) {
	list, total, err := r.jobDao.List(ctx, filter.Status.String(), filter.Type, filter.WorkerID, filter.Offset, filter.Limit)
	if err != nil {
		return nil, 0, err
	}
	return r.convertor.POListToEntityList(list), total, nil
}

// ListRunningJobs 运行中的任务
func (r *jobRepositoryImpl) ListRunningJobs(ctx context.Context) ([]*entity.JobEntity, error) {
	list, err := r.jobDao.GetByStatus(ctx, vo.JobStatusRunning.String())
	if err != nil {
		return nil, err
	}
	return r.convertor.POListToEntityList(list), nil
}

// DeleteFinishedBefore 清理历史任务
func (r *jobRepositoryImpl) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	terminal := make([]string, 0, 3)
	for _, s := range vo.TerminalJobStatuses() {
		terminal = append(terminal, s.String())
	}
	return r.jobDao.DeleteFinishedBefore(ctx, terminal, cutoff)
}

// GetJobStatistics 按状态/类型统计
func (r *jobRepositoryImpl) GetJobStatistics(ctx context.Context) (*repo.JobStatistics, error) {
	stats := &repo.JobStatistics{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}
	byStatus, err := r.jobDao.CountBy(ctx, "status")
	if err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Key] = row.Count
		stats.Total += row.Count
	}
	byType, err := r.jobDao.CountBy(ctx, "type")
	if err != nil {
		return nil, err
	}
	for _, row := range byType {
		stats.ByType[row.Key] = row.Count
	}
	return stats, nil
}

// workerRepositoryImpl Worker仓储实现
type workerRepositoryImpl struct {
	workerDao *dao.WorkerDao
	convertor *convertor.WorkerConvertor
}

// NewWorkerRepository 创建Worker仓储实现
func NewWorkerRepository(db *gorm.DB) repo.WorkerRepository {
	return &workerRepositoryImpl{
		workerDao: dao.NewWorkerDao(db),
		convertor: convertor.NewWorkerConvertor(),
	}
}

// SaveWorker 注册或覆盖Worker
func (r *workerRepositoryImpl) SaveWorker(ctx context.Context, worker *entity.WorkerEntity) error {
	return r.workerDao.Upsert(ctx, r.convertor.EntityToPO(worker))
}

// GetWorkerByID 根据ID获取Worker
func (r *workerRepositoryImpl) GetWorkerByID(ctx context.Context, workerID string) (*entity.WorkerEntity, error) {
	p, err := r.workerDao.GetByWorkerID(ctx, workerID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r.convertor.POToEntity(p), nil
}

// ListWorkers 获取所有Worker
func (r *workerRepositoryImpl) ListWorkers(ctx context.Context) ([]*entity.WorkerEntity, error) {
	list, err := r.workerDao.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return r.convertor.POListToEntityList(list), nil
}

func (r *workerRepositoryImpl) TouchHeartbeat(ctx context.Context, workerID string, now time.Time) (bool, error) {
	return r.workerDao.TouchHeartbeat(ctx, workerID, now)
}

func (r *workerRepositoryImpl) MarkDeadIfStale(ctx context.Context, workerID string, staleBefore, now time.Time) (bool, error) {
	return r.workerDao.MarkDeadIfStale(ctx, workerID, staleBefore, now)
}
