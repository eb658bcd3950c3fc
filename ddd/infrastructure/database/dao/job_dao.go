package dao

import (
	"context"
	"time"

	"gorm.io/gorm"

	"acquisition-service/ddd/infrastructure/database/po"
)

// JobDao 队列任务数据访问对象
type JobDao struct {
	db *gorm.DB
}

// NewJobDao 创建任务DAO
func NewJobDao(db *gorm.DB) *JobDao {
	return &JobDao{db: db}
}

// Create 创建任务
func (d *JobDao) Create(ctx context.Context, job *po.JobPO) error {
	return d.db.WithContext(ctx).Create(job).Error
}

// GetByJobID 根据JobID获取任务
func (d *JobDao) GetByJobID(ctx context.Context, jobID string) (*po.JobPO, error) {
	var job po.JobPO
	err := d.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByActiveDedupeKey 获取占用去重键的活跃任务
func (d *JobDao) GetByActiveDedupeKey(ctx context.Context, key string) (*po.JobPO, error) {
	var job po.JobPO
	err := d.db.WithContext(ctx).Where("active_dedupe_key = ?", key).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListClaimable 到期的待领取任务，按优先级、创建时间排序
func (d *JobDao) ListClaimable(ctx context.Context, types []string, now time.Time, limit int) ([]*po.JobPO, error) {
	var jobs []*po.JobPO
	q := d.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", "pending", now)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	err := applyPage(q.Order("priority ASC, created_at ASC, id ASC"), 0, limit).Find(&jobs).Error
	return jobs, err
}

// UpdateWithVersion 以 version 为条件整行更新，返回是否命中
func (d *JobDao) UpdateWithVersion(ctx context.Context, job *po.JobPO, expected int64) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.JobPO{}).
		Where("job_id = ? AND version = ?", job.JobID, expected).
		Select("*").Omit(casOmit...).
		Updates(job)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// List 分页查询，按创建顺序倒序
func (d *JobDao) List(ctx context.Context, status, jobType, workerID string, offset, limit int) ([]*po.JobPO, int64, error) {
	q := d.db.WithContext(ctx).Model(&po.JobPO{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if jobType != "" {
		q = q.Where("type = ?", jobType)
	}
	if workerID != "" {
		q = q.Where("locked_by = ?", workerID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var jobs []*po.JobPO
	err := applyPage(q.Order("id DESC"), offset, limit).Find(&jobs).Error
	return jobs, total, err
}

// GetByStatus 根据状态获取任务
func (d *JobDao) GetByStatus(ctx context.Context, status string) ([]*po.JobPO, error) {
	var jobs []*po.JobPO
	err := d.db.WithContext(ctx).Where("status = ?", status).Order("id ASC").Find(&jobs).Error
	return jobs, err
}

// DeleteFinishedBefore 删除 cutoff 之前结束的终态任务
func (d *JobDao) DeleteFinishedBefore(ctx context.Context, terminal []string, cutoff time.Time) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("status IN ? AND finished_at IS NOT NULL AND finished_at < ?", terminal, cutoff).
		Delete(&po.JobPO{})
	return res.RowsAffected, res.Error
}

// GroupCount 分组计数结果
type GroupCount struct {
	Key   string
	Count int64
}

// CountBy 按列分组计数
func (d *JobDao) CountBy(ctx context.Context, column string) ([]GroupCount, error) {
	var rows []GroupCount
	err := d.db.WithContext(ctx).Model(&po.JobPO{}).
		Select(column + " AS `key`, COUNT(*) AS count").
		Group(column).
		Scan(&rows).Error
	return rows, err
}
