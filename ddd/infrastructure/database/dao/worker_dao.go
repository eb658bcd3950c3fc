package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"acquisition-service/ddd/infrastructure/database/po"
)

// WorkerDao Worker数据访问对象
type WorkerDao struct {
	db *gorm.DB
}

// NewWorkerDao 创建Worker DAO
func NewWorkerDao(db *gorm.DB) *WorkerDao {
	return &WorkerDao{
		db: db,
	}
}

// Upsert 按 worker_id 插入或覆盖
func (d *WorkerDao) Upsert(ctx context.Context, worker *po.WorkerPO) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		UpdateAll: true,
	}).Create(worker).Error
}

// GetByWorkerID 根据WorkerID获取Worker
func (d *WorkerDao) GetByWorkerID(ctx context.Context, workerID string) (*po.WorkerPO, error) {
	var worker po.WorkerPO
	err := d.db.WithContext(ctx).Where("worker_id = ?", workerID).First(&worker).Error
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

// GetAll 获取所有Worker
func (d *WorkerDao) GetAll(ctx context.Context) ([]*po.WorkerPO, error) {
	var workers []*po.WorkerPO
	err := d.db.WithContext(ctx).Order("started_at ASC").Find(&workers).Error
	return workers, err
}

// TouchHeartbeat 仅更新 active Worker 的心跳
func (d *WorkerDao) TouchHeartbeat(ctx context.Context, workerID string, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.WorkerPO{}).
		Where("worker_id = ? AND status = ?", workerID, "active").
		Updates(map[string]interface{}{
			"last_heartbeat": now,
			"updated_at":     now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkDeadIfStale 心跳超时的 active Worker 标记为 dead
func (d *WorkerDao) MarkDeadIfStale(ctx context.Context, workerID string, staleBefore, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.WorkerPO{}).
		Where("worker_id = ? AND status = ? AND last_heartbeat < ?", workerID, "active", staleBefore).
		Updates(map[string]interface{}{
			"status":     "dead",
			"stopped_at": now,
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}
