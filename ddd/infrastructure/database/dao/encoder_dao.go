package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"acquisition-service/ddd/infrastructure/database/po"
)

var acceptingStatuses = []string{"IDLE", "ENCODING"}

// busyStatusExpr 按 current_jobs 回到 IDLE/ENCODING
var busyStatusExpr = gorm.Expr("CASE WHEN current_jobs > 0 THEN 'ENCODING' ELSE 'IDLE' END")

// EncoderDao 编码节点数据访问对象
type EncoderDao struct {
	db *gorm.DB
}

func NewEncoderDao(db *gorm.DB) *EncoderDao {
	return &EncoderDao{db: db}
}

// Save 注册或更新描述信息；计数器、统计与注册时间保持不变
func (d *EncoderDao) Save(ctx context.Context, enc *po.EncoderPO) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "encoder_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "capabilities", "status", "max_concurrent", "last_heartbeat", "updated_at"}),
		}).Create(enc).Error
		if err != nil {
			return err
		}
		return tx.Model(&po.EncoderPO{}).
			Where("encoder_id = ? AND status IN ?", enc.EncoderID, acceptingStatuses).
			Update("status", busyStatusExpr).Error
	})
}

func (d *EncoderDao) GetByEncoderID(ctx context.Context, encoderID string) (*po.EncoderPO, error) {
	var enc po.EncoderPO
	if err := d.db.WithContext(ctx).Where("encoder_id = ?", encoderID).First(&enc).Error; err != nil {
		return nil, err
	}
	return &enc, nil
}

func (d *EncoderDao) GetAll(ctx context.Context) ([]*po.EncoderPO, error) {
	var list []*po.EncoderPO
	err := d.db.WithContext(ctx).Order("encoder_id ASC").Find(&list).Error
	return list, err
}

// TouchHeartbeat 刷新心跳，OFFLINE 节点按 current_jobs 恢复
func (d *EncoderDao) TouchHeartbeat(ctx context.Context, encoderID string, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.EncoderPO{}).
		Where("encoder_id = ?", encoderID).
		Updates(map[string]interface{}{
			"last_heartbeat": now,
			"updated_at":     now,
			"status":         gorm.Expr("CASE WHEN status = 'OFFLINE' THEN (CASE WHEN current_jobs > 0 THEN 'ENCODING' ELSE 'IDLE' END) ELSE status END"),
		})
	return res.RowsAffected > 0, res.Error
}

func (d *EncoderDao) MarkOfflineIfStale(ctx context.Context, encoderID string, staleBefore, now time.Time) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.EncoderPO{}).
		Where("encoder_id = ? AND status <> ? AND last_heartbeat < ?", encoderID, "OFFLINE", staleBefore).
		Updates(map[string]interface{}{
			"status":     "OFFLINE",
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// AssignmentDao 编码分配数据访问对象
type AssignmentDao struct {
	db *gorm.DB
}

func NewAssignmentDao(db *gorm.DB) *AssignmentDao {
	return &AssignmentDao{db: db}
}

func (d *AssignmentDao) Create(ctx context.Context, a *po.AssignmentPO) error {
	return d.db.WithContext(ctx).Create(a).Error
}

func (d *AssignmentDao) GetByAssignmentID(ctx context.Context, assignmentID string) (*po.AssignmentPO, error) {
	var a po.AssignmentPO
	if err := d.db.WithContext(ctx).Where("assignment_id = ?", assignmentID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *AssignmentDao) GetLatestByJobID(ctx context.Context, jobID string) (*po.AssignmentPO, error) {
	var a po.AssignmentPO
	if err := d.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id DESC").First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *AssignmentDao) List(ctx context.Context, statuses []string, encoderID, jobID string, offset, limit int) ([]*po.AssignmentPO, int64, error) {
	q := d.db.WithContext(ctx).Model(&po.AssignmentPO{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if encoderID != "" {
		q = q.Where("encoder_id = ?", encoderID)
	}
	if jobID != "" {
		q = q.Where("job_id = ?", jobID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*po.AssignmentPO
	err := applyPage(q.Order("id DESC"), offset, limit).Find(&list).Error
	return list, total, err
}

func (d *AssignmentDao) ListByStatus(ctx context.Context, status string) ([]*po.AssignmentPO, error) {
	var list []*po.AssignmentPO
	err := d.db.WithContext(ctx).Where("status = ?", status).Order("id ASC").Find(&list).Error
	return list, err
}

func (d *AssignmentDao) UpdateWithVersion(ctx context.Context, a *po.AssignmentPO, expected int64) (bool, error) {
	return updateAssignment(d.db.WithContext(ctx), a, expected)
}

func updateAssignment(tx *gorm.DB, a *po.AssignmentPO, expected int64) (bool, error) {
	res := tx.Model(&po.AssignmentPO{}).
		Where("assignment_id = ? AND version = ?", a.AssignmentID, expected).
		Select("*").Omit(casOmit...).
		Updates(a)
	return res.RowsAffected > 0, res.Error
}

// AssignTx 事务：占用节点槽位并条件更新分配
// 返回 (slot, updated)，slot=false 表示节点已满
func (d *AssignmentDao) AssignTx(ctx context.Context, a *po.AssignmentPO, expected int64) (bool, bool, error) {
	var slot, updated bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&po.EncoderPO{}).
			Where("encoder_id = ? AND status IN ? AND current_jobs < max_concurrent", a.EncoderID, acceptingStatuses).
			Updates(map[string]interface{}{
				"current_jobs": gorm.Expr("current_jobs + 1"),
				"status":       "ENCODING",
				"updated_at":   a.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		slot = true
		ok, err := updateAssignment(tx, a, expected)
		if err != nil {
			return err
		}
		if !ok {
			return errRollback
		}
		updated = true
		return nil
	})
	if errors.Is(err, errRollback) {
		return slot, false, nil
	}
	return slot, updated, err
}

// ReleaseTx 事务：条件更新分配并归还节点槽位
func (d *AssignmentDao) ReleaseTx(ctx context.Context, a *po.AssignmentPO, expected int64, encoderID string, completed, failed int64) (bool, error) {
	var updated bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := updateAssignment(tx, a, expected)
		if err != nil || !ok {
			return err
		}
		updated = true
		err = tx.Model(&po.EncoderPO{}).
			Where("encoder_id = ?", encoderID).
			Updates(map[string]interface{}{
				"current_jobs":    gorm.Expr("CASE WHEN current_jobs > 0 THEN current_jobs - 1 ELSE 0 END"),
				"total_completed": gorm.Expr("total_completed + ?", completed),
				"total_failed":    gorm.Expr("total_failed + ?", failed),
				"updated_at":      a.UpdatedAt,
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&po.EncoderPO{}).
			Where("encoder_id = ? AND status IN ?", encoderID, acceptingStatuses).
			Update("status", busyStatusExpr).Error
	})
	return updated, err
}
