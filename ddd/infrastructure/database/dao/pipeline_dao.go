package dao

import (
	"context"

	"gorm.io/gorm"

	"acquisition-service/ddd/infrastructure/database/po"
)

// TemplateDao 流水线模板数据访问对象
type TemplateDao struct {
	db *gorm.DB
}

func NewTemplateDao(db *gorm.DB) *TemplateDao {
	return &TemplateDao{db: db}
}

func (d *TemplateDao) Create(ctx context.Context, tpl *po.TemplatePO) error {
	return d.db.WithContext(ctx).Create(tpl).Error
}

// Update 覆盖模板内容，返回是否命中
func (d *TemplateDao) Update(ctx context.Context, tpl *po.TemplatePO) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.TemplatePO{}).
		Where("template_id = ?", tpl.TemplateID).
		Select("name", "media_type", "description", "steps", "updated_at").
		Updates(tpl)
	return res.RowsAffected > 0, res.Error
}

func (d *TemplateDao) GetByTemplateID(ctx context.Context, templateID string) (*po.TemplatePO, error) {
	var tpl po.TemplatePO
	if err := d.db.WithContext(ctx).Where("template_id = ?", templateID).First(&tpl).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (d *TemplateDao) List(ctx context.Context, mediaType string) ([]*po.TemplatePO, error) {
	var list []*po.TemplatePO
	q := d.db.WithContext(ctx)
	if mediaType != "" {
		q = q.Where("media_type = ?", mediaType)
	}
	err := q.Order("created_at ASC, id ASC").Find(&list).Error
	return list, err
}

func (d *TemplateDao) Delete(ctx context.Context, templateID string) error {
	return d.db.WithContext(ctx).Where("template_id = ?", templateID).Delete(&po.TemplatePO{}).Error
}

// ExecutionDao 执行与步骤运行数据访问对象
type ExecutionDao struct {
	db *gorm.DB
}

func NewExecutionDao(db *gorm.DB) *ExecutionDao {
	return &ExecutionDao{db: db}
}

// CreateWithRuns 同一事务写入执行与步骤运行
func (d *ExecutionDao) CreateWithRuns(ctx context.Context, exec *po.ExecutionPO, runs []*po.StepRunPO) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(exec).Error; err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}
		return tx.Create(&runs).Error
	})
}

func (d *ExecutionDao) GetByExecutionID(ctx context.Context, executionID string) (*po.ExecutionPO, error) {
	var exec po.ExecutionPO
	if err := d.db.WithContext(ctx).Where("execution_id = ?", executionID).First(&exec).Error; err != nil {
		return nil, err
	}
	return &exec, nil
}

func (d *ExecutionDao) List(ctx context.Context, status, requestID string, offset, limit int) ([]*po.ExecutionPO, int64, error) {
	q := d.db.WithContext(ctx).Model(&po.ExecutionPO{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if requestID != "" {
		q = q.Where("request_id = ?", requestID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*po.ExecutionPO
	err := applyPage(q.Order("created_at DESC, id DESC"), offset, limit).Find(&list).Error
	return list, total, err
}

func (d *ExecutionDao) UpdateWithVersion(ctx context.Context, exec *po.ExecutionPO, expected int64) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.ExecutionPO{}).
		Where("execution_id = ? AND version = ?", exec.ExecutionID, expected).
		Select("*").Omit(casOmit...).
		Updates(exec)
	return res.RowsAffected > 0, res.Error
}

func (d *ExecutionDao) GetStepRun(ctx context.Context, column, value string) (*po.StepRunPO, error) {
	var run po.StepRunPO
	if err := d.db.WithContext(ctx).Where(column+" = ?", value).Order("id DESC").First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListStepRuns 按插入顺序返回
func (d *ExecutionDao) ListStepRuns(ctx context.Context, executionID string) ([]*po.StepRunPO, error) {
	var runs []*po.StepRunPO
	err := d.db.WithContext(ctx).Where("execution_id = ?", executionID).Order("id ASC").Find(&runs).Error
	return runs, err
}

func (d *ExecutionDao) ListStepRunsByStatus(ctx context.Context, status string) ([]*po.StepRunPO, error) {
	var runs []*po.StepRunPO
	err := d.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC, id ASC").Find(&runs).Error
	return runs, err
}

func (d *ExecutionDao) UpdateStepRunWithVersion(ctx context.Context, run *po.StepRunPO, expected int64) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.StepRunPO{}).
		Where("step_run_id = ? AND version = ?", run.StepRunID, expected).
		Select("*").Omit(casOmit...).
		Updates(run)
	return res.RowsAffected > 0, res.Error
}
