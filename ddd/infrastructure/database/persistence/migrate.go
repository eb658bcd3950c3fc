package persistence

import (
	"gorm.io/gorm"

	"acquisition-service/ddd/infrastructure/database/po"
)

// AutoMigrate 建表及索引
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&po.JobPO{},
		&po.WorkerPO{},
		&po.TemplatePO{},
		&po.ExecutionPO{},
		&po.StepRunPO{},
		&po.EncoderPO{},
		&po.AssignmentPO{},
	)
}
