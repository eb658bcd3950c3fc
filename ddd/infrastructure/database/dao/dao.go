package dao

import (
	"errors"

	"gorm.io/gorm"
)

// casOmit 条件更新时不覆盖的列
var casOmit = []string{"id", "created_at"}

// applyPage 分页，limit<=0 表示不限制
func applyPage(q *gorm.DB, offset, limit int) *gorm.DB {
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

// errRollback 条件未命中时回滚事务
var errRollback = errors.New("rollback")
