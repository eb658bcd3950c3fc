package repo

import "errors"

var (
	// ErrVersionConflict 条件更新未命中：记录已被其他参与者修改
	ErrVersionConflict = errors.New("record was modified concurrently")
	// ErrDuplicateDedupeKey 去重键已被另一个活跃任务占用
	ErrDuplicateDedupeKey = errors.New("dedupe key is held by another active job")
	// ErrCapacityExhausted 编码节点已满或不可接收
	ErrCapacityExhausted = errors.New("encoder has no free slot")
)
