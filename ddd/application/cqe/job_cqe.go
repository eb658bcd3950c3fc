package cqe

import (
	"strings"

	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/errno"
)

// EnqueueJobReq 入队请求
type EnqueueJobReq struct {
	Type        string                 `json:"type" binding:"required"`
	Payload     map[string]interface{} `json:"payload"`
	DedupeKey   string                 `json:"dedupeKey"`
	Priority    int                    `json:"priority"`
	MaxAttempts int                    `json:"maxAttempts"`
}

func (req *EnqueueJobReq) Validate() error {
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		return errno.ErrJobTypeRequired
	}
	if req.MaxAttempts < 0 {
		return errno.ErrInvalidParam.WithMessage("maxAttempts must not be negative")
	}
	return nil
}

// ListJobsReq 任务列表查询
type ListJobsReq struct {
	Status   string `form:"status"`
	Type     string `form:"type"`
	WorkerID string `form:"workerId"`
	Page     int    `form:"page"`
	Size     int    `form:"size"`
}

func (req *ListJobsReq) Validate() error {
	if req.Status != "" && !vo.JobStatus(req.Status).IsValid() {
		return errno.ErrInvalidParam.WithMessage("unknown job status %q", req.Status)
	}
	normalizePage(&req.Page, &req.Size)
	return nil
}

// CleanupJobsReq 清理已结束任务，0 表示使用配置的保留天数
type CleanupJobsReq struct {
	OlderThanDays int `json:"olderThanDays"`
}

func (req *CleanupJobsReq) Validate() error {
	if req.OlderThanDays < 0 {
		return errno.ErrInvalidParam.WithMessage("olderThanDays must not be negative")
	}
	return nil
}

// normalizePage page 从 1 开始，size 默认 20，最大 100
func normalizePage(page, size *int) {
	if *page <= 0 {
		*page = 1
	}
	if *size <= 0 || *size > 100 {
		*size = 20
	}
}
