package cqe

import (
	"strings"

	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/errno"
)

// TemplateReq 创建或更新模板；steps 与 tree 二选一
type TemplateReq struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	MediaType   string              `json:"mediaType"`
	Description string              `json:"description"`
	Steps       []vo.StepDefinition `json:"steps"`
	Tree        []vo.StepNode       `json:"tree"`
}

func (req *TemplateReq) Validate() error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return errno.ErrInvalidParam.WithMessage("template name is required")
	}
	if len(req.Steps) == 0 && len(req.Tree) == 0 {
		return errno.ErrTemplateInvalid.WithMessage("template must contain steps or tree")
	}
	return nil
}

// ExecuteReq 为请求启动一次流水线执行
type ExecuteReq struct {
	RequestID  string `json:"requestId"`
	TemplateID string `json:"templateId"`
}

func (req *ExecuteReq) Validate() error {
	if strings.TrimSpace(req.RequestID) == "" {
		return errno.ErrRequestIDRequired
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return errno.ErrTemplateIDRequired
	}
	return nil
}

// ListExecutionsReq 执行列表查询
type ListExecutionsReq struct {
	Status    string `form:"status"`
	RequestID string `form:"requestId"`
	Page      int    `form:"page"`
	Size      int    `form:"size"`
}

func (req *ListExecutionsReq) Validate() error {
	switch vo.ExecutionStatus(req.Status) {
	case "", vo.ExecutionRunning, vo.ExecutionSucceeded, vo.ExecutionFailed, vo.ExecutionCancelled:
	default:
		return errno.ErrInvalidParam.WithMessage("unknown execution status %q", req.Status)
	}
	normalizePage(&req.Page, &req.Size)
	return nil
}

// ApprovalReq 审批操作；actor 为空时使用登录用户
type ApprovalReq struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}
