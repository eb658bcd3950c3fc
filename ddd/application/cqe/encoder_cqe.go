package cqe

import "acquisition-service/pkg/errno"

// ListAssignmentsReq 编码分配列表
type ListAssignmentsReq struct {
	Scope string `form:"scope"`
	Page  int    `form:"page"`
	Size  int    `form:"size"`
}

func (req *ListAssignmentsReq) Validate() error {
	switch req.Scope {
	case "":
		req.Scope = "active"
	case "active", "history":
	default:
		return errno.ErrInvalidParam.WithMessage("scope must be active or history")
	}
	normalizePage(&req.Page, &req.Size)
	return nil
}

// CancelAssignmentReq 取消分配
type CancelAssignmentReq struct {
	Reason string `json:"reason"`
}
