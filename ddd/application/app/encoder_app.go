package app

import (
	"context"

	"acquisition-service/ddd/application/cqe"
	"acquisition-service/ddd/application/dto"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/pkg/errno"
)

type EncoderApp interface {
	ListEncoders(ctx context.Context) ([]*dto.EncoderDTO, error)
	GetEncoder(ctx context.Context, encoderID string) (*dto.EncoderDTO, error)
	ListAssignments(ctx context.Context, req *cqe.ListAssignmentsReq) (*dto.PageDTO[*dto.AssignmentDTO], error)
	GetAssignment(ctx context.Context, assignmentID string) (*dto.AssignmentDTO, error)
	// CancelAssignment 取消分配；对应的 ENCODE 任务随之以取消结束
	CancelAssignment(ctx context.Context, assignmentID string, req *cqe.CancelAssignmentReq) (*dto.AssignmentDTO, error)
}

type encoderAppImpl struct {
	dispatch *service.DispatchService
}

func NewEncoderApp(dispatch *service.DispatchService) EncoderApp {
	return &encoderAppImpl{dispatch: dispatch}
}

func (a *encoderAppImpl) ListEncoders(ctx context.Context) ([]*dto.EncoderDTO, error) {
	list, err := a.dispatch.ListEncoders(ctx)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidAssignmentState)
	}
	out := make([]*dto.EncoderDTO, 0, len(list))
	for _, e := range list {
		out = append(out, dto.NewEncoderDTO(e, a.dispatch.HasSession(e.EncoderID())))
	}
	return out, nil
}

func (a *encoderAppImpl) GetEncoder(ctx context.Context, encoderID string) (*dto.EncoderDTO, error) {
	enc, err := a.dispatch.GetEncoder(ctx, encoderID)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidAssignmentState)
	}
	return dto.NewEncoderDTO(enc, a.dispatch.HasSession(encoderID)), nil
}

func (a *encoderAppImpl) ListAssignments(ctx context.Context, req *cqe.ListAssignmentsReq) (*dto.PageDTO[*dto.AssignmentDTO], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	list, total, err := a.dispatch.ListAssignments(ctx, req.Scope, req.Size, (req.Page-1)*req.Size)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidAssignmentState)
	}
	items := make([]*dto.AssignmentDTO, 0, len(list))
	for _, as := range list {
		items = append(items, dto.NewAssignmentDTO(as))
	}
	return &dto.PageDTO[*dto.AssignmentDTO]{Items: items, Total: total, Page: req.Page, Size: req.Size}, nil
}

func (a *encoderAppImpl) GetAssignment(ctx context.Context, assignmentID string) (*dto.AssignmentDTO, error) {
	as, err := a.dispatch.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidAssignmentState)
	}
	return dto.NewAssignmentDTO(as), nil
}

func (a *encoderAppImpl) CancelAssignment(ctx context.Context, assignmentID string, req *cqe.CancelAssignmentReq) (*dto.AssignmentDTO, error) {
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by operator"
	}
	as, err := a.dispatch.CancelAssignment(ctx, assignmentID, reason)
	if err != nil {
		return nil, bizError(err, errno.ErrInvalidAssignmentState)
	}
	return dto.NewAssignmentDTO(as), nil
}
