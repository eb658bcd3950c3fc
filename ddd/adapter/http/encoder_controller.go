package http

import (
	"github.com/gin-gonic/gin"

	"acquisition-service/ddd/application/app"
	"acquisition-service/ddd/application/cqe"
	"acquisition-service/pkg/restapi"
)

// EncoderController 远程编码节点与分配查询
type EncoderController struct {
	encoderApp app.EncoderApp
}

func NewEncoderController(encoderApp app.EncoderApp) *EncoderController {
	return &EncoderController{encoderApp: encoderApp}
}

func (c *EncoderController) ListEncoders(ctx *gin.Context) {
	resp, err := c.encoderApp.ListEncoders(ctx.Request.Context())
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *EncoderController) GetEncoder(ctx *gin.Context) {
	resp, err := c.encoderApp.GetEncoder(ctx.Request.Context(), ctx.Param("encoder_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// ListAssignments scope=active|history
func (c *EncoderController) ListAssignments(ctx *gin.Context) {
	var req cqe.ListAssignmentsReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.encoderApp.ListAssignments(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *EncoderController) GetAssignment(ctx *gin.Context) {
	resp, err := c.encoderApp.GetAssignment(ctx.Request.Context(), ctx.Param("assignment_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// CancelAssignment 取消分配并通知节点停止编码
func (c *EncoderController) CancelAssignment(ctx *gin.Context) {
	var req cqe.CancelAssignmentReq
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			restapi.BadRequest(ctx, err)
			return
		}
	}
	resp, err := c.encoderApp.CancelAssignment(ctx.Request.Context(), ctx.Param("assignment_id"), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}
