package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"acquisition-service/ddd/application/app"
	"acquisition-service/ddd/application/cqe"
	"acquisition-service/ddd/application/dto"
	"acquisition-service/pkg/middleware"
	"acquisition-service/pkg/restapi"
)

type approvalAction func(ctx context.Context, stepRunID, actor, reason string) (*dto.StepRunDTO, error)

// PipelineController 模板、执行与审批接口
type PipelineController struct {
	pipelineApp app.PipelineApp
}

func NewPipelineController(pipelineApp app.PipelineApp) *PipelineController {
	return &PipelineController{pipelineApp: pipelineApp}
}

// CreateTemplate 创建模板
func (c *PipelineController) CreateTemplate(ctx *gin.Context) {
	var req cqe.TemplateReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.pipelineApp.CreateTemplate(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// UpdateTemplate 更新模板
func (c *PipelineController) UpdateTemplate(ctx *gin.Context) {
	var req cqe.TemplateReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.pipelineApp.UpdateTemplate(ctx.Request.Context(), ctx.Param("template_id"), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *PipelineController) GetTemplate(ctx *gin.Context) {
	resp, err := c.pipelineApp.GetTemplate(ctx.Request.Context(), ctx.Param("template_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// ListTemplates 可按 mediaType 过滤
func (c *PipelineController) ListTemplates(ctx *gin.Context) {
	resp, err := c.pipelineApp.ListTemplates(ctx.Request.Context(), ctx.Query("mediaType"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *PipelineController) DeleteTemplate(ctx *gin.Context) {
	if err := c.pipelineApp.DeleteTemplate(ctx.Request.Context(), ctx.Param("template_id")); err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, gin.H{"deleted": true})
}

// ValidateTemplate 校验模板但不保存
func (c *PipelineController) ValidateTemplate(ctx *gin.Context) {
	var req cqe.TemplateReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.pipelineApp.ValidateTemplate(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// Execute 启动执行
func (c *PipelineController) Execute(ctx *gin.Context) {
	var req cqe.ExecuteReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.pipelineApp.Execute(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *PipelineController) GetExecution(ctx *gin.Context) {
	resp, err := c.pipelineApp.GetExecution(ctx.Request.Context(), ctx.Param("execution_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *PipelineController) ListExecutions(ctx *gin.Context) {
	var req cqe.ListExecutionsReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.pipelineApp.ListExecutions(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *PipelineController) CancelExecution(ctx *gin.Context) {
	resp, err := c.pipelineApp.CancelExecution(ctx.Request.Context(), ctx.Param("execution_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// Approve 审批通过
func (c *PipelineController) Approve(ctx *gin.Context) {
	c.approval(ctx, c.pipelineApp.Approve)
}

// Reject 审批拒绝
func (c *PipelineController) Reject(ctx *gin.Context) {
	c.approval(ctx, c.pipelineApp.Reject)
}

func (c *PipelineController) approval(ctx *gin.Context, fn approvalAction) {
	var req cqe.ApprovalReq
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			restapi.BadRequest(ctx, err)
			return
		}
	}
	actor := req.Actor
	if actor == "" {
		actor = middleware.Actor(ctx)
	}
	resp, err := fn(ctx.Request.Context(), ctx.Param("step_run_id"), actor, req.Reason)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// RetryStep 重试失败或被阻断的步骤
func (c *PipelineController) RetryStep(ctx *gin.Context) {
	resp, err := c.pipelineApp.RetryStep(ctx.Request.Context(), ctx.Param("step_run_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}
