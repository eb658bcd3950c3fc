package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"acquisition-service/ddd/application/app"
	"acquisition-service/ddd/application/cqe"
	"acquisition-service/ddd/application/dto"
	"acquisition-service/pkg/restapi"
)

type jobTransition func(ctx context.Context, jobID string) (*dto.JobDTO, error)

// JobController 队列任务接口
type JobController struct {
	jobApp app.JobApp
}

func NewJobController(jobApp app.JobApp) *JobController {
	return &JobController{jobApp: jobApp}
}

// Enqueue 入队
func (c *JobController) Enqueue(ctx *gin.Context) {
	var req cqe.EnqueueJobReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.jobApp.Enqueue(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// ListJobs 任务列表
func (c *JobController) ListJobs(ctx *gin.Context) {
	var req cqe.ListJobsReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		restapi.BadRequest(ctx, err)
		return
	}
	resp, err := c.jobApp.ListJobs(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// Stats 任务统计
func (c *JobController) Stats(ctx *gin.Context) {
	resp, err := c.jobApp.Stats(ctx.Request.Context())
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// GetJob 任务详情
func (c *JobController) GetJob(ctx *gin.Context) {
	resp, err := c.jobApp.GetJob(ctx.Request.Context(), ctx.Param("job_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

func (c *JobController) Cancel(ctx *gin.Context) {
	c.transition(ctx, c.jobApp.Cancel)
}

func (c *JobController) RequestCancellation(ctx *gin.Context) {
	c.transition(ctx, c.jobApp.RequestCancellation)
}

func (c *JobController) Pause(ctx *gin.Context) {
	c.transition(ctx, c.jobApp.Pause)
}

func (c *JobController) Resume(ctx *gin.Context) {
	c.transition(ctx, c.jobApp.Resume)
}

func (c *JobController) Retry(ctx *gin.Context) {
	c.transition(ctx, c.jobApp.Retry)
}

func (c *JobController) transition(ctx *gin.Context, fn jobTransition) {
	resp, err := fn(ctx.Request.Context(), ctx.Param("job_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// Cleanup 清理过期的终态任务，请求体可省略
func (c *JobController) Cleanup(ctx *gin.Context) {
	var req cqe.CleanupJobsReq
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			restapi.BadRequest(ctx, err)
			return
		}
	}
	resp, err := c.jobApp.Cleanup(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// ListWorkers Worker 列表
func (c *JobController) ListWorkers(ctx *gin.Context) {
	resp, err := c.jobApp.ListWorkers(ctx.Request.Context())
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}
