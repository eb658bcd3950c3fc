package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"acquisition-service/ddd/application/app"
	"acquisition-service/pkg/config"
	"acquisition-service/pkg/middleware"
)

// Router 路由配置
type Router struct {
	jobApp      app.JobApp
	pipelineApp app.PipelineApp
	encoderApp  app.EncoderApp
	events      EventSource
	jwt         config.JWTConfig
}

// NewRouter 创建路由配置
func NewRouter(jobApp app.JobApp, pipelineApp app.PipelineApp, encoderApp app.EncoderApp, events EventSource, jwt config.JWTConfig) *Router {
	return &Router{
		jobApp:      jobApp,
		pipelineApp: pipelineApp,
		encoderApp:  encoderApp,
		events:      events,
		jwt:         jwt,
	}
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes(engine *gin.Engine) {
	jobController := NewJobController(r.jobApp)
	pipelineController := NewPipelineController(r.pipelineApp)
	encoderController := NewEncoderController(r.encoderApp)
	eventController := NewEventController(r.events)

	v1 := engine.Group("/api/v1")
	v1.Use(middleware.JWTAuthMiddleware(r.jwt))
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobController.Enqueue)
			jobs.GET("", jobController.ListJobs)
			jobs.GET("/stats", jobController.Stats)
			jobs.POST("/cleanup", jobController.Cleanup)

			jobs.GET("/:job_id", jobController.GetJob)
			jobs.POST("/:job_id/cancel", jobController.Cancel)
			jobs.POST("/:job_id/request-cancel", jobController.RequestCancellation)
			jobs.POST("/:job_id/pause", jobController.Pause)
			jobs.POST("/:job_id/resume", jobController.Resume)
			jobs.POST("/:job_id/retry", jobController.Retry)
		}

		v1.GET("/workers", jobController.ListWorkers)

		templates := v1.Group("/templates")
		{
			templates.POST("", pipelineController.CreateTemplate)
			templates.GET("", pipelineController.ListTemplates)
			templates.POST("/validate", pipelineController.ValidateTemplate)
			templates.GET("/:template_id", pipelineController.GetTemplate)
			templates.PUT("/:template_id", pipelineController.UpdateTemplate)
			templates.DELETE("/:template_id", pipelineController.DeleteTemplate)
		}

		executions := v1.Group("/executions")
		{
			executions.POST("", pipelineController.Execute)
			executions.GET("", pipelineController.ListExecutions)
			executions.GET("/:execution_id", pipelineController.GetExecution)
			executions.POST("/:execution_id/cancel", pipelineController.CancelExecution)
		}

		steps := v1.Group("/steps")
		{
			steps.POST("/:step_run_id/approve", pipelineController.Approve)
			steps.POST("/:step_run_id/reject", pipelineController.Reject)
			steps.POST("/:step_run_id/retry", pipelineController.RetryStep)
		}

		encoders := v1.Group("/encoders")
		{
			encoders.GET("", encoderController.ListEncoders)
			encoders.GET("/:encoder_id", encoderController.GetEncoder)
		}

		assignments := v1.Group("/assignments")
		{
			assignments.GET("", encoderController.ListAssignments)
			assignments.GET("/:assignment_id", encoderController.GetAssignment)
			assignments.POST("/:assignment_id/cancel", encoderController.CancelAssignment)
		}

		v1.GET("/events", eventController.Stream)
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "acquisition-service",
		})
	})
}

// SetupMiddleware 设置中间件
func (r *Router) SetupMiddleware(engine *gin.Engine) {
	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Actor")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	engine.Use(middleware.RequestContextMiddleware())
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
}
