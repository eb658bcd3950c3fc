package errno

import (
	"fmt"
	"net/http"
)

// code=0 请求成功
// code=4xx 客户端请求错误
// code=5xx 服务器端错误
// code=2xxxx 业务处理错误码

type Errno struct {
	Code    int
	Message string
	// Status HTTP 状态码，为 0 时按 Code 推断
	Status int
}

// Error 实现error接口
func (e *Errno) Error() string {
	return e.Message
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Errno) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch {
	case e.Code >= 400 && e.Code < 500:
		return e.Code
	case e.Code >= 500 && e.Code < 600:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// WithMessage 复制错误码并替换消息
func (e *Errno) WithMessage(format string, args ...interface{}) *Errno {
	return &Errno{Code: e.Code, Message: fmt.Sprintf(format, args...), Status: e.Status}
}

var (
	OK = &Errno{Code: 200, Message: "Success"}

	ErrInvalidParam = &Errno{Code: 400, Message: "Invalid parameter"}
	ErrUnauthorized = &Errno{Code: 401, Message: "Unauthorized"}
	ErrNotFound     = &Errno{Code: 404, Message: "Not found"}

	ErrInternalServer = &Errno{Code: 500, Message: "Internal server error"}
	ErrDatabase       = &Errno{Code: 501, Message: "Database error"}
	ErrUnknown        = &Errno{Code: 510, Message: "Unknown error"}

	// 队列错误码
	ErrJobNotFound        = &Errno{Code: 20101, Message: "Job not found", Status: http.StatusNotFound}
	ErrInvalidJobStatus   = &Errno{Code: 20102, Message: "Invalid job status", Status: http.StatusConflict}
	ErrJobTypeRequired    = &Errno{Code: 20103, Message: "Job type is required", Status: http.StatusBadRequest}
	ErrLeaseLost          = &Errno{Code: 20104, Message: "Job lease is held by another worker", Status: http.StatusConflict}
	ErrWorkerNotFound     = &Errno{Code: 20105, Message: "Worker not found", Status: http.StatusNotFound}
	ErrDedupeKeyConflicts = &Errno{Code: 20106, Message: "Dedupe key is held by another active job", Status: http.StatusConflict}
	ErrWorkerNotActive    = &Errno{Code: 20107, Message: "Worker is not active", Status: http.StatusConflict}

	// 流水线错误码
	ErrTemplateNotFound   = &Errno{Code: 20201, Message: "Pipeline template not found", Status: http.StatusNotFound}
	ErrTemplateInvalid    = &Errno{Code: 20202, Message: "Pipeline template is invalid", Status: http.StatusUnprocessableEntity}
	ErrExecutionNotFound  = &Errno{Code: 20203, Message: "Execution not found", Status: http.StatusNotFound}
	ErrStepRunNotFound    = &Errno{Code: 20204, Message: "Step run not found", Status: http.StatusNotFound}
	ErrInvalidStepStatus  = &Errno{Code: 20205, Message: "Invalid step status", Status: http.StatusConflict}
	ErrStepNotRetryable   = &Errno{Code: 20206, Message: "Step is not retryable", Status: http.StatusConflict}
	ErrRequestIDRequired  = &Errno{Code: 20207, Message: "Request ID is required", Status: http.StatusBadRequest}
	ErrTemplateIDRequired = &Errno{Code: 20208, Message: "Template ID is required", Status: http.StatusBadRequest}

	// 编码调度错误码
	ErrEncoderNotFound        = &Errno{Code: 20301, Message: "Encoder not found", Status: http.StatusNotFound}
	ErrAssignmentNotFound     = &Errno{Code: 20302, Message: "Assignment not found", Status: http.StatusNotFound}
	ErrInvalidAssignmentState = &Errno{Code: 20303, Message: "Invalid assignment status", Status: http.StatusConflict}
	ErrNoEncoderSession       = &Errno{Code: 20304, Message: "Encoder has no live session", Status: http.StatusConflict}

	// 并发修改，调用方可重试
	ErrConcurrentUpdate = &Errno{Code: 20901, Message: "Record was modified concurrently, retry", Status: http.StatusConflict}
)
