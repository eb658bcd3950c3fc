package restapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"acquisition-service/pkg/errno"
)

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Success 成功响应
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:      errno.OK.Code,
		Message:   errno.OK.Message,
		Data:      data,
		RequestID: ctx.GetString("request_id"),
	})
}

// Failed 失败响应，非 Errno 错误按 500 处理
func Failed(ctx *gin.Context, err error) {
	var e *errno.Errno
	if !errors.As(err, &e) {
		e = errno.ErrInternalServer.WithMessage("%s", err.Error())
	}
	ctx.AbortWithStatusJSON(e.HTTPStatus(), Response{
		Code:      e.Code,
		Message:   e.Message,
		RequestID: ctx.GetString("request_id"),
	})
}

// BadRequest 参数错误
func BadRequest(ctx *gin.Context, err error) {
	Failed(ctx, errno.ErrInvalidParam.WithMessage("Invalid parameter: %s", err.Error()))
}
