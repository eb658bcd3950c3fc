package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderActor     = "X-Actor"

	// restapi 响应里回填的 request_id 也读这个 key
	RequestIDKey = "request_id"
	ActorKey     = "actor"
)

// RequestContextMiddleware 为每个请求分配 request_id，并记录审批/重试操作人
// 请求头里的 X-Actor 仅作为默认值，JWT 通过后会被 subject 覆盖
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(RequestIDKey, reqID)
		c.Header(HeaderRequestID, reqID)

		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			c.Set(ActorKey, actor)
		}
		c.Next()
	}
}

// Actor 当前请求的操作人，未知时为空
func Actor(c *gin.Context) string {
	return c.GetString(ActorKey)
}
