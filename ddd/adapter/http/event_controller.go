package http

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"acquisition-service/ddd/domain/event"
	"acquisition-service/pkg/logger"
)

// EventSource 事件订阅
type EventSource interface {
	Subscribe(pred event.Predicate, buffer int) (<-chan event.Event, func())
}

// EventController SSE 事件流
type EventController struct {
	events    EventSource
	keepalive time.Duration
}

func NewEventController(events EventSource) *EventController {
	return &EventController{events: events, keepalive: 15 * time.Second}
}

// eventFilter 支持 type 前缀（job. / step. ...）、jobId、executionId、assignmentId 过滤
func eventFilter(ctx *gin.Context) event.Predicate {
	prefixes := ctx.QueryArray("type")
	jobID := ctx.Query("jobId")
	executionID := ctx.Query("executionId")
	assignmentID := ctx.Query("assignmentId")
	if len(prefixes) == 0 && jobID == "" && executionID == "" && assignmentID == "" {
		return nil
	}
	return func(e event.Event) bool {
		if jobID != "" && e.JobID != jobID {
			return false
		}
		if executionID != "" && e.ExecutionID != executionID {
			return false
		}
		if assignmentID != "" && e.AssignmentID != assignmentID {
			return false
		}
		if len(prefixes) == 0 {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(string(e.Type), p) {
				return true
			}
		}
		return false
	}
}

// Stream 推送事件直到客户端断开
func (c *EventController) Stream(ctx *gin.Context) {
	ch, cancel := c.events.Subscribe(eventFilter(ctx), 256)
	defer cancel()

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	// 长连接不受 server.write_timeout 限制
	if err := http.NewResponseController(ctx.Writer).SetWriteDeadline(time.Time{}); err != nil {
		logger.Debugf("event stream write deadline not cleared error=%v", err)
	}

	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Request.Context().Done():
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			ctx.SSEvent(string(e.Type), e)
			return true
		case <-ticker.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			return true
		}
	})
}
