package progress

import (
	"context"
	"sync"
	"time"
)

// Writer 进度落库
type Writer interface {
	ReportProgress(ctx context.Context, jobID, workerID string, current, total int64, message string) error
}

// Sink 把执行器进度写回任务；同一任务两次写入至少间隔 interval，
// 完成值（current >= total）和首次写入不受限制
type Sink struct {
	w        Writer
	jobID    string
	workerID string
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	last    time.Time
	written bool
}

func NewSink(w Writer, jobID, workerID string, interval time.Duration) *Sink {
	return &Sink{w: w, jobID: jobID, workerID: workerID, interval: interval, now: time.Now}
}

// Report 被节流的进度直接丢弃，返回 nil
func (s *Sink) Report(ctx context.Context, current, total int64, message string) error {
	s.mu.Lock()
	now := s.now()
	final := total > 0 && current >= total
	if s.written && !final && s.interval > 0 && now.Sub(s.last) < s.interval {
		s.mu.Unlock()
		return nil
	}
	s.last = now
	s.written = true
	s.mu.Unlock()

	return s.w.ReportProgress(ctx, s.jobID, s.workerID, current, total, message)
}
