package event

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type 事件类型
type Type string

const (
	JobEnqueued        Type = "job.enqueued"
	JobClaimed         Type = "job.claimed"
	JobProgress        Type = "job.progress"
	JobRetryScheduled  Type = "job.retry_scheduled"
	JobCompleted       Type = "job.completed"
	JobFailed          Type = "job.failed"
	JobCancelled       Type = "job.cancelled"
	JobCancelRequested Type = "job.cancel_requested"
	JobPaused          Type = "job.paused"
	JobResumed         Type = "job.resumed"
	JobReaped          Type = "job.reaped"

	StepStarted          Type = "step.started"
	StepAwaitingApproval Type = "step.awaiting_approval"
	StepSucceeded        Type = "step.succeeded"
	StepFailed           Type = "step.failed"
	StepSkipped          Type = "step.skipped"
	ExecutionStarted     Type = "execution.started"
	ExecutionFinished    Type = "execution.finished"

	EncoderRegistered  Type = "encoder.registered"
	EncoderOffline     Type = "encoder.offline"
	AssignmentCreated  Type = "assignment.created"
	AssignmentStarted  Type = "assignment.started"
	AssignmentProgress Type = "assignment.progress"
	AssignmentFinished Type = "assignment.finished"
	AssignmentRequeued Type = "assignment.requeued"
)

// Event 领域事件
type Event struct {
	Type         Type                   `json:"type"`
	JobID        string                 `json:"jobId,omitempty"`
	JobType      string                 `json:"jobType,omitempty"`
	ExecutionID  string                 `json:"executionId,omitempty"`
	StepRunID    string                 `json:"stepRunId,omitempty"`
	EncoderID    string                 `json:"encoderId,omitempty"`
	AssignmentID string                 `json:"assignmentId,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	At           time.Time              `json:"at"`
	// Origin 发布进程标识，跨进程桥接时用于去重
	Origin string `json:"origin,omitempty"`
}

// IsJobTerminal 任务进入终态的事件
func (e Event) IsJobTerminal() bool {
	return e.Type == JobCompleted || e.Type == JobFailed || e.Type == JobCancelled
}

// Predicate 订阅过滤条件
type Predicate func(Event) bool

// Publisher 事件发布接口
type Publisher interface {
	Publish(e Event)
}

type subscription struct {
	pred Predicate
	ch   chan Event
}

// Bus 进程内事件总线；慢订阅者会丢事件
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	next    uint64
	dropped atomic.Uint64
	hooks   []func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe 返回匹配 pred 的事件流和取消函数；pred 为 nil 表示全部
func (b *Bus) Subscribe(pred Predicate, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	id := b.next
	b.next++
	sub := &subscription{pred: pred, ch: make(chan Event, buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}

// OnPublish 注册同步回调，在本进程发布的事件上调用（不含桥接进来的事件）
func (b *Bus) OnPublish(hook func(Event)) {
	b.mu.Lock()
	b.hooks = append(b.hooks, hook)
	b.mu.Unlock()
}

// Publish 发布本进程产生的事件
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	hooks := b.hooks
	b.mu.RUnlock()
	for _, h := range hooks {
		h(e)
	}
	b.Deliver(e)
}

// Deliver 只投递给本地订阅者
func (b *Bus) Deliver(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.pred != nil && !sub.pred(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped 累计丢弃的事件数
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// ByType 按类型过滤
func ByType(types ...Type) Predicate {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}
