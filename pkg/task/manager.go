package task

import (
	"context"
	"sync"
	"time"

	"acquisition-service/pkg/logger"
)

// BackgroundTask represents a long-running background process (consumer, worker, sweeper).
type BackgroundTask interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// Manager starts registered tasks together and stops them in reverse order.
type Manager struct {
	tasks  []BackgroundTask
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewManager() *Manager {
	return &Manager{tasks: make([]BackgroundTask, 0)}
}

// Register adds a background task; call before StartAll.
func (m *Manager) Register(task BackgroundTask) {
	if task == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// StartAll starts all registered tasks once.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	var runCtx context.Context
	runCtx, m.cancel = context.WithCancel(ctx)
	for _, t := range m.tasks {
		if err := t.Start(runCtx); err != nil {
			return err
		}
		logger.Infof("Background task started name=%s", t.Name())
	}
	return nil
}

// StopAll stops all running tasks.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	for i := len(m.tasks) - 1; i >= 0; i-- {
		t := m.tasks[i]
		if err := t.Stop(); err != nil {
			logger.Warnf("Background task stop failed name=%s error=%v", t.Name(), err)
		}
	}
	m.cancel = nil
}

// FuncTask adapts Start/Stop functions to the BackgroundTask interface.
type FuncTask struct {
	TaskName  string
	StartFunc func(ctx context.Context) error
	StopFunc  func() error
}

func (f *FuncTask) Name() string { return f.TaskName }

func (f *FuncTask) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f *FuncTask) Stop() error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc()
}

// Periodic runs fn on every tick until stopped.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{name: name, interval: interval, fn: fn}
}

func (p *Periodic) Name() string { return p.name }

func (p *Periodic) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.fn(runCtx)
			}
		}
	}()
	return nil
}

func (p *Periodic) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}
