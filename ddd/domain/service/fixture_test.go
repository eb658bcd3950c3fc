package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/memory"
	"acquisition-service/pkg/backoff"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	ctx      context.Context
	clock    *testClock
	store    *memory.Store
	bus      *event.Bus
	jobs     repo.JobRepository
	workers  repo.WorkerRepository
	queue    *JobQueueService
	registry *WorkerService
}

func newTestEnv(t *testing.T, opts ...JobQueueOption) *testEnv {
	t.Helper()
	clock := newTestClock()
	store := memory.NewStore()
	bus := event.NewBus()
	jobs := memory.NewJobRepository(store)
	workers := memory.NewWorkerRepository(store)

	base := []JobQueueOption{
		WithClock(clock.Now),
		WithBackoff(backoff.NewBackoff(0, 0, 2)),
		WithWorkerGrace(30 * time.Second),
	}
	return &testEnv{
		ctx:      context.Background(),
		clock:    clock,
		store:    store,
		bus:      bus,
		jobs:     jobs,
		workers:  workers,
		queue:    NewJobQueueService(jobs, workers, bus, append(base, opts...)...),
		registry: NewWorkerService(workers, jobs, clock.Now),
	}
}

func (e *testEnv) worker(t *testing.T, types ...string) string {
	t.Helper()
	if len(types) == 0 {
		types = []string{"SEARCH"}
	}
	w, err := e.registry.Register(e.ctx, "host-test", 100, 2, types)
	require.NoError(t, err)
	return w.ID()
}

func repoFilter(status vo.JobStatus, typ vo.StepType) repo.JobFilter {
	return repo.JobFilter{Status: status, Type: typ.String()}
}
