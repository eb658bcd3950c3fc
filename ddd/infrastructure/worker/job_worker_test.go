package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/memory"
	"acquisition-service/pkg/backoff"
)

type funcExecutor struct {
	typ vo.StepType
	fn  func(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error)
}

func (e *funcExecutor) Type() vo.StepType { return e.typ }

func (e *funcExecutor) Execute(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
	return e.fn(ctx, job, ctl)
}

type workerEnv struct {
	queue    *service.JobQueueService
	registry *service.WorkerService
}

func newWorkerEnv() *workerEnv {
	store := memory.NewStore()
	jobs := memory.NewJobRepository(store)
	workers := memory.NewWorkerRepository(store)
	return &workerEnv{
		queue:    service.NewJobQueueService(jobs, workers, event.NewBus(), service.WithBackoff(backoff.NewBackoff(0, 0, 2))),
		registry: service.NewWorkerService(workers, jobs, nil),
	}
}

func (e *workerEnv) start(t *testing.T, executors ...port.StepExecutor) JobWorker {
	t.Helper()
	w := NewJobWorker(e.queue, e.registry, executors, Options{
		Name:                "test",
		Hostname:            "host-test",
		Concurrency:         2,
		PollInterval:        10 * time.Millisecond,
		HeartbeatInterval:   50 * time.Millisecond,
		CancelCheckInterval: 10 * time.Millisecond,
		ShutdownGracePeriod: time.Second,
	})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func (e *workerEnv) enqueue(t *testing.T, typ vo.StepType, maxAttempts int) string {
	t.Helper()
	job, err := e.queue.Enqueue(context.Background(), service.EnqueueRequest{
		Type:        typ.String(),
		Payload:     port.StepPayload{RequestID: "req-1", Config: map[string]interface{}{"query": "heat"}}.ToMap(),
		MaxAttempts: maxAttempts,
	})
	require.NoError(t, err)
	return job.ID()
}

func (e *workerEnv) waitStatus(t *testing.T, jobID string, want vo.JobStatus) *entity.JobEntity {
	t.Helper()
	var job *entity.JobEntity
	require.Eventually(t, func() bool {
		var err error
		job, err = e.queue.Get(context.Background(), jobID)
		return err == nil && job.Status() == want
	}, 3*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func TestJobWorker_CompletesJob(t *testing.T) {
	env := newWorkerEnv()
	w := env.start(t, &funcExecutor{typ: vo.StepTypeSearch, fn: func(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
		assert.NoError(t, ctl.ReportProgress(ctx, 1, 2, "half"))
		return map[string]interface{}{"query": port.StepPayloadFromJob(job).LookupString("query")}, nil
	}})

	jobID := env.enqueue(t, vo.StepTypeSearch, 3)
	job := env.waitStatus(t, jobID, vo.JobStatusCompleted)

	assert.Equal(t, "heat", job.Result()["query"])
	assert.Equal(t, int64(2), job.ProgressCurrent(), "completion fills progress")
	assert.Equal(t, "half", job.ProgressMessage())
	assert.Empty(t, job.LockedBy())
	require.Eventually(t, func() bool { return w.GetStats().SuccessfulJobs == 1 }, time.Second, 10*time.Millisecond)
}

func TestJobWorker_OnlyClaimsItsTypes(t *testing.T) {
	env := newWorkerEnv()
	env.start(t, &funcExecutor{typ: vo.StepTypeSearch, fn: func(context.Context, *entity.JobEntity, port.JobControl) (map[string]interface{}, error) {
		return nil, nil
	}})

	encodeID := env.enqueue(t, vo.StepTypeEncode, 1)
	searchID := env.enqueue(t, vo.StepTypeSearch, 1)
	env.waitStatus(t, searchID, vo.JobStatusCompleted)

	job, err := env.queue.Get(context.Background(), encodeID)
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusPending, job.Status())
}

func TestJobWorker_Failures(t *testing.T) {
	env := newWorkerEnv()
	attempts := make(chan struct{}, 10)
	env.start(t,
		&funcExecutor{typ: vo.StepTypeSearch, fn: func(context.Context, *entity.JobEntity, port.JobControl) (map[string]interface{}, error) {
			return nil, failure.Permanentf("bad query")
		}},
		&funcExecutor{typ: vo.StepTypeDownload, fn: func(context.Context, *entity.JobEntity, port.JobControl) (map[string]interface{}, error) {
			attempts <- struct{}{}
			return nil, errors.New("tracker timeout")
		}},
		&funcExecutor{typ: vo.StepTypeDeliver, fn: func(context.Context, *entity.JobEntity, port.JobControl) (map[string]interface{}, error) {
			panic("boom")
		}},
	)

	permanent := env.enqueue(t, vo.StepTypeSearch, 5)
	transient := env.enqueue(t, vo.StepTypeDownload, 2)
	panicked := env.enqueue(t, vo.StepTypeDeliver, 5)

	job := env.waitStatus(t, permanent, vo.JobStatusFailed)
	assert.Equal(t, 1, job.Attempts())
	assert.Contains(t, job.Error(), "bad query")

	job = env.waitStatus(t, transient, vo.JobStatusFailed)
	assert.Equal(t, 2, job.Attempts())
	assert.Len(t, attempts, 2)

	job = env.waitStatus(t, panicked, vo.JobStatusFailed)
	assert.Equal(t, 1, job.Attempts())
	assert.Contains(t, job.Error(), "panic")
}

func TestJobWorker_ObservesCancellation(t *testing.T) {
	env := newWorkerEnv()
	started := make(chan struct{})
	env.start(t, &funcExecutor{typ: vo.StepTypeDownload, fn: func(ctx context.Context, job *entity.JobEntity, ctl port.JobControl) (map[string]interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	jobID := env.enqueue(t, vo.StepTypeDownload, 3)
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	_, err := env.queue.RequestCancellation(context.Background(), jobID)
	require.NoError(t, err)

	job := env.waitStatus(t, jobID, vo.JobStatusCancelled)
	assert.Equal(t, 1, job.Attempts())
}

func TestJobWorker_StartAndStop(t *testing.T) {
	env := newWorkerEnv()
	empty := NewJobWorker(env.queue, env.registry, nil, Options{})
	assert.Error(t, empty.Start(context.Background()))

	w := env.start(t, &funcExecutor{typ: vo.StepTypeSearch, fn: func(context.Context, *entity.JobEntity, port.JobControl) (map[string]interface{}, error) {
		return nil, nil
	}})
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()), "double start")

	id := w.WorkerID()
	require.NotEmpty(t, id)
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	ent, err := env.registry.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, vo.WorkerStatusStopped, ent.Status())
}
