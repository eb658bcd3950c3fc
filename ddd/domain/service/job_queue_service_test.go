package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/backoff"
)

func TestJobQueue_EnqueueDedupe(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)

	first, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", DedupeKey: "req-1"})
	require.NoError(t, err)
	second, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", DedupeKey: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	claimed, err := env.queue.ClaimNext(env.ctx, wid, []string{"SEARCH"})
	require.NoError(t, err)
	_, err = env.queue.Complete(env.ctx, claimed.ID(), wid, map[string]interface{}{"ok": true})
	require.NoError(t, err)

	// 终态任务释放去重键
	third, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", DedupeKey: "req-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), third.ID())
	assert.Equal(t, vo.JobStatusPending, third.Status())
}

func TestJobQueue_EnqueueRequiresType(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.queue.Enqueue(env.ctx, EnqueueRequest{})
	var de *entity.DomainError
	assert.True(t, errors.As(err, &de))
}

func TestJobQueue_ClaimOrdersByPriorityThenAge(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)

	low, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", Priority: 5})
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	older, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", Priority: 1})
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	newer, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", Priority: 1})
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		job, err := env.queue.ClaimNext(env.ctx, wid, []string{"SEARCH"})
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.ID())
	}
	assert.Equal(t, []string{older.ID(), newer.ID(), low.ID()}, order)

	none, err := env.queue.ClaimNext(env.ctx, wid, []string{"SEARCH"})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestJobQueue_ClaimFiltersByType(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t, "DOWNLOAD")

	_, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)

	job, err := env.queue.ClaimNext(env.ctx, wid, []string{"DOWNLOAD"})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestJobQueue_ClaimRequiresActiveWorker(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	require.NoError(t, env.registry.Stop(env.ctx, wid))

	_, err := env.queue.ClaimNext(env.ctx, wid, nil)
	assert.ErrorIs(t, err, ErrWorkerNotActive)

	_, err = env.queue.ClaimNext(env.ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrWorkerNotActive)
}

func TestJobQueue_ConcurrentClaimsNeverShareJob(t *testing.T) {
	env := newTestEnv(t)
	const jobs = 40
	for i := 0; i < jobs; i++ {
		_, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
		require.NoError(t, err)
	}

	var (
		mu     sync.Mutex
		seen   = make(map[string]string)
		wg     sync.WaitGroup
		dupErr error
	)
	for w := 0; w < 8; w++ {
		wid := env.worker(t)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := env.queue.ClaimNext(env.ctx, wid, []string{"SEARCH"})
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				if prev, ok := seen[job.ID()]; ok {
					dupErr = errors.New("job " + job.ID() + " claimed by " + prev + " and " + wid)
				}
				seen[job.ID()] = wid
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.NoError(t, dupErr)
	assert.Len(t, seen, jobs)
}

func TestJobQueue_FailRetriesUntilBudgetExhausted(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 2})
	require.NoError(t, err)

	claimed, err := env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts())

	failed, err := env.queue.Fail(env.ctx, job.ID(), wid, errors.New("indexer timeout"))
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusPending, failed.Status())
	assert.Empty(t, failed.LockedBy())
	assert.Equal(t, "indexer timeout", failed.Error())

	claimed, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts())

	failed, err = env.queue.Fail(env.ctx, job.ID(), wid, errors.New("indexer timeout"))
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusFailed, failed.Status())
	assert.NotNil(t, failed.FinishedAt())
}

func TestJobQueue_PermanentFailureSkipsRetry(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 5})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)

	failed, err := env.queue.Fail(env.ctx, job.ID(), wid, failure.Permanentf("no release matched"))
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusFailed, failed.Status())
	assert.Equal(t, 1, failed.Attempts())
}

func TestJobQueue_BackoffDelaysReclaim(t *testing.T) {
	env := newTestEnv(t, WithBackoff(backoff.NewBackoff(10*time.Second, time.Minute, 2)))
	wid := env.worker(t)

	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 3})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)

	failed, err := env.queue.Fail(env.ctx, job.ID(), wid, errors.New("rate limited"))
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(20*time.Second), failed.RunAt())

	none, err := env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	env.clock.Advance(20 * time.Second)
	again, err := env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID(), again.ID())
}

func TestJobQueue_LeaseIsEnforced(t *testing.T) {
	env := newTestEnv(t)
	owner := env.worker(t)
	other := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, owner, nil)
	require.NoError(t, err)

	_, err = env.queue.Complete(env.ctx, job.ID(), other, nil)
	assert.ErrorIs(t, err, entity.ErrLeaseLost)
	assert.ErrorIs(t, env.queue.ReportProgress(env.ctx, job.ID(), other, 1, 2, "half"), entity.ErrLeaseLost)

	require.NoError(t, env.queue.ReportProgress(env.ctx, job.ID(), owner, 1, 2, "half"))
	got, err := env.queue.Get(env.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ProgressCurrent())
	assert.Equal(t, "half", got.ProgressMessage())

	done, err := env.queue.Complete(env.ctx, job.ID(), owner, map[string]interface{}{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCompleted, done.Status())
	assert.Equal(t, int64(2), done.ProgressCurrent())
}

func TestJobQueue_CancelPendingIsImmediate(t *testing.T) {
	env := newTestEnv(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)

	cancelled, err := env.queue.Cancel(env.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCancelled, cancelled.Status())

	_, err = env.queue.Cancel(env.ctx, job.ID())
	var de *entity.DomainError
	assert.True(t, errors.As(err, &de))
}

func TestJobQueue_CancelRunningIsCooperative(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 3})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)

	flagged, err := env.queue.RequestCancellation(env.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusRunning, flagged.Status())
	assert.True(t, flagged.CancelRequested())

	requested, err := env.queue.CancelRequested(env.ctx, job.ID())
	require.NoError(t, err)
	assert.True(t, requested)

	done, err := env.queue.Fail(env.ctx, job.ID(), wid, failure.ErrCancelled)
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCancelled, done.Status())
}

func TestJobQueue_CancelRequestedBlocksRetry(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 3})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	_, err = env.queue.RequestCancellation(env.ctx, job.ID())
	require.NoError(t, err)

	// 执行器未响应取消就以普通错误退出
	done, err := env.queue.Fail(env.ctx, job.ID(), wid, errors.New("connection reset"))
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCancelled, done.Status())
}

func TestJobQueue_PauseResume(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)

	_, err = env.queue.Pause(env.ctx, job.ID())
	require.NoError(t, err)
	none, err := env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = env.queue.Resume(env.ctx, job.ID())
	require.NoError(t, err)
	claimed, err := env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = env.queue.Pause(env.ctx, job.ID())
	assert.Error(t, err)
}

func TestJobQueue_ReapStaleRequeuesJobsOfDeadWorker(t *testing.T) {
	env := newTestEnv(t)
	stale := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 3})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, stale, nil)
	require.NoError(t, err)

	env.clock.Advance(10 * time.Second)
	n, err := env.queue.ReapStale(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.clock.Advance(31 * time.Second)
	fresh := env.worker(t)
	events, cancel := env.bus.Subscribe(event.ByType(event.JobReaped), 4)
	defer cancel()

	n, err = env.queue.ReapStale(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reaped, err := env.queue.Get(env.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusPending, reaped.Status())
	assert.Equal(t, 1, reaped.Attempts())
	assert.Contains(t, reaped.Error(), stale)

	w, err := env.registry.Get(env.ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, vo.WorkerStatusDead, w.Status())
	assert.ErrorIs(t, env.queue.Heartbeat(env.ctx, stale), ErrWorkerNotActive)

	select {
	case e := <-events:
		assert.Equal(t, job.ID(), e.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected reaped event")
	}

	claimed, err := env.queue.ClaimNext(env.ctx, fresh, nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 2, claimed.Attempts())
}

func TestJobQueue_ReapStaleFailsExhaustedJob(t *testing.T) {
	env := newTestEnv(t)
	stale := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 1})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, stale, nil)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	n, err := env.queue.ReapStale(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.queue.Get(env.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusFailed, got.Status())
}

func TestJobQueue_HeartbeatKeepsLease(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	_, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		env.clock.Advance(20 * time.Second)
		require.NoError(t, env.queue.Heartbeat(env.ctx, wid))
	}
	n, err := env.queue.ReapStale(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestJobQueue_RetryResetsAttempts(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 1})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	_, err = env.queue.Fail(env.ctx, job.ID(), wid, errors.New("boom"))
	require.NoError(t, err)

	retried, err := env.queue.Retry(env.ctx, job.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusPending, retried.Status())
	assert.Zero(t, retried.Attempts())
	assert.Empty(t, retried.Error())

	_, err = env.queue.Retry(env.ctx, job.ID())
	assert.Error(t, err)
}

func TestJobQueue_TerminalJobsOnlyLeaveViaRetry(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	failed, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH", MaxAttempts: 1})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	_, err = env.queue.Fail(env.ctx, failed.ID(), wid, errors.New("boom"))
	require.NoError(t, err)

	done, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	_, err = env.queue.Complete(env.ctx, done.ID(), wid, nil)
	require.NoError(t, err)

	// 回收和再次领取都不会碰终态任务
	env.clock.Advance(time.Hour)
	_, err = env.queue.ReapStale(env.ctx)
	require.NoError(t, err)
	next, err := env.queue.ClaimNext(env.ctx, env.worker(t), nil)
	require.NoError(t, err)
	assert.Nil(t, next)

	got, err := env.queue.Get(env.ctx, failed.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusFailed, got.Status())

	_, err = env.queue.Retry(env.ctx, done.ID())
	assert.Error(t, err)
	got, err = env.queue.Get(env.ctx, done.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCompleted, got.Status())
}

func TestJobQueue_CleanupAndStats(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	old, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	_, err = env.queue.Complete(env.ctx, old.ID(), wid, nil)
	require.NoError(t, err)

	env.clock.Advance(8 * 24 * time.Hour)
	_, err = env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "DOWNLOAD"})
	require.NoError(t, err)

	stats, err := env.queue.Stats(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByStatus[vo.JobStatusCompleted.String()])

	n, err := env.queue.Cleanup(env.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = env.queue.Get(env.ctx, old.ID())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobQueue_PublishesLifecycleEvents(t *testing.T) {
	env := newTestEnv(t)
	wid := env.worker(t)
	events, cancel := env.bus.Subscribe(nil, 16)
	defer cancel()

	job, err := env.queue.Enqueue(env.ctx, EnqueueRequest{Type: "SEARCH"})
	require.NoError(t, err)
	_, err = env.queue.ClaimNext(env.ctx, wid, nil)
	require.NoError(t, err)
	_, err = env.queue.Complete(env.ctx, job.ID(), wid, nil)
	require.NoError(t, err)

	var types []event.Type
	for len(types) < 3 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("got %v", types)
		}
	}
	assert.Equal(t, []event.Type{event.JobEnqueued, event.JobClaimed, event.JobCompleted}, types)
}
