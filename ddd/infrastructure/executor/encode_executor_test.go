package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/domain/vo"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	script    func(a *entity.EncoderAssignmentEntity, obs service.EncodeObserver)
	cancelled []string
	unwatched []string
}

func (f *fakeDispatcher) SubmitEncodeJob(_ context.Context, job *entity.JobEntity, obs service.EncodeObserver) (*entity.EncoderAssignmentEntity, error) {
	a := entity.NewEncoderAssignmentEntity("asg-"+job.ID(), job.ID(), "/in/a.mkv", "/out/a.mp4", vo.EncodeProfile{Codec: "h264"}, 1, time.Now())
	if f.script != nil {
		// 调度端通知观察者时用的是各自恢复出的实体
		go f.script(entity.RestoreEncoderAssignmentEntity(a.State()), obs)
	}
	return a, nil
}

func (f *fakeDispatcher) CancelByJob(_ context.Context, jobID, _ string) (*entity.EncoderAssignmentEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil, nil
}

func (f *fakeDispatcher) Unwatch(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unwatched = append(f.unwatched, jobID)
}

func TestEncodeExecutor_CompletesWithOutputMeta(t *testing.T) {
	d := &fakeDispatcher{script: func(a *entity.EncoderAssignmentEntity, obs service.EncodeObserver) {
		now := time.Now()
		_ = a.AssignTo("enc-1", now)
		_ = a.UpdateProgress(40, 30, 1.2, 12, now)
		obs.OnProgress(a)
		_ = a.Complete(map[string]interface{}{"size": 2048}, now)
		obs.OnFinished(a)
	}}
	ctl := &fakeControl{}

	result, err := NewEncodeExecutor(d, time.Hour).Execute(context.Background(), stepJob("job-1", port.StepPayload{}), ctl)
	require.NoError(t, err)

	assert.Equal(t, "/out/a.mp4", result["path"])
	assert.Equal(t, "enc-1", result["encoderId"])
	assert.Equal(t, "asg-job-1", result["assignmentId"])
	assert.Equal(t, 2048, result["size"])
	assert.Equal(t, []int64{40}, ctl.progress)
	assert.Equal(t, []string{"job-1"}, d.unwatched)
	assert.Empty(t, d.cancelled)
}

func TestEncodeExecutor_FailedAssignmentIsPermanent(t *testing.T) {
	d := &fakeDispatcher{script: func(a *entity.EncoderAssignmentEntity, obs service.EncodeObserver) {
		now := time.Now()
		for {
			_ = a.AssignTo("enc-1", now)
			requeued, _ := a.Fail("exit status 1", now)
			if !requeued {
				break
			}
		}
		obs.OnFinished(a)
	}}

	_, err := NewEncodeExecutor(d, time.Hour).Execute(context.Background(), stepJob("job-2", port.StepPayload{}), &fakeControl{})
	require.Error(t, err)
	assert.True(t, failure.IsPermanent(err))
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestEncodeExecutor_CancellationForwardedToNode(t *testing.T) {
	d := &fakeDispatcher{}
	ctl := &fakeControl{cancelled: true}

	_, err := NewEncodeExecutor(d, 10*time.Millisecond).Execute(context.Background(), stepJob("job-3", port.StepPayload{}), ctl)
	assert.True(t, failure.IsCancelled(err))
	assert.Equal(t, []string{"job-3"}, d.cancelled)
	assert.Equal(t, []string{"job-3"}, d.unwatched)
}
