package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
)

type fakeControl struct {
	mu        sync.Mutex
	progress  []int64
	cancelled bool
}

func (c *fakeControl) ReportProgress(_ context.Context, current, _ int64, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, current)
	return nil
}

func (c *fakeControl) Checkpoint(ctx context.Context) error {
	if c.cancelled {
		return failure.ErrCancelled
	}
	return ctx.Err()
}

func stepJob(id string, payload port.StepPayload) *entity.JobEntity {
	return entity.NewJobEntity(id, "TEST", payload.ToMap(), "", 0, 3, time.Now())
}

type fakeSearch struct {
	got        gateway.SearchQuery
	candidates []gateway.ReleaseCandidate
	err        error
}

func (f *fakeSearch) Search(_ context.Context, q gateway.SearchQuery) ([]gateway.ReleaseCandidate, error) {
	f.got = q
	return f.candidates, f.err
}

func TestSearchExecutor_PicksBestCandidate(t *testing.T) {
	provider := &fakeSearch{candidates: []gateway.ReleaseCandidate{
		{Title: "low", URL: "u1", Score: 0.2},
		{Title: "best", URL: "u2", Score: 0.9},
		{Title: "mid", URL: "u3", Score: 0.5},
	}}
	ex := NewSearchExecutor(provider, 20)

	job := stepJob("job-1", port.StepPayload{
		RequestID: "req-1",
		Config:    map[string]interface{}{"limit": 2, "mediaType": "movie"},
		ParentResult: map[string]interface{}{"title": "Heat 1995"},
	})
	result, err := ex.Execute(context.Background(), job, &fakeControl{})
	require.NoError(t, err)

	assert.Equal(t, gateway.SearchQuery{RequestID: "req-1", Query: "Heat 1995", MediaType: "movie", Limit: 2}, provider.got)
	assert.Equal(t, "best", result["title"])
	assert.Equal(t, "u2", result["url"])
	assert.Len(t, result["candidates"], 2)
}

func TestSearchExecutor_Failures(t *testing.T) {
	ex := NewSearchExecutor(&fakeSearch{}, 0)

	_, err := ex.Execute(context.Background(), stepJob("job-1", port.StepPayload{}), &fakeControl{})
	assert.True(t, failure.IsPermanent(err))

	_, err = ex.Execute(context.Background(), stepJob("job-2", port.StepPayload{Config: map[string]interface{}{"query": "x"}}), &fakeControl{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.True(t, failure.IsRetryable(err))

	_, err = ex.Execute(context.Background(), stepJob("job-3", port.StepPayload{Config: map[string]interface{}{"query": "x"}}), &fakeControl{cancelled: true})
	assert.True(t, failure.IsCancelled(err))
}

type fakeDownload struct {
	statuses []gateway.DownloadStatus
	polls    int
	started  map[string]interface{}
}

func (f *fakeDownload) Start(_ context.Context, payload map[string]interface{}) (string, error) {
	f.started = payload
	return "h-1", nil
}

func (f *fakeDownload) Status(context.Context, string) (gateway.DownloadStatus, error) {
	s := f.statuses[f.polls]
	if f.polls < len(f.statuses)-1 {
		f.polls++
	}
	return s, nil
}

func (f *fakeDownload) Result(context.Context, string) (string, error) {
	return "/data/heat.mkv", nil
}

func TestDownloadExecutor_PollsUntilComplete(t *testing.T) {
	client := &fakeDownload{statuses: []gateway.DownloadStatus{
		{State: gateway.DownloadQueued},
		{State: gateway.DownloadDownloading, BytesDone: 50, BytesTotal: 100},
		{State: gateway.DownloadCompleted, BytesDone: 100, BytesTotal: 100},
	}}
	ex := NewDownloadExecutor(client, time.Millisecond, time.Second)
	ctl := &fakeControl{}

	job := stepJob("job-1", port.StepPayload{RequestID: "req-1", ParentResult: map[string]interface{}{"url": "magnet:x", "title": "Heat"}})
	result, err := ex.Execute(context.Background(), job, ctl)
	require.NoError(t, err)

	assert.Equal(t, "magnet:x", client.started["url"])
	assert.Equal(t, "job-1", client.started["jobId"])
	assert.Equal(t, "/data/heat.mkv", result["inputPath"])
	assert.Equal(t, int64(100), result["bytes"])
	assert.Equal(t, []int64{0, 50, 100}, ctl.progress)
}

func TestDownloadExecutor_FailedStateIsRetryable(t *testing.T) {
	client := &fakeDownload{statuses: []gateway.DownloadStatus{{State: gateway.DownloadFailed, Message: "tracker down"}}}
	ex := NewDownloadExecutor(client, time.Millisecond, 0)

	_, err := ex.Execute(context.Background(), stepJob("job-1", port.StepPayload{Config: map[string]interface{}{"url": "u"}}), &fakeControl{})
	require.Error(t, err)
	assert.True(t, failure.IsRetryable(err))
	assert.Contains(t, err.Error(), "tracker down")
}

func TestDownloadExecutor_TimesOut(t *testing.T) {
	client := &fakeDownload{statuses: []gateway.DownloadStatus{{State: gateway.DownloadDownloading}}}
	ex := NewDownloadExecutor(client, time.Millisecond, 20*time.Millisecond)

	_, err := ex.Execute(context.Background(), stepJob("job-1", port.StepPayload{Config: map[string]interface{}{"url": "u"}}), &fakeControl{})
	require.Error(t, err)
	assert.True(t, failure.IsRetryable(err))
	assert.Contains(t, err.Error(), "timed out")
}

type fakeDelivery struct {
	local, key string
}

func (f *fakeDelivery) Deliver(_ context.Context, localPath, objectKey, _ string) (string, error) {
	f.local, f.key = localPath, objectKey
	return "https://cdn.example/" + objectKey, nil
}

func TestDeliverExecutor(t *testing.T) {
	file := filepath.Join(t.TempDir(), "heat.mp4")
	require.NoError(t, os.WriteFile(file, []byte("0123456789"), 0o644))

	delivery := &fakeDelivery{}
	ex := NewDeliverExecutor(delivery, "/media/")
	ctl := &fakeControl{}

	result, err := ex.Execute(context.Background(), stepJob("job-1", port.StepPayload{
		RequestID:    "req-1",
		ParentResult: map[string]interface{}{"outputPath": file},
	}), ctl)
	require.NoError(t, err)

	assert.Equal(t, "media/req-1/heat.mp4", delivery.key)
	assert.Equal(t, "https://cdn.example/media/req-1/heat.mp4", result["url"])
	assert.Equal(t, int64(10), result["size"])
	assert.Equal(t, []int64{10}, ctl.progress)

	_, err = ex.Execute(context.Background(), stepJob("job-2", port.StepPayload{
		ParentResult: map[string]interface{}{"path": filepath.Join(t.TempDir(), "missing.mp4")},
	}), ctl)
	assert.True(t, failure.IsPermanent(err))
}

type fakeNotifier struct {
	event   string
	payload map[string]interface{}
	err     error
}

func (f *fakeNotifier) Notify(_ context.Context, event string, payload map[string]interface{}) error {
	f.event, f.payload = event, payload
	return f.err
}

func TestNotificationExecutor_NeverFailsTheStep(t *testing.T) {
	notifier := &fakeNotifier{}
	ex := NewNotificationExecutor(notifier)
	job := stepJob("job-1", port.StepPayload{RequestID: "req-1", StepID: "notify", Config: map[string]interface{}{"message": "ready"}})

	result, err := ex.Execute(context.Background(), job, &fakeControl{})
	require.NoError(t, err)
	assert.Equal(t, defaultNotificationEvent, notifier.event)
	assert.Equal(t, "req-1", notifier.payload["requestId"])
	assert.Equal(t, "ready", notifier.payload["message"])
	assert.Equal(t, true, result["delivered"])

	notifier.err = errors.New("broker down")
	result, err = ex.Execute(context.Background(), job, &fakeControl{})
	require.NoError(t, err)
	assert.Equal(t, false, result["delivered"])
}
