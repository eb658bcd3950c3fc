package component

import (
	"context"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/application/app"
	"acquisition-service/ddd/application/cqe"
	"acquisition-service/ddd/domain/event"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/memory"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(values))}
	for i, v := range values {
		r.msgs <- kafka.Message{Offset: int64(i), Value: []byte(v)}
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newPipelineApp(t *testing.T) app.PipelineApp {
	t.Helper()
	store := memory.NewStore()
	bus := event.NewBus()
	queue := service.NewJobQueueService(memory.NewJobRepository(store), memory.NewWorkerRepository(store), bus)
	pipeline := service.NewPipelineService(memory.NewTemplateRepository(store), memory.NewExecutionRepository(store), queue, bus,
		service.WithApprovalTimers(false))
	t.Cleanup(pipeline.Close)

	a := app.NewPipelineApp(pipeline)
	_, err := a.CreateTemplate(context.Background(), &cqe.TemplateReq{
		ID:        "tv",
		Name:      "tv",
		MediaType: "tv",
		Steps:     []vo.StepDefinition{{ID: "search", Type: vo.StepTypeSearch, Required: true}},
	})
	require.NoError(t, err)
	return a
}

func TestMediaRequestConsumer(t *testing.T) {
	pipeline := newPipelineApp(t)
	reader := newFakeReader(
		`{"requestId":"r1","mediaType":"tv"}`,
		`{"requestId":"r1","mediaType":"tv"}`,
		`not json`,
		`{"requestId":"r2","mediaType":"movie"}`,
		`{"requestId":"r3","templateId":"tv"}`,
	)
	c := NewMediaRequestConsumer(reader, pipeline, ConsumerOptions{CommitOnDecodeError: true})
	require.NoError(t, c.Start(context.Background()))

	// r2 没有匹配的模板，不提交
	require.Eventually(t, func() bool { return len(reader.Committed()) == 4 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop())
	assert.Equal(t, []int64{0, 1, 2, 4}, reader.Committed())

	page, err := pipeline.ListExecutions(context.Background(), &cqe.ListExecutionsReq{RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total, "redelivered request starts only one execution")

	page, err = pipeline.ListExecutions(context.Background(), &cqe.ListExecutionsReq{RequestID: "r3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}
