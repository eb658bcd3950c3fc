package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	jobID, workerID string
	current, total  int64
	message         string
}

type recorder struct {
	calls []record
}

func (r *recorder) ReportProgress(_ context.Context, jobID, workerID string, current, total int64, message string) error {
	r.calls = append(r.calls, record{jobID, workerID, current, total, message})
	return nil
}

func TestSink_Throttles(t *testing.T) {
	rec := &recorder{}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := NewSink(rec, "job-1", "w-1", time.Second)
	sink.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, sink.Report(ctx, 10, 100, "first"))
	require.NoError(t, sink.Report(ctx, 20, 100, "dropped"))
	clock = clock.Add(500 * time.Millisecond)
	require.NoError(t, sink.Report(ctx, 30, 100, "dropped"))
	clock = clock.Add(600 * time.Millisecond)
	require.NoError(t, sink.Report(ctx, 40, 100, "second"))
	require.NoError(t, sink.Report(ctx, 100, 100, "done"))

	require.Len(t, rec.calls, 3)
	assert.Equal(t, record{"job-1", "w-1", 10, 100, "first"}, rec.calls[0])
	assert.Equal(t, "second", rec.calls[1].message)
	assert.Equal(t, "done", rec.calls[2].message)
}

func TestSink_ZeroIntervalWritesEverything(t *testing.T) {
	rec := &recorder{}
	sink := NewSink(rec, "job-1", "w-1", 0)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, sink.Report(context.Background(), i, 0, ""))
	}
	assert.Len(t, rec.calls, 5)
}
