package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/failure"
	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/port"
	"acquisition-service/ddd/domain/vo"
	"acquisition-service/ddd/infrastructure/memory"
)

type fakeSession struct {
	mu        sync.Mutex
	assigned  []gateway.AssignCommand
	cancelled []string
	broken    bool
	closed    bool
}

func (s *fakeSession) Assign(cmd gateway.AssignCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("stream closed")
	}
	s.assigned = append(s.assigned, cmd)
	return nil
}

func (s *fakeSession) Cancel(assignmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, assignmentID)
	return nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) cancels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func (s *fakeSession) assignments() []gateway.AssignCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.AssignCommand(nil), s.assigned...)
}

type recordingObserver struct {
	mu       sync.Mutex
	progress []float64
	finished []*entity.EncoderAssignmentEntity
}

func (o *recordingObserver) OnProgress(a *entity.EncoderAssignmentEntity) {
	o.mu.Lock()
	o.progress = append(o.progress, a.Progress())
	o.mu.Unlock()
}

func (o *recordingObserver) OnFinished(a *entity.EncoderAssignmentEntity) {
	o.mu.Lock()
	o.finished = append(o.finished, a)
	o.mu.Unlock()
}

func (o *recordingObserver) last() *entity.EncoderAssignmentEntity {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.finished) == 0 {
		return nil
	}
	return o.finished[len(o.finished)-1]
}

type dispatchEnv struct {
	*testEnv
	dispatch *DispatchService
	wid      string
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	env := newTestEnv(t)
	d := NewDispatchService(
		memory.NewEncoderRepository(env.store),
		memory.NewAssignmentRepository(env.store),
		env.bus,
		WithDispatchClock(env.clock.Now),
		WithLiveness(10*time.Second, 3),
		WithAssignmentMaxAttempts(2),
	)
	return &dispatchEnv{testEnv: env, dispatch: d, wid: env.worker(t, vo.StepTypeEncode.String())}
}

func hevcCaps() vo.Capabilities {
	return vo.Capabilities{
		VideoEncoders: map[string]vo.CodecEncoders{
			"hevc": {Hardware: []string{"hevc_nvenc"}, Software: []string{"libx265"}},
			"h264": {Software: []string{"libx264"}},
		},
		HWAccels:      []string{"cuda"},
		AudioEncoders: []string{"aac", "opus"},
	}
}

func (d *dispatchEnv) register(t *testing.T, id string, max int) *fakeSession {
	t.Helper()
	sess := &fakeSession{}
	_, err := d.dispatch.Register(d.ctx, RegisterRequest{EncoderID: id, Name: id, Capabilities: hevcCaps(), MaxConcurrent: max}, sess)
	require.NoError(t, err)
	return sess
}

// claimEncode 入队并领取一个 ENCODE 任务
func (d *dispatchEnv) claimEncode(t *testing.T, input, codec string) *entity.JobEntity {
	t.Helper()
	payload := port.StepPayload{
		ExecutionID: "exec-1",
		StepRunID:   input,
		Config: map[string]interface{}{
			"inputPath": input,
			"profile":   map[string]interface{}{"codec": codec, "container": "mkv"},
		},
	}
	_, err := d.queue.Enqueue(d.ctx, EnqueueRequest{Type: vo.StepTypeEncode.String(), Payload: payload.ToMap()})
	require.NoError(t, err)
	job, err := d.queue.ClaimNext(d.ctx, d.wid, []string{vo.StepTypeEncode.String()})
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func (d *dispatchEnv) encoder(t *testing.T, id string) *entity.RemoteEncoderEntity {
	t.Helper()
	enc, err := d.dispatch.GetEncoder(d.ctx, id)
	require.NoError(t, err)
	return enc
}

func TestDispatch_SecondJobWaitsForCapacity(t *testing.T) {
	d := newDispatchEnv(t)
	sess := d.register(t, "enc-1", 1)

	obs1 := &recordingObserver{}
	a1, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), obs1)
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentEncoding, a1.Status())
	assert.Equal(t, "enc-1", a1.EncoderID())
	assert.Equal(t, 1, d.encoder(t, "enc-1").CurrentJobs())
	assert.Equal(t, vo.EncoderEncoding, d.encoder(t, "enc-1").Status())

	obs2 := &recordingObserver{}
	a2, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/b.mkv", "hevc"), obs2)
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentPending, a2.Status())
	require.Len(t, sess.assignments(), 1)

	require.NoError(t, d.dispatch.Complete(d.ctx, "enc-1", a1.ID(), map[string]interface{}{"sizeBytes": 1024}))
	require.NotNil(t, obs1.last())
	assert.Equal(t, vo.AssignmentCompleted, obs1.last().Status())

	got, err := d.dispatch.GetAssignment(d.ctx, a2.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentEncoding, got.Status())
	enc := d.encoder(t, "enc-1")
	assert.Equal(t, 1, enc.CurrentJobs())
	assert.Equal(t, int64(1), enc.TotalCompleted())
	require.Len(t, sess.assignments(), 2)
	assert.Equal(t, a2.ID(), sess.assignments()[1].AssignmentID)
	assert.Equal(t, "/media/b.encoded.mkv", sess.assignments()[1].OutputPath)
}

func TestDispatch_ResubmitWatchesInFlightAssignment(t *testing.T) {
	d := newDispatchEnv(t)
	sess := d.register(t, "enc-1", 1)
	job := d.claimEncode(t, "/media/a.mkv", "hevc")
	first, err := d.dispatch.SubmitEncodeJob(d.ctx, job, nil)
	require.NoError(t, err)
	require.Equal(t, vo.AssignmentEncoding, first.Status())

	// worker 重启后重新提交同一任务，挂到进行中的分配上
	obs := &recordingObserver{}
	again, err := d.dispatch.SubmitEncodeJob(d.ctx, job, obs)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), again.ID())
	assert.Len(t, sess.assignments(), 1)

	require.NoError(t, d.dispatch.Complete(d.ctx, "enc-1", first.ID(), nil))
	require.NotNil(t, obs.last())
	assert.Equal(t, first.ID(), obs.last().ID())
	assert.Equal(t, vo.AssignmentCompleted, obs.last().Status())
}

func TestDispatch_NewEncoderPicksUpPending(t *testing.T) {
	d := newDispatchEnv(t)
	d.register(t, "enc-1", 1)
	_, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), nil)
	require.NoError(t, err)
	a2, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/b.mkv", "hevc"), nil)
	require.NoError(t, err)
	require.Equal(t, vo.AssignmentPending, a2.Status())

	sess2 := d.register(t, "enc-2", 2)
	got, err := d.dispatch.GetAssignment(d.ctx, a2.ID())
	require.NoError(t, err)
	assert.Equal(t, "enc-2", got.EncoderID())
	assert.Len(t, sess2.assignments(), 1)
}

func TestDispatch_PrefersLeastLoadedEncoder(t *testing.T) {
	d := newDispatchEnv(t)
	d.register(t, "enc-1", 4)
	d.register(t, "enc-2", 4)

	a1, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), nil)
	require.NoError(t, err)
	a2, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/b.mkv", "hevc"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a1.EncoderID(), a2.EncoderID())
}

func TestDispatch_CapabilityMismatchStaysPending(t *testing.T) {
	d := newDispatchEnv(t)
	sess := d.register(t, "enc-1", 2)

	a, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "av1"), nil)
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentPending, a.Status())
	assert.Empty(t, sess.assignments())

	active, total, err := d.dispatch.ListAssignments(d.ctx, "active", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, active, 1)
}

func TestDispatch_SubmitIsIdempotentPerJob(t *testing.T) {
	d := newDispatchEnv(t)
	d.register(t, "enc-1", 1)
	job := d.claimEncode(t, "/media/a.mkv", "hevc")

	first, err := d.dispatch.SubmitEncodeJob(d.ctx, job, nil)
	require.NoError(t, err)
	second, err := d.dispatch.SubmitEncodeJob(d.ctx, job, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 1, d.encoder(t, "enc-1").CurrentJobs())
}

func TestDispatch_SubmitRejectsIncompletePayload(t *testing.T) {
	d := newDispatchEnv(t)
	_, err := d.queue.Enqueue(d.ctx, EnqueueRequest{Type: vo.StepTypeEncode.String(), Payload: map[string]interface{}{}})
	require.NoError(t, err)
	job, err := d.queue.ClaimNext(d.ctx, d.wid, nil)
	require.NoError(t, err)

	_, err = d.dispatch.SubmitEncodeJob(d.ctx, job, nil)
	assert.True(t, failure.IsPermanent(err))

	noCodec := d.claimEncode(t, "/media/a.mkv", "")
	_, err = d.dispatch.SubmitEncodeJob(d.ctx, noCodec, nil)
	assert.True(t, failure.IsPermanent(err))
}

func TestDispatch_FailRequeuesUntilBudgetExhausted(t *testing.T) {
	d := newDispatchEnv(t)
	sess := d.register(t, "enc-1", 1)
	obs := &recordingObserver{}
	a, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), obs)
	require.NoError(t, err)

	require.NoError(t, d.dispatch.Fail(d.ctx, "enc-1", a.ID(), "ffmpeg exited 1"))
	got, err := d.dispatch.GetAssignment(d.ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentEncoding, got.Status())
	assert.Equal(t, 2, got.Attempt())
	assert.Nil(t, obs.last())
	assert.Len(t, sess.assignments(), 2)

	require.NoError(t, d.dispatch.Fail(d.ctx, "enc-1", a.ID(), "ffmpeg exited 1"))
	require.NotNil(t, obs.last())
	assert.Equal(t, vo.AssignmentFailed, obs.last().Status())
	assert.Equal(t, "ffmpeg exited 1", obs.last().Error())

	enc := d.encoder(t, "enc-1")
	assert.Zero(t, enc.CurrentJobs())
	assert.Equal(t, int64(2), enc.TotalFailed())
	assert.Equal(t, vo.EncoderIdle, enc.Status())
}

func TestDispatch_LivenessRequeuesToOtherEncoder(t *testing.T) {
	d := newDispatchEnv(t)
	d.register(t, "enc-1", 1)
	a, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), nil)
	require.NoError(t, err)

	d.clock.Advance(25 * time.Second)
	n, err := d.dispatch.CheckLiveness(d.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	d.clock.Advance(10 * time.Second)
	n, err = d.dispatch.CheckLiveness(d.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	enc := d.encoder(t, "enc-1")
	assert.Equal(t, vo.EncoderOffline, enc.Status())
	assert.Zero(t, enc.CurrentJobs())
	assert.False(t, d.dispatch.HasSession("enc-1"))

	got, err := d.dispatch.GetAssignment(d.ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentPending, got.Status())
	assert.Equal(t, 2, got.Attempt())
	assert.Empty(t, got.EncoderID())

	// 旧节点迟到的结果被拒绝
	assert.Error(t, d.dispatch.Complete(d.ctx, "enc-1", a.ID(), nil))

	d.register(t, "enc-2", 1)
	got, err = d.dispatch.GetAssignment(d.ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, "enc-2", got.EncoderID())
}

func TestDispatch_HeartbeatKeepsEncoderOnline(t *testing.T) {
	d := newDispatchEnv(t)
	d.register(t, "enc-1", 1)
	for i := 0; i < 4; i++ {
		d.clock.Advance(10 * time.Second)
		require.NoError(t, d.dispatch.Heartbeat(d.ctx, "enc-1", 0))
	}
	n, err := d.dispatch.CheckLiveness(d.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, d.dispatch.Heartbeat(d.ctx, "ghost", 0), ErrEncoderNotFound)
}

func TestDispatch_BrokenSessionRequeues(t *testing.T) {
	d := newDispatchEnv(t)
	sess := d.register(t, "enc-1", 1)
	sess.broken = true

	a, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), nil)
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentPending, a.Status())
	assert.False(t, d.dispatch.HasSession("enc-1"))
	assert.True(t, sess.isClosed())
	assert.Zero(t, d.encoder(t, "enc-1").CurrentJobs())
}

func TestDispatch_OfflineEncoderMustRegisterAgain(t *testing.T) {
	d := newDispatchEnv(t)
	sess := d.register(t, "enc-1", 1)
	first, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), nil)
	require.NoError(t, err)
	require.Equal(t, vo.AssignmentEncoding, first.Status())

	d.clock.Advance(35 * time.Second)
	n, err := d.dispatch.CheckLiveness(d.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// 收回的分配通知节点停止，旧会话被关闭
	assert.Equal(t, []string{first.ID()}, sess.cancels())
	assert.True(t, sess.isClosed())

	// 旧流上迟到的心跳不能让节点复活
	assert.ErrorIs(t, d.dispatch.Heartbeat(d.ctx, "enc-1", 1), ErrNoSession)
	assert.Equal(t, vo.EncoderOffline, d.encoder(t, "enc-1").Status())

	again := d.register(t, "enc-1", 1)
	got, err := d.dispatch.GetAssignment(d.ctx, first.ID())
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentEncoding, got.Status())
	assert.Equal(t, "enc-1", got.EncoderID())
	require.Len(t, again.assignments(), 1)
	assert.Equal(t, first.ID(), again.assignments()[0].AssignmentID)
	require.NoError(t, d.dispatch.Heartbeat(d.ctx, "enc-1", 1))

	require.NoError(t, d.dispatch.Complete(d.ctx, "enc-1", first.ID(), nil))
	second, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/b.mkv", "hevc"), nil)
	require.NoError(t, err)
	assert.Equal(t, vo.AssignmentEncoding, second.Status())
	assert.Equal(t, "enc-1", second.EncoderID())
}

func TestDispatch_ReregisterClosesPreviousSession(t *testing.T) {
	d := newDispatchEnv(t)
	old := d.register(t, "enc-1", 1)
	d.register(t, "enc-1", 1)
	assert.True(t, old.isClosed())
	assert.True(t, d.dispatch.HasSession("enc-1"))
}

func TestDispatch_CancelByJob(t *testing.T) {
	d := newDispatchEnv(t)
	sess := d.register(t, "enc-1", 1)
	obs := &recordingObserver{}
	job := d.claimEncode(t, "/media/a.mkv", "hevc")
	a, err := d.dispatch.SubmitEncodeJob(d.ctx, job, obs)
	require.NoError(t, err)

	cancelled, err := d.dispatch.CancelByJob(d.ctx, job.ID(), "user cancelled")
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, vo.AssignmentCancelled, cancelled.Status())
	assert.Equal(t, []string{a.ID()}, sess.cancelled)
	assert.Zero(t, d.encoder(t, "enc-1").CurrentJobs())
	require.NotNil(t, obs.last())
	assert.Equal(t, vo.AssignmentCancelled, obs.last().Status())

	again, err := d.dispatch.CancelByJob(d.ctx, job.ID(), "again")
	require.NoError(t, err)
	assert.Nil(t, again)

	history, _, err := d.dispatch.ListAssignments(d.ctx, "history", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestDispatch_ProgressForwardedToObserver(t *testing.T) {
	d := newDispatchEnv(t)
	d.register(t, "enc-1", 1)
	d.register(t, "enc-2", 1)
	obs := &recordingObserver{}
	a, err := d.dispatch.SubmitEncodeJob(d.ctx, d.claimEncode(t, "/media/a.mkv", "hevc"), obs)
	require.NoError(t, err)

	require.NoError(t, d.dispatch.Progress(d.ctx, a.EncoderID(), ProgressUpdate{AssignmentID: a.ID(), Progress: 42.5, FPS: 90, Speed: 3.1, ETASeconds: 120}))
	require.NoError(t, d.dispatch.Progress(d.ctx, a.EncoderID(), ProgressUpdate{AssignmentID: a.ID(), Progress: 140}))
	assert.Equal(t, []float64{42.5, 100}, obs.progress)

	other := "enc-1"
	if a.EncoderID() == other {
		other = "enc-2"
	}
	assert.Error(t, d.dispatch.Progress(d.ctx, other, ProgressUpdate{AssignmentID: a.ID(), Progress: 50}))
	_, err = d.dispatch.GetAssignment(d.ctx, "missing")
	assert.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestDispatch_ResubmitAfterFinishReportsImmediately(t *testing.T) {
	d := newDispatchEnv(t)
	d.register(t, "enc-1", 1)
	job := d.claimEncode(t, "/media/a.mkv", "hevc")
	a, err := d.dispatch.SubmitEncodeJob(d.ctx, job, nil)
	require.NoError(t, err)
	require.NoError(t, d.dispatch.Complete(d.ctx, "enc-1", a.ID(), nil))

	// 重启后同一次领取再次提交：直接拿到已完成的结果
	obs := &recordingObserver{}
	again, err := d.dispatch.SubmitEncodeJob(d.ctx, job, obs)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), again.ID())
	require.NotNil(t, obs.last())
	assert.Equal(t, vo.AssignmentCompleted, obs.last().Status())
}
