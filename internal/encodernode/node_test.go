package encodernode

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/config"
	"acquisition-service/proto/encoderpb"
)

// scriptedServer 注册后下发固定的消息，并把节点消息转发给测试
type scriptedServer struct {
	script   []*encoderpb.ServerMessage
	received chan *encoderpb.NodeMessage
}

func (s *scriptedServer) Connect(stream encoderpb.EncoderSession_ConnectServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	s.record(first)
	if err := stream.Send(&encoderpb.ServerMessage{Type: encoderpb.ServerRegistered, EncoderID: first.EncoderID, HeartbeatIntervalMs: 20}); err != nil {
		return err
	}
	for _, m := range s.script {
		if err := stream.Send(m); err != nil {
			return err
		}
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			return nil
		}
		s.record(msg)
	}
}

func (s *scriptedServer) record(msg *encoderpb.NodeMessage) {
	select {
	case s.received <- msg:
	default:
	}
}

type fakeEncoder struct {
	block bool
}

func (f *fakeEncoder) Encode(ctx context.Context, task Task, onProgress func(Progress)) (map[string]interface{}, error) {
	onProgress(Progress{Percent: 42, FPS: 30, Speed: 1.5, ETASeconds: 10})
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return map[string]interface{}{"encoder": ResolveEncoder(task.Profile), "size": 1024}, nil
}

func startNode(t *testing.T, srv *scriptedServer, enc Encoder) *Node {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	encoderpb.RegisterEncoderSessionServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	cfg := config.EncoderNodeConfig{
		EncoderID:     "node-1",
		Name:          "test-node",
		MaxConcurrent: 2,
		ReconnectMin:  10 * time.Millisecond,
		ReconnectMax:  50 * time.Millisecond,
	}
	caps := vo.Capabilities{VideoEncoders: map[string]vo.CodecEncoders{"h264": {Software: []string{"libx264"}}}}
	node := NewNode(cfg, enc, caps, StaticAddress("passthrough:///bufnet"),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = node.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return node
}

// waitFor 跳过心跳，返回第一条指定类型的消息
func waitFor(t *testing.T, ch <-chan *encoderpb.NodeMessage, want encoderpb.NodeMessageType) *encoderpb.NodeMessage {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Type == want {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
			return nil
		}
	}
}

func TestNode_RegistersAndCompletesAssignment(t *testing.T) {
	srv := &scriptedServer{
		received: make(chan *encoderpb.NodeMessage, 64),
		script: []*encoderpb.ServerMessage{{
			Type:         encoderpb.ServerAssign,
			AssignmentID: "asg-1",
			JobID:        "job-1",
			InputPath:    "/in/a.mkv",
			OutputPath:   "/out/a.mp4",
			Profile:      &vo.EncodeProfile{Codec: "h264"},
		}},
	}
	startNode(t, srv, &fakeEncoder{})

	reg := waitFor(t, srv.received, encoderpb.NodeRegister)
	assert.Equal(t, "node-1", reg.EncoderID)
	assert.Equal(t, 2, reg.MaxConcurrent)
	require.NotNil(t, reg.Capabilities)
	assert.Contains(t, reg.Capabilities.VideoEncoders, "h264")

	progress := waitFor(t, srv.received, encoderpb.NodeProgress)
	assert.Equal(t, "asg-1", progress.AssignmentID)
	assert.InDelta(t, 42, progress.Progress, 0.001)
	assert.Equal(t, int64(10), progress.ETASeconds)

	done := waitFor(t, srv.received, encoderpb.NodeComplete)
	assert.Equal(t, "asg-1", done.AssignmentID)
	assert.Equal(t, "libx264", done.OutputMeta["encoder"])

	waitFor(t, srv.received, encoderpb.NodeHeartbeat)
}

func TestNode_CancelStopsEncodeWithoutReport(t *testing.T) {
	srv := &scriptedServer{
		received: make(chan *encoderpb.NodeMessage, 64),
		script: []*encoderpb.ServerMessage{
			{Type: encoderpb.ServerAssign, AssignmentID: "asg-2", InputPath: "in", OutputPath: "out", Profile: &vo.EncodeProfile{Codec: "h264"}},
			{Type: encoderpb.ServerCancel, AssignmentID: "asg-2"},
		},
	}
	node := startNode(t, srv, &fakeEncoder{block: true})

	waitFor(t, srv.received, encoderpb.NodeProgress)
	require.Eventually(t, func() bool { return node.Running() == 0 }, 3*time.Second, 10*time.Millisecond)

	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case msg := <-srv.received:
			assert.NotEqual(t, encoderpb.NodeFail, msg.Type)
			assert.NotEqual(t, encoderpb.NodeComplete, msg.Type)
		case <-deadline:
			return
		}
	}
}

func TestStaticAddress_Empty(t *testing.T) {
	_, err := StaticAddress("")(context.Background())
	assert.Error(t, err)
}
