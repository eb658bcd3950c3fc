package encodernode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"acquisition-service/ddd/domain/vo"
	"acquisition-service/pkg/backoff"
	"acquisition-service/pkg/config"
	"acquisition-service/pkg/logger"
	"acquisition-service/proto/encoderpb"
)

// AddressResolver 返回调度端 gRPC 地址
type AddressResolver func(ctx context.Context) (string, error)

// StaticAddress 固定地址
func StaticAddress(addr string) AddressResolver {
	return func(context.Context) (string, error) {
		if addr == "" {
			return "", errors.New("encoder session address is empty")
		}
		return addr, nil
	}
}

// Node 远程编码节点：维持与调度端的会话，执行分配到本机的编码
type Node struct {
	cfg      config.EncoderNodeConfig
	encoder  Encoder
	caps     vo.Capabilities
	resolve  AddressResolver
	dialOpts []grpc.DialOption
	retry    *backoff.Backoff

	mu      sync.Mutex
	stream  encoderpb.EncoderSession_ConnectClient
	running map[string]context.CancelFunc
	// 会话断开期间未送达的结果，重连后补发
	pending []*encoderpb.NodeMessage

	wg sync.WaitGroup
}

func NewNode(cfg config.EncoderNodeConfig, encoder Encoder, caps vo.Capabilities, resolve AddressResolver, dialOpts ...grpc.DialOption) *Node {
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Node{
		cfg:      cfg,
		encoder:  encoder,
		caps:     caps,
		resolve:  resolve,
		dialOpts: dialOpts,
		retry:    backoff.NewBackoff(cfg.ReconnectMin, cfg.ReconnectMax, 2).WithJitter(),
		running:  make(map[string]context.CancelFunc),
	}
}

// Run 断线后按退避重连，直到 ctx 结束；返回前等待进行中的编码退出
func (n *Node) Run(ctx context.Context) error {
	defer n.wg.Wait()
	attempt := 0
	for {
		registered, err := n.session(ctx)
		if ctx.Err() != nil {
			n.cancelAll()
			return nil
		}
		if registered {
			attempt = 0
		}
		attempt++
		wait := n.retry.Duration(attempt)
		logger.Warnf("encoder session ended encoder_id=%s error=%v retry_in=%s", n.cfg.EncoderID, err, wait)
		select {
		case <-ctx.Done():
			n.cancelAll()
			return nil
		case <-time.After(wait):
		}
	}
}

// Running 当前执行中的分配数
func (n *Node) Running() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.running)
}

func (n *Node) session(ctx context.Context) (bool, error) {
	addr, err := n.resolve(ctx)
	if err != nil {
		return false, err
	}
	conn, err := grpc.NewClient(addr, n.dialOpts...)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := encoderpb.NewEncoderSessionClient(conn).Connect(sessCtx)
	if err != nil {
		return false, err
	}

	caps := n.caps
	if err := stream.Send(&encoderpb.NodeMessage{
		Type:          encoderpb.NodeRegister,
		EncoderID:     n.cfg.EncoderID,
		Name:          n.cfg.Name,
		Capabilities:  &caps,
		MaxConcurrent: n.cfg.MaxConcurrent,
	}); err != nil {
		return false, err
	}
	reply, err := stream.Recv()
	if err != nil {
		return false, err
	}
	if reply.Type != encoderpb.ServerRegistered {
		return false, fmt.Errorf("register rejected: %s %s", reply.Type, reply.Error)
	}
	if reply.EncoderID != "" {
		n.cfg.EncoderID = reply.EncoderID
	}
	logger.Infof("encoder registered encoder_id=%s addr=%s heartbeat_ms=%d", n.cfg.EncoderID, addr, reply.HeartbeatIntervalMs)

	n.attach(stream)
	defer n.detach(stream)

	interval := time.Duration(reply.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go n.heartbeat(sessCtx, interval)

	for {
		msg, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, nil
			}
			return true, err
		}
		n.handle(ctx, msg)
	}
}

func (n *Node) handle(ctx context.Context, msg *encoderpb.ServerMessage) {
	switch msg.Type {
	case encoderpb.ServerAssign:
		task := Task{
			AssignmentID: msg.AssignmentID,
			JobID:        msg.JobID,
			InputPath:    msg.InputPath,
			OutputPath:   msg.OutputPath,
		}
		if msg.Profile != nil {
			task.Profile = *msg.Profile
		}
		n.start(ctx, task)
	case encoderpb.ServerCancel:
		n.mu.Lock()
		cancel, ok := n.running[msg.AssignmentID]
		n.mu.Unlock()
		if ok {
			logger.Infof("encode cancelled by server assignment_id=%s", msg.AssignmentID)
			cancel()
		}
	case encoderpb.ServerError:
		logger.Warnf("encoder session error encoder_id=%s error=%s", n.cfg.EncoderID, msg.Error)
	default:
		logger.Debugf("ignoring server message type=%s", msg.Type)
	}
}

func (n *Node) start(ctx context.Context, task Task) {
	n.mu.Lock()
	if _, dup := n.running[task.AssignmentID]; dup {
		n.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	n.running[task.AssignmentID] = cancel
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			cancel()
			n.mu.Lock()
			delete(n.running, task.AssignmentID)
			n.mu.Unlock()
		}()
		n.encode(runCtx, task)
	}()
}

func (n *Node) encode(ctx context.Context, task Task) {
	logger.Infof("encode started assignment_id=%s job_id=%s input=%s", task.AssignmentID, task.JobID, task.InputPath)
	meta, err := n.encoder.Encode(ctx, task, func(p Progress) {
		n.send(&encoderpb.NodeMessage{
			Type:         encoderpb.NodeProgress,
			AssignmentID: task.AssignmentID,
			Progress:     p.Percent,
			FPS:          p.FPS,
			Speed:        p.Speed,
			ETASeconds:   p.ETASeconds,
		}, false)
	})
	if ctx.Err() != nil {
		// 服务端取消或节点停机，不回报结果
		return
	}
	if err != nil {
		logger.Errorf("encode failed assignment_id=%s error=%v", task.AssignmentID, err)
		n.send(&encoderpb.NodeMessage{Type: encoderpb.NodeFail, AssignmentID: task.AssignmentID, Error: err.Error()}, true)
		return
	}
	logger.Infof("encode completed assignment_id=%s", task.AssignmentID)
	n.send(&encoderpb.NodeMessage{Type: encoderpb.NodeComplete, AssignmentID: task.AssignmentID, OutputMeta: meta}, true)
}

func (n *Node) heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(&encoderpb.NodeMessage{Type: encoderpb.NodeHeartbeat, CurrentJobs: n.Running()}, false)
		}
	}
}

// send 串行写流；keep 为 true 的消息在无会话时暂存
func (n *Node) send(msg *encoderpb.NodeMessage, keep bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stream != nil {
		err := n.stream.Send(msg)
		if err == nil {
			return
		}
		logger.Warnf("encoder send failed type=%s assignment_id=%s error=%v", msg.Type, msg.AssignmentID, err)
	}
	if keep {
		n.pending = append(n.pending, msg)
	}
}

func (n *Node) attach(stream encoderpb.EncoderSession_ConnectClient) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stream = stream
	pending := n.pending
	n.pending = nil
	for i, msg := range pending {
		if err := stream.Send(msg); err != nil {
			n.pending = append(n.pending, pending[i:]...)
			return
		}
	}
}

func (n *Node) detach(stream encoderpb.EncoderSession_ConnectClient) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stream == stream {
		n.stream = nil
	}
}

func (n *Node) cancelAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, cancel := range n.running {
		cancel()
	}
}
