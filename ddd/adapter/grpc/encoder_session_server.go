package grpc

import (
	"context"
	"errors"
	"io"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"acquisition-service/ddd/domain/gateway"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/pkg/logger"
	"acquisition-service/proto/encoderpb"
)

// Dispatcher 会话协议在调度服务上的落点
type Dispatcher interface {
	Register(ctx context.Context, req service.RegisterRequest, session gateway.EncoderSession) (string, int64, error)
	Heartbeat(ctx context.Context, encoderID string, reportedJobs int) error
	Progress(ctx context.Context, encoderID string, upd service.ProgressUpdate) error
	Complete(ctx context.Context, encoderID, assignmentID string, outputMeta map[string]interface{}) error
	Fail(ctx context.Context, encoderID, assignmentID, errMsg string) error
	Disconnect(encoderID string, session gateway.EncoderSession)
}

// EncoderSessionServer 每个远程编码节点一条双向流
type EncoderSessionServer struct {
	dispatch Dispatcher
}

// NewEncoderSessionServer creates the gRPC session endpoint.
func NewEncoderSessionServer(dispatch *service.DispatchService) *EncoderSessionServer {
	return &EncoderSessionServer{dispatch: dispatchAdapter{dispatch}}
}

// Connect 首条消息必须是 REGISTER，之后处理心跳、进度与结果
func (s *EncoderSessionServer) Connect(stream encoderpb.EncoderSession_ConnectServer) error {
	ctx := stream.Context()
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Type != encoderpb.NodeRegister {
		return status.Errorf(codes.FailedPrecondition, "first message must be REGISTER, got %s", first.Type)
	}

	sess := newStreamSession(stream)
	req := service.RegisterRequest{
		EncoderID:     first.EncoderID,
		Name:          first.Name,
		MaxConcurrent: first.MaxConcurrent,
	}
	if first.Capabilities != nil {
		req.Capabilities = *first.Capabilities
	}
	encoderID, heartbeatMs, err := s.dispatch.Register(ctx, req, sess)
	if err != nil {
		logger.Warnf("encoder register rejected encoder_id=%s error=%v", first.EncoderID, err)
		return status.Errorf(codes.InvalidArgument, "register failed: %v", err)
	}
	defer s.dispatch.Disconnect(encoderID, sess)

	if err := sess.send(&encoderpb.ServerMessage{
		Type:                encoderpb.ServerRegistered,
		EncoderID:           encoderID,
		HeartbeatIntervalMs: heartbeatMs,
	}); err != nil {
		return err
	}

	msgs := make(chan *encoderpb.NodeMessage)
	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-sess.done:
			logger.Warnf("encoder session expired encoder_id=%s", encoderID)
			return errSessionExpired
		case err := <-recvErr:
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			logger.Warnf("encoder session receive failed encoder_id=%s error=%v", encoderID, err)
			return err
		case msg := <-msgs:
			err := s.handle(ctx, encoderID, msg)
			if err == nil {
				continue
			}
			if errors.Is(err, service.ErrNoSession) {
				logger.Warnf("heartbeat on expired session encoder_id=%s", encoderID)
				return errSessionExpired
			}
			logger.Warnf("encoder message rejected encoder_id=%s type=%s assignment_id=%s error=%v",
				encoderID, msg.Type, msg.AssignmentID, err)
			_ = sess.send(&encoderpb.ServerMessage{
				Type:         encoderpb.ServerError,
				AssignmentID: msg.AssignmentID,
				Error:        err.Error(),
			})
		}
	}
}

// errSessionExpired 节点收到后重连并重新 REGISTER
var errSessionExpired = status.Error(codes.Unavailable, "encoder session expired, register again")

func (s *EncoderSessionServer) handle(ctx context.Context, encoderID string, msg *encoderpb.NodeMessage) error {
	switch msg.Type {
	case encoderpb.NodeHeartbeat:
		return s.dispatch.Heartbeat(ctx, encoderID, msg.CurrentJobs)
	case encoderpb.NodeProgress:
		return s.dispatch.Progress(ctx, encoderID, service.ProgressUpdate{
			AssignmentID: msg.AssignmentID,
			Progress:     msg.Progress,
			FPS:          msg.FPS,
			Speed:        msg.Speed,
			ETASeconds:   msg.ETASeconds,
		})
	case encoderpb.NodeComplete:
		return s.dispatch.Complete(ctx, encoderID, msg.AssignmentID, msg.OutputMeta)
	case encoderpb.NodeFail:
		return s.dispatch.Fail(ctx, encoderID, msg.AssignmentID, msg.Error)
	case encoderpb.NodeRegister:
		return errors.New("already registered")
	default:
		return errors.New("unknown message type " + string(msg.Type))
	}
}

// streamSession 把 ASSIGN/CANCEL 写到流上；grpc 流不支持并发发送
type streamSession struct {
	mu     sync.Mutex
	stream encoderpb.EncoderSession_ConnectServer
	done   chan struct{}
	once   sync.Once
}

func newStreamSession(stream encoderpb.EncoderSession_ConnectServer) *streamSession {
	return &streamSession{stream: stream, done: make(chan struct{})}
}

// Close 让 Connect 返回，结束这条流
func (s *streamSession) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *streamSession) send(m *encoderpb.ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(m)
}

func (s *streamSession) Assign(cmd gateway.AssignCommand) error {
	profile := cmd.Profile
	return s.send(&encoderpb.ServerMessage{
		Type:         encoderpb.ServerAssign,
		AssignmentID: cmd.AssignmentID,
		JobID:        cmd.JobID,
		InputPath:    cmd.InputPath,
		OutputPath:   cmd.OutputPath,
		Profile:      &profile,
	})
}

func (s *streamSession) Cancel(assignmentID string) error {
	return s.send(&encoderpb.ServerMessage{
		Type:         encoderpb.ServerCancel,
		AssignmentID: assignmentID,
	})
}

type dispatchAdapter struct {
	*service.DispatchService
}

func (d dispatchAdapter) Register(ctx context.Context, req service.RegisterRequest, session gateway.EncoderSession) (string, int64, error) {
	enc, err := d.DispatchService.Register(ctx, req, session)
	if err != nil {
		return "", 0, err
	}
	return enc.EncoderID(), d.HeartbeatInterval().Milliseconds(), nil
}
