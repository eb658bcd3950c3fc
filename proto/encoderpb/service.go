package encoderpb

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName       = "acquisition.encoder.v1.EncoderSession"
	ConnectMethodName = "/" + ServiceName + "/Connect"
)

// EncoderSessionServer 服务端实现
type EncoderSessionServer interface {
	Connect(EncoderSession_ConnectServer) error
}

// EncoderSession_ConnectServer 服务端视角的双向流
type EncoderSession_ConnectServer interface {
	Send(*ServerMessage) error
	Recv() (*NodeMessage, error)
	grpc.ServerStream
}

type encoderSessionConnectServer struct {
	grpc.ServerStream
}

func (x *encoderSessionConnectServer) Send(m *ServerMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *encoderSessionConnectServer) Recv() (*NodeMessage, error) {
	m := new(NodeMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(EncoderSessionServer).Connect(&encoderSessionConnectServer{stream})
}

// EncoderSession_ServiceDesc grpc 服务描述
var EncoderSession_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EncoderSessionServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "encoder_session",
}

// RegisterEncoderSessionServer 注册到 grpc.Server
func RegisterEncoderSessionServer(s grpc.ServiceRegistrar, srv EncoderSessionServer) {
	s.RegisterService(&EncoderSession_ServiceDesc, srv)
}

// EncoderSession_ConnectClient 节点视角的双向流
type EncoderSession_ConnectClient interface {
	Send(*NodeMessage) error
	Recv() (*ServerMessage, error)
	grpc.ClientStream
}

type encoderSessionConnectClient struct {
	grpc.ClientStream
}

func (x *encoderSessionConnectClient) Send(m *NodeMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *encoderSessionConnectClient) Recv() (*ServerMessage, error) {
	m := new(ServerMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// EncoderSessionClient 节点端客户端
type EncoderSessionClient interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) (EncoderSession_ConnectClient, error)
}

type encoderSessionClient struct {
	cc grpc.ClientConnInterface
}

func NewEncoderSessionClient(cc grpc.ClientConnInterface) EncoderSessionClient {
	return &encoderSessionClient{cc: cc}
}

func (c *encoderSessionClient) Connect(ctx context.Context, opts ...grpc.CallOption) (EncoderSession_ConnectClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &EncoderSession_ServiceDesc.Streams[0], ConnectMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &encoderSessionConnectClient{stream}, nil
}
