// Package encoderpb defines the encoder session stream: message types, a JSON
// wire codec, and the gRPC service descriptor shared by server and nodes.
package encoderpb

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName 内容子类型，客户端需通过 grpc.CallContentSubtype 选择
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
