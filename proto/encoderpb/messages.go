package encoderpb

import "acquisition-service/ddd/domain/vo"

// NodeMessageType 节点发给服务端的消息类型
type NodeMessageType string

const (
	NodeRegister  NodeMessageType = "REGISTER"
	NodeHeartbeat NodeMessageType = "HEARTBEAT"
	NodeProgress  NodeMessageType = "PROGRESS"
	NodeComplete  NodeMessageType = "COMPLETE"
	NodeFail      NodeMessageType = "FAIL"
)

// ServerMessageType 服务端发给节点的消息类型
type ServerMessageType string

const (
	ServerRegistered ServerMessageType = "REGISTERED"
	ServerAssign     ServerMessageType = "ASSIGN"
	ServerCancel     ServerMessageType = "CANCEL"
	ServerError      ServerMessageType = "ERROR"
)

// NodeMessage 节点 -> 服务端
type NodeMessage struct {
	Type NodeMessageType `json:"type"`

	// REGISTER
	EncoderID     string           `json:"encoderId,omitempty"`
	Name          string           `json:"name,omitempty"`
	Capabilities  *vo.Capabilities `json:"capabilities,omitempty"`
	MaxConcurrent int              `json:"maxConcurrent,omitempty"`

	// HEARTBEAT
	CurrentJobs int `json:"currentJobs,omitempty"`

	// PROGRESS / COMPLETE / FAIL
	AssignmentID string                 `json:"assignmentId,omitempty"`
	Progress     float64                `json:"progress,omitempty"`
	FPS          float64                `json:"fps,omitempty"`
	Speed        float64                `json:"speed,omitempty"`
	ETASeconds   int64                  `json:"eta,omitempty"`
	OutputMeta   map[string]interface{} `json:"outputMeta,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// ServerMessage 服务端 -> 节点
type ServerMessage struct {
	Type ServerMessageType `json:"type"`

	// REGISTERED
	EncoderID           string `json:"encoderId,omitempty"`
	HeartbeatIntervalMs int64  `json:"heartbeatIntervalMs,omitempty"`

	// ASSIGN / CANCEL
	AssignmentID string            `json:"assignmentId,omitempty"`
	JobID        string            `json:"jobId,omitempty"`
	InputPath    string            `json:"inputPath,omitempty"`
	OutputPath   string            `json:"outputPath,omitempty"`
	Profile      *vo.EncodeProfile `json:"profile,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}
