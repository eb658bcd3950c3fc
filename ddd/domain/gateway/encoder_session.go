package gateway

import "acquisition-service/ddd/domain/vo"

// AssignCommand 下发给节点的编码指令
type AssignCommand struct {
	AssignmentID string           `json:"assignmentId"`
	JobID        string           `json:"jobId"`
	InputPath    string           `json:"inputPath"`
	OutputPath   string           `json:"outputPath"`
	Profile      vo.EncodeProfile `json:"profile"`
}

// EncoderSession 与一个远程节点之间的活动会话
type EncoderSession interface {
	Assign(cmd AssignCommand) error
	Cancel(assignmentID string) error
	// Close 结束会话，节点需要重新 REGISTER
	Close()
}
