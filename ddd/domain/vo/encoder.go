package vo

import "strings"

// EncoderStatus 远程编码节点状态
type EncoderStatus string

const (
	EncoderIdle     EncoderStatus = "IDLE"
	EncoderEncoding EncoderStatus = "ENCODING"
	EncoderError    EncoderStatus = "ERROR"
	EncoderOffline  EncoderStatus = "OFFLINE"
)

func (s EncoderStatus) String() string {
	return string(s)
}

// IsValid 检查状态是否有效
func (s EncoderStatus) IsValid() bool {
	switch s {
	case EncoderIdle, EncoderEncoding, EncoderError, EncoderOffline:
		return true
	default:
		return false
	}
}

// CanAccept 可以接收新分配的状态
func (s EncoderStatus) CanAccept() bool {
	return s == EncoderIdle || s == EncoderEncoding
}

// AssignmentStatus 编码分配状态
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "PENDING"
	AssignmentEncoding  AssignmentStatus = "ENCODING"
	AssignmentCompleted AssignmentStatus = "COMPLETED"
	AssignmentFailed    AssignmentStatus = "FAILED"
	AssignmentCancelled AssignmentStatus = "CANCELLED"
)

func (s AssignmentStatus) String() string {
	return string(s)
}

// IsTerminal 检查是否为最终状态
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentCompleted || s == AssignmentFailed || s == AssignmentCancelled
}

// CodecEncoders 某个编码格式可用的硬件/软件编码器
type CodecEncoders struct {
	Hardware []string `json:"hardware"`
	Software []string `json:"software"`
}

// SystemInfo 节点系统信息
type SystemInfo struct {
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	CPU      string `json:"cpu"`
	GPU      string `json:"gpu,omitempty"`
	MemoryMB int64  `json:"memoryMb"`
}

// Capabilities 节点能力描述
type Capabilities struct {
	VideoEncoders map[string]CodecEncoders `json:"videoEncoders"`
	HWAccels      []string                 `json:"hwaccels"`
	AudioEncoders []string                 `json:"audioEncoders"`
	System        SystemInfo               `json:"system"`
}

// EncodeProfile 编码参数
type EncodeProfile struct {
	Codec      string   `json:"codec"`
	HWAccel    string   `json:"hwaccel,omitempty"`
	Encoder    string   `json:"encoder,omitempty"`
	Preset     string   `json:"preset,omitempty"`
	Container  string   `json:"container,omitempty"`
	AudioCodec string   `json:"audioCodec,omitempty"`
	CRF        int      `json:"crf,omitempty"`
	ExtraArgs  []string `json:"extraArgs,omitempty"`
}

// Supports 判断节点能力是否满足编码参数
func (c Capabilities) Supports(p EncodeProfile) bool {
	codec := strings.ToLower(strings.TrimSpace(p.Codec))
	if codec == "" {
		return false
	}
	enc, ok := lookupCodec(c.VideoEncoders, codec)
	if !ok {
		return false
	}

	hw := strings.ToLower(strings.TrimSpace(p.HWAccel))
	if hw == "" || hw == "none" {
		if p.Encoder != "" {
			return containsFold(enc.Software, p.Encoder) || containsFold(enc.Hardware, p.Encoder)
		}
		if len(enc.Software) == 0 && len(enc.Hardware) == 0 {
			return false
		}
	} else {
		if !containsFold(c.HWAccels, hw) || len(enc.Hardware) == 0 {
			return false
		}
		if p.Encoder != "" && !containsFold(enc.Hardware, p.Encoder) {
			return false
		}
	}

	audio := strings.ToLower(strings.TrimSpace(p.AudioCodec))
	if audio != "" && audio != "copy" && !containsFold(c.AudioEncoders, audio) {
		return false
	}
	return true
}

func lookupCodec(m map[string]CodecEncoders, codec string) (CodecEncoders, bool) {
	if enc, ok := m[codec]; ok {
		return enc, true
	}
	for k, v := range m {
		if strings.EqualFold(k, codec) {
			return v, true
		}
	}
	return CodecEncoders{}, false
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
