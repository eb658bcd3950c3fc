package vo

import (
	"fmt"
	"strings"
)

// StepType 步骤类型，同时作为队列任务类型
type StepType string

const (
	StepTypeSearch       StepType = "SEARCH"
	StepTypeDownload     StepType = "DOWNLOAD"
	StepTypeEncode       StepType = "ENCODE"
	StepTypeDeliver      StepType = "DELIVER"
	StepTypeNotification StepType = "NOTIFICATION"
	StepTypeApproval     StepType = "APPROVAL"
)

// IsValid 检查类型是否有效
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeSearch, StepTypeDownload, StepTypeEncode,
		StepTypeDeliver, StepTypeNotification, StepTypeApproval:
		return true
	default:
		return false
	}
}

func (t StepType) String() string {
	return string(t)
}

// IsJobBacked APPROVAL 之外的步骤都通过队列执行
func (t StepType) IsJobBacked() bool {
	return t.IsValid() && t != StepTypeApproval
}

// JobBackedStepTypes 所有由队列执行的步骤类型
func JobBackedStepTypes() []string {
	return []string{
		StepTypeSearch.String(), StepTypeDownload.String(), StepTypeEncode.String(),
		StepTypeDeliver.String(), StepTypeNotification.String(),
	}
}

// StepRunStatus 步骤运行状态
type StepRunStatus string

const (
	StepRunPending          StepRunStatus = "pending"
	StepRunRunning          StepRunStatus = "running"
	StepRunSucceeded        StepRunStatus = "succeeded"
	StepRunFailed           StepRunStatus = "failed"
	StepRunSkipped          StepRunStatus = "skipped"
	StepRunAwaitingApproval StepRunStatus = "awaiting_approval"
)

func (s StepRunStatus) String() string {
	return string(s)
}

// IsTerminal 检查是否为最终状态
func (s StepRunStatus) IsTerminal() bool {
	return s == StepRunSucceeded || s == StepRunFailed || s == StepRunSkipped
}

// IsInFlight 已开始但未结束
func (s StepRunStatus) IsInFlight() bool {
	return s == StepRunRunning || s == StepRunAwaitingApproval
}

// ExecutionStatus 请求执行状态
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

func (s ExecutionStatus) String() string {
	return string(s)
}

// IsTerminal 检查是否为最终状态
func (s ExecutionStatus) IsTerminal() bool {
	return s != ExecutionRunning
}

// ApprovalAction 审批动作
type ApprovalAction string

const (
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
)

// IsValid 检查动作是否有效
func (a ApprovalAction) IsValid() bool {
	return a == ApprovalApprove || a == ApprovalReject
}

// StepDefinition 模板中的一个节点，children 为子节点 ID
type StepDefinition struct {
	ID              string                 `json:"id"`
	Type            StepType               `json:"type"`
	Name            string                 `json:"name,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
	Required        bool                   `json:"required"`
	Retryable       bool                   `json:"retryable"`
	ContinueOnError bool                   `json:"continueOnError"`
	MaxAttempts     int                    `json:"maxAttempts,omitempty"`
	Priority        int                    `json:"priority,omitempty"`
	Children        []string               `json:"children,omitempty"`
}

// JobMaxAttempts 队列层最大尝试次数
func (d StepDefinition) JobMaxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	if d.Retryable {
		return 3
	}
	return 1
}

// ApprovalConfig 审批步骤配置
type ApprovalConfig struct {
	TimeoutHours  float64        `json:"timeoutHours"`
	DefaultAction ApprovalAction `json:"defaultAction"`
}

// ApprovalConfig 从 Config 中解析审批配置
func (d StepDefinition) ApprovalConfig() (ApprovalConfig, error) {
	var ac ApprovalConfig
	if d.Config == nil {
		return ac, fmt.Errorf("approval step %s: missing config", d.ID)
	}
	switch v := d.Config["timeoutHours"].(type) {
	case float64:
		ac.TimeoutHours = v
	case int:
		ac.TimeoutHours = float64(v)
	case int64:
		ac.TimeoutHours = float64(v)
	}
	if s, ok := d.Config["defaultAction"].(string); ok {
		ac.DefaultAction = ApprovalAction(strings.ToUpper(s))
	}
	if ac.TimeoutHours <= 0 {
		return ac, fmt.Errorf("approval step %s: timeoutHours must be > 0", d.ID)
	}
	if !ac.DefaultAction.IsValid() {
		return ac, fmt.Errorf("approval step %s: defaultAction must be APPROVE or REJECT", d.ID)
	}
	return ac, nil
}

// CloneSteps 深拷贝步骤列表
func CloneSteps(steps []StepDefinition) []StepDefinition {
	out := make([]StepDefinition, len(steps))
	for i, s := range steps {
		c := s
		if s.Config != nil {
			c.Config = make(map[string]interface{}, len(s.Config))
			for k, v := range s.Config {
				c.Config[k] = v
			}
		}
		c.Children = append([]string(nil), s.Children...)
		out[i] = c
	}
	return out
}

// StepNode 嵌套树形式的步骤输入，保存前展开为 StepDefinition 数组
type StepNode struct {
	ID              string                 `json:"id,omitempty"`
	Type            StepType               `json:"type"`
	Name            string                 `json:"name,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
	Required        bool                   `json:"required"`
	Retryable       bool                   `json:"retryable"`
	ContinueOnError bool                   `json:"continueOnError"`
	MaxAttempts     int                    `json:"maxAttempts,omitempty"`
	Priority        int                    `json:"priority,omitempty"`
	Children        []StepNode             `json:"children,omitempty"`
}
