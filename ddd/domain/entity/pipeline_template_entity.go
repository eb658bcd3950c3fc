package entity

import (
	"time"

	"acquisition-service/ddd/domain/vo"
)

// TemplateState 流水线模板持久化状态
type TemplateState struct {
	ID          string
	Name        string
	MediaType   string
	Description string
	Steps       []vo.StepDefinition
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PipelineTemplateEntity 流水线模板：以 ID 寻址的步骤数组，边为 parent -> children
type PipelineTemplateEntity struct {
	st TemplateState
}

func NewPipelineTemplateEntity(id, name, mediaType, description string, steps []vo.StepDefinition, now time.Time) *PipelineTemplateEntity {
	return &PipelineTemplateEntity{st: TemplateState{
		ID:          id,
		Name:        name,
		MediaType:   mediaType,
		Description: description,
		Steps:       vo.CloneSteps(steps),
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
}

func RestorePipelineTemplateEntity(st TemplateState) *PipelineTemplateEntity {
	return &PipelineTemplateEntity{st: st}
}

func (t *PipelineTemplateEntity) State() TemplateState {
	st := t.st
	st.Steps = vo.CloneSteps(t.st.Steps)
	return st
}

func (t *PipelineTemplateEntity) ID() string                 { return t.st.ID }
func (t *PipelineTemplateEntity) Name() string               { return t.st.Name }
func (t *PipelineTemplateEntity) MediaType() string          { return t.st.MediaType }
func (t *PipelineTemplateEntity) Description() string        { return t.st.Description }
func (t *PipelineTemplateEntity) Steps() []vo.StepDefinition { return t.st.Steps }
func (t *PipelineTemplateEntity) CreatedAt() time.Time       { return t.st.CreatedAt }
func (t *PipelineTemplateEntity) UpdatedAt() time.Time       { return t.st.UpdatedAt }

// Update 替换模板内容，调用方负责先校验
func (t *PipelineTemplateEntity) Update(name, mediaType, description string, steps []vo.StepDefinition, now time.Time) {
	t.st.Name = name
	t.st.MediaType = mediaType
	t.st.Description = description
	t.st.Steps = vo.CloneSteps(steps)
	t.st.UpdatedAt = now
}

// ParentIndex 子节点 ID -> 父节点 ID，根节点不在其中
func ParentIndex(steps []vo.StepDefinition) map[string]string {
	parents := make(map[string]string, len(steps))
	for _, s := range steps {
		for _, c := range s.Children {
			parents[c] = s.ID
		}
	}
	return parents
}

// RootSteps 没有父节点的步骤，即挂在隐式 START 下的节点
func RootSteps(steps []vo.StepDefinition) []vo.StepDefinition {
	parents := ParentIndex(steps)
	roots := make([]vo.StepDefinition, 0)
	for _, s := range steps {
		if _, ok := parents[s.ID]; !ok {
			roots = append(roots, s)
		}
	}
	return roots
}
