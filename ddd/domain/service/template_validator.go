package service

import (
	"fmt"

	"github.com/google/uuid"

	"acquisition-service/ddd/domain/vo"
)

// ValidateTemplate 检查步骤数组是否构成森林：无未知引用、无汇聚、无环
// 返回 *ValidationError，包含发现的全部问题
func ValidateTemplate(steps []vo.StepDefinition) error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(steps) == 0 {
		return &ValidationError{Problems: []string{"template has no steps"}}
	}

	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			addf("step #%d has no id", i)
			continue
		}
		if _, dup := index[s.ID]; dup {
			addf("duplicate step id %q", s.ID)
			continue
		}
		index[s.ID] = i
	}

	indegree := make(map[string]int, len(steps))
	for _, s := range steps {
		if !s.Type.IsValid() {
			addf("step %q has invalid type %q", s.ID, s.Type)
		}
		if s.MaxAttempts < 0 {
			addf("step %q has negative maxAttempts", s.ID)
		}
		if s.Type == vo.StepTypeApproval {
			if _, err := s.ApprovalConfig(); err != nil {
				problems = append(problems, err.Error())
			}
		}
		for _, c := range s.Children {
			if _, ok := index[c]; !ok {
				addf("step %q references unknown child %q", s.ID, c)
				continue
			}
			indegree[c]++
		}
	}

	roots := 0
	for id := range index {
		switch n := indegree[id]; {
		case n == 0:
			roots++
		case n > 1:
			addf("step %q has %d parents; merging branches is not supported", id, n)
		}
	}
	if roots == 0 {
		problems = append(problems, "template has no root step")
	}

	if cycle := findCycle(steps, index); cycle != "" {
		addf("cycle detected at step %q", cycle)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// findCycle DFS + 递归栈，从每个未访问节点出发；返回成环处的节点
func findCycle(steps []vo.StepDefinition, index map[string]int) string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(index))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, c := range steps[index[id]].Children {
			if _, ok := index[c]; !ok {
				continue
			}
			switch color[c] {
			case grey:
				return c
			case white:
				if found := visit(c); found != "" {
					return found
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, s := range steps {
		if _, ok := index[s.ID]; !ok || color[s.ID] != white {
			continue
		}
		if found := visit(s.ID); found != "" {
			return found
		}
	}
	return ""
}

// FlattenTree 把嵌套树展开为步骤数组，缺省 ID 自动生成
func FlattenTree(nodes []vo.StepNode) []vo.StepDefinition {
	var out []vo.StepDefinition
	var walk func(n vo.StepNode) string
	walk = func(n vo.StepNode) string {
		id := n.ID
		if id == "" {
			id = uuid.NewString()
		}
		pos := len(out)
		out = append(out, vo.StepDefinition{
			ID:              id,
			Type:            n.Type,
			Name:            n.Name,
			Config:          n.Config,
			Required:        n.Required,
			Retryable:       n.Retryable,
			ContinueOnError: n.ContinueOnError,
			MaxAttempts:     n.MaxAttempts,
			Priority:        n.Priority,
		})
		children := make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, walk(c))
		}
		out[pos].Children = children
		return id
	}
	for _, n := range nodes {
		walk(n)
	}
	return out
}
