package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/ddd/domain/vo"
)

func step(id string, typ vo.StepType, children ...string) vo.StepDefinition {
	return vo.StepDefinition{ID: id, Type: typ, Required: true, Children: children}
}

func problems(t *testing.T, err error) string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return strings.Join(ve.Problems, "\n")
}

func TestValidateTemplate_AcceptsForest(t *testing.T) {
	steps := []vo.StepDefinition{
		step("search", vo.StepTypeSearch, "download"),
		step("download", vo.StepTypeDownload, "encode", "notify"),
		step("encode", vo.StepTypeEncode, "deliver"),
		step("deliver", vo.StepTypeDeliver),
		step("notify", vo.StepTypeNotification),
		step("audit", vo.StepTypeNotification),
	}
	assert.NoError(t, ValidateTemplate(steps))
}

func TestValidateTemplate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		steps []vo.StepDefinition
		want  string
	}{
		{
			name: "empty",
			want: "no steps",
		},
		{
			name:  "unknown child",
			steps: []vo.StepDefinition{step("a", vo.StepTypeSearch, "ghost")},
			want:  `unknown child "ghost"`,
		},
		{
			name: "merge",
			steps: []vo.StepDefinition{
				step("a", vo.StepTypeSearch, "c"),
				step("b", vo.StepTypeSearch, "c"),
				step("c", vo.StepTypeDownload),
			},
			want: `"c" has 2 parents`,
		},
		{
			name: "cycle",
			steps: []vo.StepDefinition{
				step("root", vo.StepTypeSearch),
				step("a", vo.StepTypeDownload, "b"),
				step("b", vo.StepTypeEncode, "a"),
			},
			want: "cycle detected",
		},
		{
			name: "self loop",
			steps: []vo.StepDefinition{
				step("a", vo.StepTypeSearch, "a"),
			},
			want: "no root step",
		},
		{
			name: "duplicate id",
			steps: []vo.StepDefinition{
				step("a", vo.StepTypeSearch),
				step("a", vo.StepTypeDownload),
			},
			want: `duplicate step id "a"`,
		},
		{
			name:  "invalid type",
			steps: []vo.StepDefinition{step("a", vo.StepType("TRANSCODE"))},
			want:  "invalid type",
		},
		{
			name:  "approval without config",
			steps: []vo.StepDefinition{step("gate", vo.StepTypeApproval)},
			want:  "missing config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplate(tt.steps)
			assert.Contains(t, problems(t, err), tt.want)
		})
	}
}

func TestValidateTemplate_ReportsAllProblems(t *testing.T) {
	steps := []vo.StepDefinition{
		step("a", vo.StepType("BOGUS"), "missing"),
		{ID: "b", Type: vo.StepTypeSearch, MaxAttempts: -1},
	}
	got := problems(t, ValidateTemplate(steps))
	assert.Contains(t, got, "invalid type")
	assert.Contains(t, got, "unknown child")
	assert.Contains(t, got, "negative maxAttempts")
}

func TestFlattenTree(t *testing.T) {
	tree := []vo.StepNode{{
		ID:   "search",
		Type: vo.StepTypeSearch,
		Children: []vo.StepNode{
			{Type: vo.StepTypeDownload, Children: []vo.StepNode{{ID: "encode", Type: vo.StepTypeEncode}}},
			{ID: "notify", Type: vo.StepTypeNotification},
		},
	}}

	steps := FlattenTree(tree)
	require.Len(t, steps, 4)
	require.NoError(t, ValidateTemplate(steps))

	assert.Equal(t, "search", steps[0].ID)
	require.Len(t, steps[0].Children, 2)
	download := steps[1]
	assert.NotEmpty(t, download.ID)
	assert.Equal(t, download.ID, steps[0].Children[0])
	assert.Equal(t, []string{"encode"}, download.Children)
	assert.Equal(t, "notify", steps[0].Children[1])
}
