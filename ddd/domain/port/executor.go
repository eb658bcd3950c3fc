package port

import (
	"context"
	"fmt"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/vo"
)

// StepExecutor executes one step type on behalf of a claimed job and returns its result.
// Errors are classified with the failure package; unclassified errors are retried.
type StepExecutor interface {
	Type() vo.StepType
	Execute(ctx context.Context, job *entity.JobEntity, ctl JobControl) (map[string]interface{}, error)
}

// StepPayload is the job payload written by the pipeline engine for a step run.
type StepPayload struct {
	ExecutionID  string
	StepRunID    string
	StepID       string
	RequestID    string
	Config       map[string]interface{}
	ParentResult map[string]interface{}
}

// Payload keys.
const (
	PayloadExecutionID  = "executionId"
	PayloadStepRunID    = "stepRunId"
	PayloadStepID       = "stepId"
	PayloadRequestID    = "requestId"
	PayloadConfig       = "config"
	PayloadParentResult = "parentResult"
)

// ToMap builds the job payload.
func (p StepPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		PayloadExecutionID: p.ExecutionID,
		PayloadStepRunID:   p.StepRunID,
		PayloadStepID:      p.StepID,
		PayloadRequestID:   p.RequestID,
	}
	if p.Config != nil {
		m[PayloadConfig] = p.Config
	}
	if p.ParentResult != nil {
		m[PayloadParentResult] = p.ParentResult
	}
	return m
}

// StepPayloadFromJob decodes the payload of a step job. Payloads read back from the
// store are plain JSON maps, so nested values are type-asserted rather than cast.
func StepPayloadFromJob(job *entity.JobEntity) StepPayload {
	m := job.Payload()
	return StepPayload{
		ExecutionID:  stringValue(m, PayloadExecutionID),
		StepRunID:    stringValue(m, PayloadStepRunID),
		StepID:       stringValue(m, PayloadStepID),
		RequestID:    stringValue(m, PayloadRequestID),
		Config:       mapValue(m, PayloadConfig),
		ParentResult: mapValue(m, PayloadParentResult),
	}
}

// Lookup reads a key from the step config first, then from the parent result.
func (p StepPayload) Lookup(key string) (interface{}, bool) {
	if v, ok := p.Config[key]; ok && v != nil {
		return v, true
	}
	if v, ok := p.ParentResult[key]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// LookupString is Lookup for string values.
func (p StepPayload) LookupString(key string) string {
	v, ok := p.Lookup(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func stringValue(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func mapValue(m map[string]interface{}, key string) map[string]interface{} {
	if v, ok := m[key].(map[string]interface{}); ok {
		return v
	}
	return map[string]interface{}{}
}
