package service

import (
	"errors"
	"strings"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrWorkerNotActive    = errors.New("worker is not active")
	ErrDedupeKeyHeld      = errors.New("dedupe key is held by another active job")
	ErrTemplateNotFound   = errors.New("pipeline template not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrStepRunNotFound    = errors.New("step run not found")
	ErrStepNotRetryable   = errors.New("step is not retryable")
	ErrEncoderNotFound    = errors.New("encoder not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrNoSession          = errors.New("encoder has no live session")
)

// ValidationError 模板校验失败，包含全部问题
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid pipeline template: " + strings.Join(e.Problems, "; ")
}
