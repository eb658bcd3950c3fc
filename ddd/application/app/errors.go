package app

import (
	"errors"

	"acquisition-service/ddd/domain/entity"
	"acquisition-service/ddd/domain/repo"
	"acquisition-service/ddd/domain/service"
	"acquisition-service/pkg/errno"
	"acquisition-service/pkg/logger"
)

var notFoundCodes = map[error]*errno.Errno{
	service.ErrJobNotFound:        errno.ErrJobNotFound,
	service.ErrWorkerNotFound:     errno.ErrWorkerNotFound,
	service.ErrTemplateNotFound:   errno.ErrTemplateNotFound,
	service.ErrExecutionNotFound:  errno.ErrExecutionNotFound,
	service.ErrStepRunNotFound:    errno.ErrStepRunNotFound,
	service.ErrEncoderNotFound:    errno.ErrEncoderNotFound,
	service.ErrAssignmentNotFound: errno.ErrAssignmentNotFound,
}

// bizError 领域错误转换为接口错误码；conflict 为非法状态转换时使用的错误码
func bizError(err error, conflict *errno.Errno) error {
	if err == nil {
		return nil
	}
	var e *errno.Errno
	if errors.As(err, &e) {
		return e
	}
	for target, code := range notFoundCodes {
		if errors.Is(err, target) {
			return code
		}
	}

	var verr *service.ValidationError
	var derr *entity.DomainError
	switch {
	case errors.As(err, &verr):
		return errno.ErrTemplateInvalid.WithMessage("%s", verr.Error())
	case errors.Is(err, service.ErrDedupeKeyHeld), errors.Is(err, repo.ErrDuplicateDedupeKey):
		return errno.ErrDedupeKeyConflicts
	case errors.Is(err, entity.ErrLeaseLost):
		return errno.ErrLeaseLost
	case errors.Is(err, service.ErrWorkerNotActive):
		return errno.ErrWorkerNotActive
	case errors.Is(err, service.ErrStepNotRetryable):
		return errno.ErrStepNotRetryable
	case errors.Is(err, service.ErrNoSession):
		return errno.ErrNoEncoderSession
	case errors.Is(err, repo.ErrVersionConflict):
		return errno.ErrConcurrentUpdate
	case errors.As(err, &derr):
		return conflict.WithMessage("%s", derr.Error())
	}

	logger.Errorf("request failed error=%v", err)
	return errno.ErrInternalServer.WithMessage("%s", err.Error())
}
