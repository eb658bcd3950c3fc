package entity

// DomainError 领域错误，表示非法的状态转换或参数
type DomainError struct {
	message string
}

func NewDomainError(message string) *DomainError {
	return &DomainError{message: message}
}

func (e *DomainError) Error() string {
	return e.message
}

var (
	// ErrLeaseLost 任务不再由调用方持有
	ErrLeaseLost = NewDomainError("job lease is not held by this worker")
)
