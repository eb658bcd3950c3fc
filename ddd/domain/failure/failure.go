// Package failure classifies errors raised by step executors and remote encoders.
//
// Unclassified errors are treated as transient: the queue retries them with
// backoff until the job's attempt budget runs out.
package failure

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	KindTransient           Kind = "transient"
	KindPermanent           Kind = "permanent"
	KindCapacityUnavailable Kind = "capacity_unavailable"
	KindCancelled           Kind = "cancelled"
	KindLivenessTimeout     Kind = "liveness_timeout"
)

// Error 带分类的错误
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrCancelled 执行器在检查点发现取消标记
	ErrCancelled = &Error{Kind: KindCancelled, Err: errors.New("cancellation requested")}
	// ErrCapacityUnavailable 没有可用的编码节点，不算失败
	ErrCapacityUnavailable = &Error{Kind: KindCapacityUnavailable, Err: errors.New("no eligible encoder available")}
)

// Permanent 标记为不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// Permanentf 格式化构造不可重试错误
func Permanentf(format string, args ...interface{}) error {
	return Permanent(fmt.Errorf(format, args...))
}

// Transient 标记为可重试
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// LivenessTimeout 持有者心跳超时，系统强制回收
func LivenessTimeout(holder string) error {
	return &Error{Kind: KindLivenessTimeout, Err: fmt.Errorf("lease holder %s missed heartbeats", holder)}
}

// KindOf 返回错误分类，未分类的错误视为 transient
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

func IsPermanent(err error) bool { return err != nil && KindOf(err) == KindPermanent }

func IsCancelled(err error) bool { return err != nil && KindOf(err) == KindCancelled }

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindLivenessTimeout:
		return true
	default:
		return false
	}
}
