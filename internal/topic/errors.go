package topic

import (
	"errors"
	"fmt"
)

// ErrorKind 操作失败的分类
type ErrorKind int

const (
	// KindPrecondition 前置条件不满足，未产生任何副作用
	KindPrecondition ErrorKind = iota + 1
	// KindRemoteRejection 平台拒绝修改群标题，内存中的修改已丢弃
	KindRemoteRejection
	// KindPersistence 存储失败，群标题可能已经修改
	KindPersistence
	// KindPermissionDenied 操作者无权修改群信息
	KindPermissionDenied
)

func (k ErrorKind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition violation"
	case KindRemoteRejection:
		return "remote rejection"
	case KindPersistence:
		return "persistence failure"
	case KindPermissionDenied:
		return "permission denied"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error 主题操作错误，Reason 可直接展示给用户
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func preconditionf(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Reason: fmt.Sprintf(format, args...)}
}

func persistenceError(reason string, err error) *Error {
	return &Error{Kind: KindPersistence, Reason: reason, Err: err}
}

// PersistenceFailure 构造存储失败错误
func PersistenceFailure(reason string, err error) *Error {
	return persistenceError(reason, err)
}

// PermissionDenied 构造无权限错误
func PermissionDenied(reason string) *Error {
	return &Error{Kind: KindPermissionDenied, Reason: reason}
}

// KindOf 返回错误分类，非 *Error 返回 0
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Reason 返回可展示给用户的失败原因
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
