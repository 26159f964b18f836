// internal/service/order/domain/errors.go
package domain

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateOrder    = errors.New("order id already exists")
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrDuplicateProduct  = errors.New("product already exists")
	ErrIllegalTransition = errors.New("illegal order status transition")
)

// ValidationError 描述一个字段校验失败，errors.Is(err, ErrInvalidInput) 为 true
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransientError 表示存储或消息通道的 I/O 故障，可以重试
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient 把 err 包装为 TransientError。err 为 nil 或已经是 TransientError 时原样返回。
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient 报告 err 是否可以通过重试 (重新投递) 恢复。超时也视为瞬时故障。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
