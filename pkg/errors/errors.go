// Package errors 提供统一错误类型与哨兵错误。
//
// 两层错误体系:
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrStreamClosed 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrStreamClosed 事件流已被关闭 (主动 stop/abort)
	ErrStreamClosed = errors.New("stream closed")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")
)

// ========================================
// 错误码
// ========================================

const (
	// CodeDecode 事件帧解析失败 (丢帧, 流继续)。
	CodeDecode = "DECODE"

	// CodeTransport 连接级错误 (SSE 断开/HTTP 失败)。
	CodeTransport = "TRANSPORT"

	// CodeDB 数据库错误。
	CodeDB = "DB_ERROR"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Decoder.Decode"
	Code    string // 错误码，如 "DECODE"、"TRANSPORT"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 创建带错误码的应用错误。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// HasCode 判断错误链上是否存在指定错误码的 AppError。
func HasCode(err error, code string) bool {
	var app *AppError
	for errors.As(err, &app) {
		if app.Code == code {
			return true
		}
		err = app.Err
		app = nil
	}
	return false
}

// Is 转发标准库 errors.Is (调用方无需双 import)。
func Is(err, target error) bool { return errors.Is(err, target) }

// As 转发标准库 errors.As。
func As(err error, target any) bool { return errors.As(err, target) }
