package errs

import (
	"errors"
	"fmt"
)

var (
	// 载荷解析相关
	ErrMalformedPayload = errors.New("载荷格式错误")

	// 实体查询相关
	ErrEntityNotFound = errors.New("实体不存在")

	// 传输层相关（网络、鉴权等，对本层不透明）
	ErrTransport = errors.New("传输失败")

	// 不变量被破坏，例如游标引用的房间或用户无法解析
	ErrInvariantViolation = errors.New("不变量被破坏")

	// 会话已断开
	ErrSessionClosed = errors.New("会话已关闭")
)

// Malformed 构造一个缺字段 / 类型错误的载荷错误
func Malformed(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedPayload, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrMalformedPayload, what, err)
}

// Missing 必填字段缺失
func Missing(field string) error {
	return fmt.Errorf("%w: missing field %q", ErrMalformedPayload, field)
}

// NotFound 后端查询失败
func NotFound(kind string, id any, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s %v", ErrEntityNotFound, kind, id)
	}
	return fmt.Errorf("%w: %s %v: %w", ErrEntityNotFound, kind, id, err)
}

// Transport 包装传输层错误，已经包装过的不再重复包装
func Transport(op string, err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
