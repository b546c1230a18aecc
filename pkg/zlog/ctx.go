package zlog

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

// WithContext 把 l 挂到 ctx 上，l 为 nil 时原样返回
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// With 在 ctx 已有的 logger 上追加字段，派生出的 logger 同时放回新的 ctx。
// 会话、管理请求这类有边界的流程用它，后续调用链直接 C(ctx) 就能带上这些字段
func With(ctx context.Context, fields ...zap.Field) (context.Context, *zap.Logger) {
	l := FromContext(ctx)
	if len(fields) > 0 {
		l = l.With(fields...)
	}
	return WithContext(ctx, l), l
}

// FromContext 取不到时返回全局 logger
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.L()
	}
	l, _ := ctx.Value(loggerKey{}).(*zap.Logger)
	if l == nil {
		return zap.L()
	}
	return l
}

func C(ctx context.Context) *zap.Logger { return FromContext(ctx) }
