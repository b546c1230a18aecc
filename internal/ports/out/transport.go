package out

import (
	"context"
)

// Event 订阅流中的一条事件
type Event struct {
	ID      string            // 事件ID，传输层用它断点续传
	Headers map[string]string // 事件头
	Body    []byte            // 事件体，即 JSON 信封
}

// EventHandler 同一个订阅的事件按发送顺序串行回调
type EventHandler func(ev Event)

// ErrorHandler 订阅出现无法恢复的错误时回调
type ErrorHandler func(err error)

// Subscription 已打开的订阅
type Subscription interface {
	// Close 结束订阅；可以在该订阅自己的回调里调用，正在执行的回调不会被打断
	Close() error
}

// Subscriber 可断点续传的订阅流，断线重连由实现方负责
// Subscribe 会在事件回调里被调用（例如新用户触发在线状态订阅），实现不应阻塞在建连上
type Subscriber interface {
	Subscribe(ctx context.Context, path string, onEvent EventHandler, onError ErrorHandler) (Subscription, error)
}

// Requester 一次性请求
type Requester interface {
	Request(ctx context.Context, method, path string, body []byte) ([]byte, error)
}

// Transport 订阅 + 请求
type Transport interface {
	Subscriber
	Requester
}

// Compose 把订阅和请求两部分拼成一个 Transport
func Compose(sub Subscriber, req Requester) Transport {
	return composed{Subscriber: sub, Requester: req}
}

type composed struct {
	Subscriber
	Requester
}
