package coalesce

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/pkg/errs"
)

// SendCursorFunc 真正发出一次游标写入
type SendCursorFunc func(ctx context.Context, position int) error

type pendingCursor struct {
	position  int
	callbacks []func(error)
}

// CursorDebouncer 单个房间的已读游标去抖
// 一个窗口内最多一次网络写入，位置取窗口内的最大值，窗口内所有调用方都拿到同一个结果
type CursorDebouncer struct {
	interval time.Duration
	send     SendCursorFunc
	logger   *zap.Logger

	mu      sync.Mutex
	pending *pendingCursor
	timer   *time.Timer
	closed  bool
}

func NewCursorDebouncer(interval time.Duration, send SendCursorFunc, logger *zap.Logger) *CursorDebouncer {
	if logger == nil {
		logger = zap.L()
	}
	return &CursorDebouncer{
		interval: interval,
		send:     send,
		logger:   logger,
	}
}

// Set 记录一次写入意图，cb 可以为 nil
func (d *CursorDebouncer) Set(position int, cb func(error)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if cb != nil {
			cb(errs.ErrSessionClosed)
		}
		return
	}
	if d.pending != nil {
		if position > d.pending.position {
			d.pending.position = position
		}
		if cb != nil {
			d.pending.callbacks = append(d.pending.callbacks, cb)
		}
		d.mu.Unlock()
		return
	}

	d.pending = &pendingCursor{position: position}
	if cb != nil {
		d.pending.callbacks = append(d.pending.callbacks, cb)
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
	d.mu.Unlock()
}

func (d *CursorDebouncer) flush() {
	d.mu.Lock()
	p := d.pending
	d.pending = nil
	d.timer = nil
	closed := d.closed
	d.mu.Unlock()

	if p == nil || closed {
		return
	}

	err := d.send(context.Background(), p.position)
	if err != nil {
		d.logger.Warn("set cursor failed", zap.Int("position", p.position), zap.Error(err))
	}
	for _, cb := range p.callbacks {
		cb(err)
	}
}

// Close 取消未发出的写入，等待中的调用方收到 ErrSessionClosed
func (d *CursorDebouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	p := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if p != nil {
		for _, cb := range p.callbacks {
			cb(errs.ErrSessionClosed)
		}
	}
}
