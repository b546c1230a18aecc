package coordinator

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/domain/entity"
)

// WaiterFunc 依赖全部完成时回调，只收到自己依赖的那些事件（按依赖声明的顺序）
type WaiterFunc func(events []entity.ConnectionEvent)

type waiter struct {
	deps []entity.ConnectionEventKind
	fn   WaiterFunc
}

// Coordinator 把多个订阅各自的初始化完成事件汇合成一次"已连接"回调
// 一个周期：pending → 收到事件 → 全部完成 → 重置，重连时复用同一个实例
type Coordinator struct {
	mu        sync.Mutex
	required  []entity.ConnectionEventKind
	completed map[entity.ConnectionEventKind]entity.ConnectionEvent
	waiters   []*waiter
	logger    *zap.Logger
}

func New(required []entity.ConnectionEventKind, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.L()
	}
	return &Coordinator{
		required:  slices.Clone(required),
		completed: make(map[entity.ConnectionEventKind]entity.ConnectionEvent),
		logger:    logger,
	}
}

// RecordCompletion 记录一个事件，同一周期内同类事件重复记录会被忽略
// 带错误的事件同样算作完成，依赖它的等待者会一并收到错误
func (c *Coordinator) RecordCompletion(ev entity.ConnectionEvent) {
	c.mu.Lock()
	if _, ok := c.completed[ev.Kind]; ok {
		c.mu.Unlock()
		c.logger.Debug("connection event already recorded, ignoring", zap.Stringer("kind", ev.Kind))
		return
	}
	c.completed[ev.Kind] = ev

	ready := c.collectReadyLocked()

	if c.cycleCompleteLocked() {
		c.completed = make(map[entity.ConnectionEventKind]entity.ConnectionEvent)
		if len(c.waiters) > 0 {
			c.logger.Debug("connection cycle complete, dropping pending waiters", zap.Int("count", len(c.waiters)))
		}
		c.waiters = nil
	}
	c.mu.Unlock()

	for _, r := range ready {
		r.fire()
	}
}

// AddWaiter 注册等待者，依赖已经满足时立即回调
func (c *Coordinator) AddWaiter(deps []entity.ConnectionEventKind, fn WaiterFunc) {
	w := &waiter{deps: slices.Clone(deps), fn: fn}

	c.mu.Lock()
	if events, ok := c.satisfiedLocked(w); ok {
		c.mu.Unlock()
		w.fn(events)
		return
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
}

// Pending 当前周期还没完成的事件类型
func (c *Coordinator) Pending() []entity.ConnectionEventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pending []entity.ConnectionEventKind
	for _, k := range c.required {
		if _, ok := c.completed[k]; !ok {
			pending = append(pending, k)
		}
	}
	return pending
}

// IsPending 当前周期是否还在等这类事件
func (c *Coordinator) IsPending(kind entity.ConnectionEventKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.required, kind) {
		return false
	}
	_, ok := c.completed[kind]
	return !ok
}

type readyWaiter struct {
	w      *waiter
	events []entity.ConnectionEvent
}

func (r readyWaiter) fire() {
	r.w.fn(r.events)
}

// collectReadyLocked 取出依赖已满足的等待者，回调在锁外执行
func (c *Coordinator) collectReadyLocked() []readyWaiter {
	var ready []readyWaiter
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if events, ok := c.satisfiedLocked(w); ok {
			ready = append(ready, readyWaiter{w: w, events: events})
			continue
		}
		remaining = append(remaining, w)
	}
	// 清掉尾部残留的引用
	for i := len(remaining); i < len(c.waiters); i += 1 {
		c.waiters[i] = nil
	}
	c.waiters = remaining
	return ready
}

func (c *Coordinator) satisfiedLocked(w *waiter) ([]entity.ConnectionEvent, bool) {
	events := make([]entity.ConnectionEvent, 0, len(w.deps))
	for _, k := range w.deps {
		ev, ok := c.completed[k]
		if !ok {
			return nil, false
		}
		events = append(events, ev)
	}
	return events, true
}

func (c *Coordinator) cycleCompleteLocked() bool {
	for _, k := range c.required {
		if _, ok := c.completed[k]; !ok {
			return false
		}
	}
	return true
}

// FirstError 事件列表中的第一个错误
func FirstError(events []entity.ConnectionEvent) error {
	for _, ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
	}
	return nil
}
