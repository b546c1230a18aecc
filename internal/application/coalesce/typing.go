package coalesce

import (
	"context"
	"sync"
	"time"

	"github.com/EthanQC/imsync/internal/domain/entity"
)

const (
	// 服务端的正在输入状态 TTL
	DefaultTypingTTL = 1500 * time.Millisecond
	// 发送端提前量，保证远端 TTL 不会中断
	DefaultTypingLeeway = 500 * time.Millisecond
)

type typingKey struct {
	room entity.RoomID
	user entity.UserID
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

type typingNotice struct {
	key     typingKey
	started bool
}

// TypingAggregator 收到的"正在输入"信号聚合
// 第一次信号触发 started 并启动 TTL 计时，TTL 内重复信号只重置计时，超时触发 stopped
// 通知在锁外按产生顺序逐个回调，回调里可以再调用本对象
type TypingAggregator struct {
	ttl       time.Duration
	onStarted func(room entity.RoomID, user entity.UserID)
	onStopped func(room entity.RoomID, user entity.UserID)

	mu       sync.Mutex
	seq      uint64
	entries  map[typingKey]*typingEntry
	notices  []typingNotice
	draining bool
	closed   bool
}

func NewTypingAggregator(ttl time.Duration, onStarted, onStopped func(entity.RoomID, entity.UserID)) *TypingAggregator {
	return &TypingAggregator{
		ttl:       ttl,
		onStarted: onStarted,
		onStopped: onStopped,
		entries:   make(map[typingKey]*typingEntry),
	}
}

// Signal 收到一次 is_typing
func (a *TypingAggregator) Signal(room entity.RoomID, user entity.UserID) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	a.seq += 1
	key := typingKey{room: room, user: user}
	if e, ok := a.entries[key]; ok {
		e.gen = a.seq
		e.timer.Stop()
		e.timer = a.expireAfter(key, e.gen)
		a.mu.Unlock()
		return
	}

	e := &typingEntry{gen: a.seq}
	e.timer = a.expireAfter(key, e.gen)
	a.entries[key] = e
	a.notices = append(a.notices, typingNotice{key: key, started: true})
	a.mu.Unlock()

	a.flush()
}

// Clear 用户发出消息后立即结束正在输入
func (a *TypingAggregator) Clear(room entity.RoomID, user entity.UserID) {
	a.mu.Lock()
	key := typingKey{room: room, user: user}
	e, ok := a.entries[key]
	if !ok || a.closed {
		a.mu.Unlock()
		return
	}
	e.timer.Stop()
	delete(a.entries, key)
	a.notices = append(a.notices, typingNotice{key: key})
	a.mu.Unlock()

	a.flush()
}

// ClearRoom 离开房间时静默丢弃该房间的所有计时和未送出的通知
func (a *TypingAggregator) ClearRoom(room entity.RoomID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, e := range a.entries {
		if key.room == room {
			e.timer.Stop()
			delete(a.entries, key)
		}
	}
	kept := a.notices[:0]
	for _, n := range a.notices {
		if n.key.room != room {
			kept = append(kept, n)
		}
	}
	a.notices = kept
}

// IsTyping 是否处于正在输入状态
func (a *TypingAggregator) IsTyping(room entity.RoomID, user entity.UserID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[typingKey{room: room, user: user}]
	return ok
}

// Close 停止所有计时，不再触发任何回调
func (a *TypingAggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.notices = nil
	for key, e := range a.entries {
		e.timer.Stop()
		delete(a.entries, key)
	}
}

func (a *TypingAggregator) expireAfter(key typingKey, gen uint64) *time.Timer {
	return time.AfterFunc(a.ttl, func() {
		a.mu.Lock()
		e, ok := a.entries[key]
		// 计时期间又收到了信号，以新的计时为准
		if !ok || e.gen != gen || a.closed {
			a.mu.Unlock()
			return
		}
		delete(a.entries, key)
		a.notices = append(a.notices, typingNotice{key: key})
		a.mu.Unlock()

		a.flush()
	})
}

// flush 同一时刻只有一个 goroutine 在回调，其余的把通知留给它
func (a *TypingAggregator) flush() {
	a.mu.Lock()
	if a.draining {
		a.mu.Unlock()
		return
	}
	a.draining = true

	for len(a.notices) > 0 && !a.closed {
		n := a.notices[0]
		a.notices = a.notices[1:]
		a.mu.Unlock()

		if n.started {
			a.onStarted(n.key.room, n.key.user)
		} else {
			a.onStopped(n.key.room, n.key.user)
		}

		a.mu.Lock()
	}

	a.draining = false
	a.mu.Unlock()
}

// SendTypingFunc 发出一次正在输入请求
type SendTypingFunc func(ctx context.Context, room entity.RoomID) error

// TypingThrottler 发送端限流：距上次成功发送不足 TTL-leeway 的请求直接视为成功
type TypingThrottler struct {
	window time.Duration
	send   SendTypingFunc
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[entity.RoomID]time.Time
}

func NewTypingThrottler(ttl, leeway time.Duration, send SendTypingFunc) *TypingThrottler {
	return &TypingThrottler{
		window:   ttl - leeway,
		send:     send,
		now:      time.Now,
		lastSent: make(map[entity.RoomID]time.Time),
	}
}

// Typing 返回 nil 表示远端的正在输入状态是有效的（可能是被合并掉的请求）
func (t *TypingThrottler) Typing(ctx context.Context, room entity.RoomID) error {
	t.mu.Lock()
	last, ok := t.lastSent[room]
	if ok && t.now().Sub(last) < t.window {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.send(ctx, room); err != nil {
		return err
	}

	t.mu.Lock()
	t.lastSent[room] = t.now()
	t.mu.Unlock()
	return nil
}

// Forget 清掉房间的发送记录
func (t *TypingThrottler) Forget(room entity.RoomID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, room)
}
