package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/pkg/errs"
)

// Entity 可以放进 Store 的实体，E 一般是指针类型
type Entity[K comparable, E any] interface {
	Key() K
	MergeFrom(E)
	Clone() E
}

// FetchFunc 缓存未命中时的远端查询
type FetchFunc[K comparable, E any] func(ctx context.Context, id K) (E, error)

// Hook 每次 AddOrMerge 成功后同步调用，created 表示是否为首次写入
type Hook[E any] func(e E, created bool)

// call 一次进行中的远端查询，同一个 id 的并发 Get 共享它
type call[E any] struct {
	done chan struct{}
	val  E
	err  error
}

// Store 并发安全的实体缓存
// Store 独占实体的规范副本，对外只返回拷贝，所有修改都走 AddOrMerge / Update
type Store[K comparable, E Entity[K, E]] struct {
	name     string
	mu       sync.Mutex
	items    map[K]E
	inflight map[K]*call[E]
	fetch    FetchFunc[K, E]
	hooks    []Hook[E]
	logger   *zap.Logger
}

func New[K comparable, E Entity[K, E]](name string, fetch FetchFunc[K, E], logger *zap.Logger) *Store[K, E] {
	if logger == nil {
		logger = zap.L()
	}
	return &Store[K, E]{
		name:     name,
		items:    make(map[K]E),
		inflight: make(map[K]*call[E]),
		fetch:    fetch,
		logger:   logger.With(zap.String("store", name)),
	}
}

// AddHook 注册写入钩子
func (s *Store[K, E]) AddHook(h Hook[E]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Find 只查本地缓存
func (s *Store[K, E]) Find(id K) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		var zero E
		return zero, false
	}
	return e.Clone(), true
}

// Get 命中缓存直接返回，否则远端查询后合并进缓存
// 同一个 id 同时只会有一次远端查询
func (s *Store[K, E]) Get(ctx context.Context, id K) (E, error) {
	var zero E

	s.mu.Lock()
	if e, ok := s.items[id]; ok {
		c := e.Clone()
		s.mu.Unlock()
		return c, nil
	}
	if s.fetch == nil {
		s.mu.Unlock()
		return zero, errs.NotFound(s.name, id, nil)
	}
	c, ok := s.inflight[id]
	if !ok {
		c = &call[E]{done: make(chan struct{})}
		s.inflight[id] = c
		// 查询结果由所有等待者共享，不跟随发起者的取消
		go s.doFetch(context.WithoutCancel(ctx), id, c)
	}
	s.mu.Unlock()

	select {
	case <-c.done:
		if c.err != nil {
			return zero, c.err
		}
		return c.val.Clone(), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Store[K, E]) doFetch(ctx context.Context, id K, c *call[E]) {
	v, err := s.fetch(ctx, id)
	if err != nil {
		s.logger.Warn("fetch failed", zap.Any("id", id), zap.Error(err))
		c.err = errs.NotFound(s.name, id, err)
	} else {
		c.val = s.AddOrMerge(v)
	}

	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
	close(c.done)
}

// AddOrMerge 不存在则插入，存在则按实体的合并规则原地合并
func (s *Store[K, E]) AddOrMerge(e E) E {
	s.mu.Lock()
	id := e.Key()
	existing, ok := s.items[id]
	if ok {
		existing.MergeFrom(e)
	} else {
		existing = e.Clone()
		s.items[id] = existing
	}
	result := existing.Clone()
	hooks := s.hooks
	s.mu.Unlock()

	for _, h := range hooks {
		h(result.Clone(), !ok)
	}
	return result
}

// Update 在锁内修改已存在的实体，返回修改后的拷贝
func (s *Store[K, E]) Update(id K, fn func(E)) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		var zero E
		return zero, false
	}
	fn(e)
	return e.Clone(), true
}

// Remove 移除并返回旧值
func (s *Store[K, E]) Remove(id K) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		var zero E
		return zero, false
	}
	delete(s.items, id)
	return e, true
}

// Snapshot 深拷贝当前全部实体
func (s *Store[K, E]) Snapshot() map[K]E {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[K]E, len(s.items))
	for id, e := range s.items {
		out[id] = e.Clone()
	}
	return out
}

func (s *Store[K, E]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
