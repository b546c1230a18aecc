package enrich

import (
	"context"
	"sync"
)

// LookupFunc 按 key 异步查询依赖（例如发送者）
type LookupFunc[K comparable, D any] func(ctx context.Context, key K) (D, error)

// BuildFunc 用查询到的依赖把存根转换成最终实体
type BuildFunc[S any, D any, R any] func(stub S, dep D) (R, error)

// Callback 按提交顺序回调，失败也走同一条路径
type Callback[R any] func(result R, err error)

type result[R any] struct {
	val R
	err error
}

// Ordered 保序的并发解析管道
// 每个存根的依赖查询独立进行、完成顺序不定，同一个 key 同时只查一次，
// 回调严格按 Submit 的顺序执行
type Ordered[S any, K comparable, D any, R any] struct {
	keyOf  func(S) K
	lookup LookupFunc[K, D]
	build  BuildFunc[S, D, R]

	mu        sync.Mutex
	nextID    uint64
	queue     []uint64
	stubs     map[uint64]S
	callbacks map[uint64]Callback[R]
	keys      map[uint64]K
	inflight  map[K]bool
	results   map[uint64]result[R]
	draining  bool
}

func NewOrdered[S any, K comparable, D any, R any](keyOf func(S) K, lookup LookupFunc[K, D], build BuildFunc[S, D, R]) *Ordered[S, K, D, R] {
	return &Ordered[S, K, D, R]{
		keyOf:     keyOf,
		lookup:    lookup,
		build:     build,
		stubs:     make(map[uint64]S),
		callbacks: make(map[uint64]Callback[R]),
		keys:      make(map[uint64]K),
		inflight:  make(map[K]bool),
		results:   make(map[uint64]result[R]),
	}
}

// Submit 提交一个存根
func (o *Ordered[S, K, D, R]) Submit(ctx context.Context, stub S, cb Callback[R]) {
	key := o.keyOf(stub)

	o.mu.Lock()
	id := o.nextID
	o.nextID += 1
	o.queue = append(o.queue, id)
	o.stubs[id] = stub
	o.callbacks[id] = cb
	o.keys[id] = key
	start := !o.inflight[key]
	if start {
		o.inflight[key] = true
	}
	o.mu.Unlock()

	if start {
		// 同一个 key 的结果属于所有等待者，查询不跟随发起者的取消
		go o.resolve(context.WithoutCancel(ctx), key)
	}
}

// Pending 还没有回调的存根数量
func (o *Ordered[S, K, D, R]) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Ordered[S, K, D, R]) resolve(ctx context.Context, key K) {
	dep, err := o.lookup(ctx, key)

	o.mu.Lock()
	delete(o.inflight, key)
	for id, k := range o.keys {
		if k != key {
			continue
		}
		if err != nil {
			o.results[id] = result[R]{err: err}
		} else {
			val, buildErr := o.build(o.stubs[id], dep)
			o.results[id] = result[R]{val: val, err: buildErr}
		}
		delete(o.keys, id)
		delete(o.stubs, id)
	}
	o.mu.Unlock()

	o.drain()
}

// drain 只要队头有结果就依次回调；同一时刻只有一个 goroutine 在回调，
// 其余的 drain 把结果留给它处理，保证回调之间不会交错
func (o *Ordered[S, K, D, R]) drain() {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return
	}
	o.draining = true

	for {
		if len(o.queue) == 0 {
			break
		}
		head := o.queue[0]
		res, ok := o.results[head]
		if !ok {
			break
		}
		cb := o.callbacks[head]
		o.queue = o.queue[1:]
		delete(o.results, head)
		delete(o.callbacks, head)
		o.mu.Unlock()

		if cb != nil {
			cb(res.val, res.err)
		}

		o.mu.Lock()
	}

	o.draining = false
	o.mu.Unlock()
}
