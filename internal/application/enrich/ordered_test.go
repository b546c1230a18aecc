package enrich

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/EthanQC/imsync/internal/application/store"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/pkg/errs"
)

type stub struct {
	id  int
	key string
}

// gatedLookup 每个 key 的查询都阻塞到测试显式放行
type gatedLookup struct {
	mu    sync.Mutex
	gates map[string]chan error
	calls map[string]int
}

func newGatedLookup(keys ...string) *gatedLookup {
	g := &gatedLookup{gates: map[string]chan error{}, calls: map[string]int{}}
	for _, k := range keys {
		g.gates[k] = make(chan error, 1)
	}
	return g
}

func (g *gatedLookup) lookup(ctx context.Context, key string) (string, error) {
	g.mu.Lock()
	g.calls[key] += 1
	gate := g.gates[key]
	g.mu.Unlock()
	select {
	case err := <-gate:
		if err != nil {
			return "", err
		}
		return "dep-" + key, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedLookup) callCount(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[key]
}

func (g *gatedLookup) release(key string, err error) {
	g.gates[key] <- err
}

func TestOrderPreservedForAnyCompletionOrder(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	for trial := 0; trial < 30; trial += 1 {
		g := newGatedLookup(keys...)
		o := NewOrdered(
			func(s stub) string { return s.key },
			g.lookup,
			func(s stub, dep string) (string, error) { return fmt.Sprintf("%d:%s", s.id, dep), nil },
		)

		n := 25
		var mu sync.Mutex
		var got []int
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i += 1 {
			s := stub{id: i, key: keys[rand.Intn(len(keys))]}
			o.Submit(context.Background(), s, func(val string, err error) {
				mu.Lock()
				got = append(got, s.id)
				mu.Unlock()
				wg.Done()
			})
		}

		order := append([]string{}, keys...)
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, k := range order {
			g.release(k, nil)
		}
		wg.Wait()

		want := make([]int, n)
		for i := range want {
			want[i] = i
		}
		assert.Equal(t, want, got)
		assert.Equal(t, 0, o.Pending())
	}
}

func TestSameKeyLookedUpOnce(t *testing.T) {
	g := newGatedLookup("a")
	o := NewOrdered(
		func(s stub) string { return s.key },
		g.lookup,
		func(s stub, dep string) (string, error) { return dep, nil },
	)

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i += 1 {
		o.Submit(context.Background(), stub{id: i, key: "a"}, func(val string, err error) {
			assert.Equal(t, "dep-a", val)
			wg.Done()
		})
	}
	g.release("a", nil)
	wg.Wait()

	g.mu.Lock()
	assert.Equal(t, 1, g.calls["a"])
	g.mu.Unlock()
}

func TestCanceledWaiterDoesNotFailSharedLookup(t *testing.T) {
	g := newGatedLookup("a")
	o := NewOrdered(
		func(s stub) string { return s.key },
		g.lookup,
		func(s stub, dep string) (string, error) { return fmt.Sprintf("%d:%s", s.id, dep), nil },
	)

	type outcome struct {
		vals []string
		err  error
	}
	ctxA, cancelA := context.WithCancel(context.Background())
	first := make(chan outcome, 1)
	go func() {
		vals, err := EnrichAll(ctxA, o, []stub{{id: 1, key: "a"}})
		first <- outcome{vals, err}
	}()
	for g.callCount("a") == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan outcome, 1)
	go func() {
		vals, err := EnrichAll(context.Background(), o, []stub{{id: 2, key: "a"}})
		second <- outcome{vals, err}
	}()
	for o.Pending() < 2 {
		time.Sleep(time.Millisecond)
	}

	cancelA()
	a := <-first
	assert.Equal(t, context.Canceled, a.err)

	// 取消之后查询仍在进行，放行后第二个调用拿到结果
	time.Sleep(10 * time.Millisecond)
	g.release("a", nil)
	b := <-second
	assert.Equal(t, nil, b.err)
	assert.Equal(t, []string{"2:dep-a"}, b.vals)
	assert.Equal(t, 1, g.callCount("a"))
}

func TestHeadBlocksLaterResults(t *testing.T) {
	g := newGatedLookup("slow", "fast")
	o := NewOrdered(
		func(s stub) string { return s.key },
		g.lookup,
		func(s stub, dep string) (string, error) { return dep, nil },
	)

	var delivered atomic.Int32
	done := make(chan struct{})
	o.Submit(context.Background(), stub{id: 0, key: "slow"}, func(string, error) { delivered.Add(1) })
	o.Submit(context.Background(), stub{id: 1, key: "fast"}, func(string, error) {
		delivered.Add(1)
		close(done)
	})

	g.release("fast", nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), delivered.Load())
	assert.Equal(t, 2, o.Pending())

	g.release("slow", nil)
	<-done
	assert.Equal(t, int32(2), delivered.Load())
}

func TestErrorsDeliveredInOrder(t *testing.T) {
	g := newGatedLookup("ok", "bad")
	o := NewOrdered(
		func(s stub) string { return s.key },
		g.lookup,
		func(s stub, dep string) (string, error) { return dep, nil },
	)

	boom := errors.New("lookup failed")
	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(3)
	for i, k := range []string{"bad", "ok", "bad"} {
		i := i
		o.Submit(context.Background(), stub{id: i, key: k}, func(val string, err error) {
			mu.Lock()
			if err != nil {
				got = append(got, fmt.Sprintf("%d:err", i))
			} else {
				got = append(got, fmt.Sprintf("%d:%s", i, val))
			}
			mu.Unlock()
			wg.Done()
		})
	}
	g.release("ok", nil)
	g.release("bad", boom)
	wg.Wait()

	assert.Equal(t, []string{"0:err", "1:dep-ok", "2:err"}, got)
}

func TestMessageEnricher(t *testing.T) {
	stores := &store.Stores{
		Users: store.New[entity.UserID, *entity.User]("user", func(ctx context.Context, id entity.UserID) (*entity.User, error) {
			if id == "ghost" {
				return nil, errors.New("404")
			}
			// 让后提交的先返回
			if id == "alice" {
				time.Sleep(20 * time.Millisecond)
			}
			return &entity.User{ID: id}, nil
		}, nil),
		Rooms: store.New[entity.RoomID, *entity.Room]("room", nil, nil),
	}
	stores.Rooms.AddOrMerge(&entity.Room{ID: "r1", Name: "general"})

	o := NewMessageEnricher(stores)
	stubs := []*entity.StubMessage{
		{ID: 1, UserID: "alice", RoomID: "r1", Text: "hi"},
		{ID: 2, UserID: "bob", RoomID: "r1", Text: "yo"},
		{ID: 3, UserID: "ghost", RoomID: "r1"},
		{ID: 4, UserID: "bob", RoomID: "nowhere"},
	}
	msgs, err := EnrichAll(context.Background(), o, stubs)

	assert.Equal(t, 2, len(msgs))
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, entity.UserID("alice"), msgs[0].Sender.ID)
	assert.Equal(t, "general", msgs[1].Room.Name)
	assert.Equal(t, true, errors.Is(err, errs.ErrEntityNotFound))
	assert.Equal(t, true, errors.Is(err, errs.ErrInvariantViolation))
}
