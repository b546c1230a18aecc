package coordinator

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/EthanQC/imsync/internal/domain/entity"
)

var all = entity.AllConnectionEventKinds()

func TestWaiterFiresOnceAfterAllDeps(t *testing.T) {
	for trial := 0; trial < 20; trial += 1 {
		c := New(all, nil)

		var fired atomic.Int32
		var got []entity.ConnectionEvent
		c.AddWaiter([]entity.ConnectionEventKind{entity.UserSubscriptionInit, entity.CursorSubscriptionInit}, func(events []entity.ConnectionEvent) {
			fired.Add(1)
			got = events
		})

		order := []entity.ConnectionEventKind{entity.UserSubscriptionInit, entity.PresenceSubscriptionInit, entity.CursorSubscriptionInit}
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for _, k := range order {
			c.RecordCompletion(entity.ConnectionEvent{Kind: k})
		}

		assert.Equal(t, int32(1), fired.Load())
		assert.Equal(t, 2, len(got))
		assert.Equal(t, entity.UserSubscriptionInit, got[0].Kind)
		assert.Equal(t, entity.CursorSubscriptionInit, got[1].Kind)
	}
}

func TestWaiterDoesNotFireEarly(t *testing.T) {
	c := New(all, nil)
	fired := false
	c.AddWaiter(all, func(events []entity.ConnectionEvent) { fired = true })

	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.UserSubscriptionInit})
	// 重复记录忽略
	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.UserSubscriptionInit, Err: errors.New("late")})
	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.CursorSubscriptionInit})
	assert.Equal(t, false, fired)
	assert.Equal(t, []entity.ConnectionEventKind{entity.PresenceSubscriptionInit}, c.Pending())
	assert.Equal(t, false, c.IsPending(entity.UserSubscriptionInit))
	assert.Equal(t, true, c.IsPending(entity.PresenceSubscriptionInit))

	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.PresenceSubscriptionInit})
	assert.Equal(t, true, fired)
	// 周期结束后重新开始
	assert.Equal(t, true, c.IsPending(entity.UserSubscriptionInit))
}

func TestAddWaiterAlreadySatisfied(t *testing.T) {
	c := New(all, nil)
	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.UserSubscriptionInit, Result: "me"})

	var got []entity.ConnectionEvent
	c.AddWaiter([]entity.ConnectionEventKind{entity.UserSubscriptionInit}, func(events []entity.ConnectionEvent) {
		got = events
	})
	assert.Equal(t, 1, len(got))
	assert.Equal(t, "me", got[0].Result)
}

func TestErrorStillSatisfiesDependency(t *testing.T) {
	c := New(all, nil)
	boom := errors.New("presence failed")

	var userOnly, everything []entity.ConnectionEvent
	c.AddWaiter([]entity.ConnectionEventKind{entity.UserSubscriptionInit}, func(events []entity.ConnectionEvent) { userOnly = events })
	c.AddWaiter(all, func(events []entity.ConnectionEvent) { everything = events })

	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.PresenceSubscriptionInit, Err: boom})
	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.UserSubscriptionInit})
	assert.Equal(t, nil, FirstError(userOnly))

	c.RecordCompletion(entity.ConnectionEvent{Kind: entity.CursorSubscriptionInit})
	assert.Equal(t, boom, FirstError(everything))
}

func TestCycleResetsForReconnect(t *testing.T) {
	c := New(all, nil)
	var cycles atomic.Int32
	register := func() {
		c.AddWaiter(all, func(events []entity.ConnectionEvent) { cycles.Add(1) })
	}

	// 第一个周期里还有一个永远等不到的等待者，会随重置一起清掉
	c.AddWaiter([]entity.ConnectionEventKind{entity.ConnectionEventKind(99)}, func(events []entity.ConnectionEvent) {
		t.Fatal("waiter on unknown kind must not fire")
	})

	register()
	for _, k := range all {
		c.RecordCompletion(entity.ConnectionEvent{Kind: k})
	}
	assert.Equal(t, int32(1), cycles.Load())
	assert.Equal(t, 3, len(c.Pending()))

	register()
	for _, k := range all {
		c.RecordCompletion(entity.ConnectionEvent{Kind: k})
	}
	assert.Equal(t, int32(2), cycles.Load())
}

func TestConcurrentRecordFiresExactlyOnce(t *testing.T) {
	for trial := 0; trial < 50; trial += 1 {
		c := New(all, nil)
		var fired atomic.Int32
		for i := 0; i < 5; i += 1 {
			c.AddWaiter(all, func(events []entity.ConnectionEvent) {
				assert.Equal(t, 3, len(events))
				fired.Add(1)
			})
		}

		var wg sync.WaitGroup
		for _, k := range all {
			for j := 0; j < 3; j += 1 {
				wg.Add(1)
				go func(k entity.ConnectionEventKind) {
					defer wg.Done()
					c.RecordCompletion(entity.ConnectionEvent{Kind: k})
				}(k)
			}
		}
		wg.Wait()
		assert.Equal(t, int32(5), fired.Load())
	}
}
