package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/pkg/errs"
)

func name(s string) *string { return &s }

func TestAddOrMergeLastWriteWins(t *testing.T) {
	s := New[entity.UserID, *entity.User]("user", nil, nil)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	s.AddOrMerge(&entity.User{ID: "u1", CreatedAt: created, Name: name("a")})
	for i := 0; i < 10; i += 1 {
		s.AddOrMerge(&entity.User{ID: "u1", CreatedAt: created.Add(time.Duration(i) * time.Hour), Name: name(fmt.Sprintf("n%d", i))})
	}
	final := s.AddOrMerge(&entity.User{ID: "u1", AvatarURL: name("x.png")})

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, created, final.CreatedAt)
	assert.Equal(t, "n9", *final.Name)
	assert.Equal(t, "x.png", *final.AvatarURL)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New[entity.RoomID, *entity.Room]("room", nil, nil)
	s.AddOrMerge(&entity.Room{ID: "r1", Name: "general"})

	r, ok := s.Find("r1")
	assert.Equal(t, true, ok)
	r.Name = "mutated"
	r.AddMember("u1")

	again, _ := s.Find("r1")
	assert.Equal(t, "general", again.Name)
	assert.Equal(t, false, again.HasMember("u1"))
}

func TestConcurrentGetCoalescesFetch(t *testing.T) {
	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, id entity.UserID) (*entity.User, error) {
		fetches.Add(1)
		<-release
		return &entity.User{ID: id, Name: name("fetched")}, nil
	}
	s := New[entity.UserID, *entity.User]("user", fetch, nil)

	n := 20
	var wg sync.WaitGroup
	results := make([]*entity.User, n)
	for i := 0; i < n; i += 1 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u, err := s.Get(context.Background(), "u1")
			if err == nil {
				results[i] = u
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for _, u := range results {
		assert.NotEqual(t, nil, u)
		assert.Equal(t, "fetched", *u.Name)
	}

	// 之后命中缓存
	_, err := s.Get(context.Background(), "u1")
	assert.Equal(t, nil, err)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestGetFetchError(t *testing.T) {
	boom := errors.New("boom")
	s := New[entity.UserID, *entity.User]("user", func(ctx context.Context, id entity.UserID) (*entity.User, error) {
		return nil, boom
	}, nil)

	_, err := s.Get(context.Background(), "ghost")
	assert.Equal(t, true, errors.Is(err, errs.ErrEntityNotFound))
	assert.Equal(t, true, errors.Is(err, boom))
	assert.Equal(t, 0, s.Len())
}

func TestGetWithoutFetcher(t *testing.T) {
	s := New[entity.RoomID, *entity.Room]("room", nil, nil)
	_, err := s.Get(context.Background(), "r1")
	assert.Equal(t, true, errors.Is(err, errs.ErrEntityNotFound))
}

func TestHooksSeeCreation(t *testing.T) {
	s := New[entity.UserID, *entity.User]("user", nil, nil)
	var created []bool
	s.AddHook(func(u *entity.User, isNew bool) {
		created = append(created, isNew)
	})

	s.AddOrMerge(&entity.User{ID: "u1"})
	s.AddOrMerge(&entity.User{ID: "u1", Name: name("x")})
	s.AddOrMerge(&entity.User{ID: "u2"})

	assert.Equal(t, []bool{true, false, true}, created)
}

func TestUpdateAndRemove(t *testing.T) {
	s := New[entity.RoomID, *entity.Room]("room", nil, nil)
	s.AddOrMerge(&entity.Room{ID: "r1", Name: "general"})

	r, ok := s.Update("r1", func(r *entity.Room) { r.AddMember("u1") })
	assert.Equal(t, true, ok)
	assert.Equal(t, true, r.HasMember("u1"))

	_, ok = s.Update("missing", func(r *entity.Room) {})
	assert.Equal(t, false, ok)

	old, ok := s.Remove("r1")
	assert.Equal(t, true, ok)
	assert.Equal(t, "general", old.Name)
	_, ok = s.Find("r1")
	assert.Equal(t, false, ok)
}

func TestConcurrentMerges(t *testing.T) {
	s := New[entity.RoomID, *entity.Room]("room", nil, nil)
	s.AddOrMerge(&entity.Room{ID: "r1", Name: "general"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i += 1 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Update("r1", func(r *entity.Room) { r.AddMember(entity.UserID(fmt.Sprintf("u%d", i))) })
		}(i)
	}
	wg.Wait()

	r, _ := s.Find("r1")
	assert.Equal(t, 50, len(r.MemberIDs))
}
