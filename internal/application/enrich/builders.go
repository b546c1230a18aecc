package enrich

import (
	"context"
	"errors"

	"github.com/EthanQC/imsync/internal/application/store"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/pkg/errs"
)

// MessageEnricher 把消息存根解析成带发送者和房间的消息
type MessageEnricher = Ordered[*entity.StubMessage, entity.UserID, *entity.User, *entity.Message]

// CursorEnricher 校验游标引用的用户和房间都能解析
type CursorEnricher = Ordered[*entity.Cursor, entity.UserID, *entity.User, *entity.Cursor]

func NewMessageEnricher(stores *store.Stores) *MessageEnricher {
	return NewOrdered(
		func(s *entity.StubMessage) entity.UserID { return s.UserID },
		stores.Users.Get,
		func(s *entity.StubMessage, sender *entity.User) (*entity.Message, error) {
			room, ok := stores.Rooms.Find(s.RoomID)
			if !ok {
				return nil, errs.Invariant("message %d references unknown room %s", s.ID, s.RoomID)
			}
			return s.Enrich(sender, room), nil
		},
	)
}

func NewCursorEnricher(stores *store.Stores) *CursorEnricher {
	return NewOrdered(
		func(c *entity.Cursor) entity.UserID { return c.UserID },
		func(ctx context.Context, id entity.UserID) (*entity.User, error) {
			u, err := stores.Users.Get(ctx, id)
			if err != nil {
				return nil, errs.Invariant("cursor references unresolvable user %s: %v", id, err)
			}
			return u, nil
		},
		func(c *entity.Cursor, _ *entity.User) (*entity.Cursor, error) {
			if _, ok := stores.Rooms.Find(c.RoomID); !ok {
				return nil, errs.Invariant("cursor references unknown room %s", c.RoomID)
			}
			return c.Clone(), nil
		},
	)
}

// EnrichAll 提交一批存根并等待全部完成，返回成功的结果（保持提交顺序）和所有失败
// ctx 只约束本次等待，共享的查询不会因为它取消而失败
func EnrichAll[S any, K comparable, D any, R any](ctx context.Context, o *Ordered[S, K, D, R], stubs []S) ([]R, error) {
	if len(stubs) == 0 {
		return nil, nil
	}
	type item struct {
		val R
		err error
	}
	ch := make(chan item, len(stubs))
	for _, s := range stubs {
		o.Submit(ctx, s, func(val R, err error) {
			ch <- item{val: val, err: err}
		})
	}

	out := make([]R, 0, len(stubs))
	var failures []error
	for range stubs {
		select {
		case it := <-ch:
			if it.err != nil {
				failures = append(failures, it.err)
				continue
			}
			out = append(out, it.val)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, errors.Join(failures...)
}
