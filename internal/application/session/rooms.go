package session

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/application/coalesce"
	"github.com/EthanQC/imsync/internal/application/subscription"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/pkg/errs"
)

// EnsureRoom 打开房间的成员订阅，已打开时什么都不做
func (s *Session) EnsureRoom(roomID entity.RoomID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.memberships[roomID]; ok {
		s.mu.Unlock()
		return
	}
	s.memberships[roomID] = nil
	s.mu.Unlock()

	h := subscription.NewMembershipHandler(s.ctx, s.deps, roomID)
	sub, err := s.subscribe("/rooms/"+url.PathEscape(string(roomID))+"/memberships", h)
	if err != nil {
		h.HandleError(err)
	}

	s.mu.Lock()
	if _, still := s.memberships[roomID]; s.closed || !still {
		s.mu.Unlock()
		closeSub(sub)
		return
	}
	s.memberships[roomID] = sub
	s.mu.Unlock()
}

// DropRoom 当前用户离开房间后关闭所有房间级的流和计时器
func (s *Session) DropRoom(roomID entity.RoomID) {
	s.mu.Lock()
	membership, hasMembership := s.memberships[roomID]
	stream, hasStream := s.roomStreams[roomID]
	debouncer := s.debouncers[roomID]
	delete(s.memberships, roomID)
	delete(s.roomStreams, roomID)
	delete(s.debouncers, roomID)
	s.mu.Unlock()

	if hasMembership {
		closeSub(membership)
	}
	if hasStream {
		closeSub(stream)
	}
	if debouncer != nil {
		debouncer.Close()
	}
	s.typing.ClearRoom(roomID)
	s.throttler.Forget(roomID)
	s.logger.Debug("room dropped", zap.String("room_id", string(roomID)))
}

// SubscribeToRoom 打开房间的消息流，消息按到达顺序解析后通过 OnNewMessage 通知
// messageLimit<=0 时使用默认值
func (s *Session) SubscribeToRoom(roomID entity.RoomID, messageLimit int) error {
	if _, ok := s.deps.Stores.Rooms.Find(roomID); !ok {
		return errs.NotFound("room", roomID, nil)
	}
	if messageLimit <= 0 {
		messageLimit = s.opts.MessageLimit
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrSessionClosed
	}
	if _, ok := s.roomStreams[roomID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.roomStreams[roomID] = nil
	s.mu.Unlock()

	h := subscription.NewMessageHandler(s.ctx, s.deps, roomID, s.typing)
	path := fmt.Sprintf("/rooms/%s/messages?message_limit=%d", url.PathEscape(string(roomID)), messageLimit)
	sub, err := s.subscribe(path, h)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.roomStreams, roomID)
		return err
	}
	if _, still := s.roomStreams[roomID]; s.closed || !still {
		closeSub(sub)
		return errs.ErrSessionClosed
	}
	s.roomStreams[roomID] = sub
	return nil
}

// UnsubscribeFromRoom 关闭房间的消息流
func (s *Session) UnsubscribeFromRoom(roomID entity.RoomID) {
	s.mu.Lock()
	sub, ok := s.roomStreams[roomID]
	delete(s.roomStreams, roomID)
	s.mu.Unlock()
	if ok {
		closeSub(sub)
	}
	s.typing.ClearRoom(roomID)
}

// IsSubscribedToRoom 房间的消息流是否打开
func (s *Session) IsSubscribedToRoom(roomID entity.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.roomStreams[roomID]
	return ok
}

// Rooms 当前用户所在的房间，按 ID 排序
func (s *Session) Rooms() []*entity.Room {
	snap := s.deps.Stores.Rooms.Snapshot()
	rooms := make([]*entity.Room, 0, len(snap))
	for _, r := range snap {
		rooms = append(rooms, r)
	}
	slices.SortFunc(rooms, func(a, b *entity.Room) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return rooms
}

func (s *Session) Room(roomID entity.RoomID) (*entity.Room, bool) {
	return s.deps.Stores.Rooms.Find(roomID)
}

// RoomMembers 房间成员，通过用户仓库解析（缺失的用户会回源）
func (s *Session) RoomMembers(ctx context.Context, roomID entity.RoomID) ([]*entity.User, error) {
	room, ok := s.deps.Stores.Rooms.Find(roomID)
	if !ok {
		return nil, errs.NotFound("room", roomID, nil)
	}
	ids := room.Members()
	users := make([]*entity.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.deps.Stores.Users.Get(ctx, id)
		if err != nil {
			return users, err
		}
		users = append(users, u)
	}
	return users, nil
}

// IsTyping 某个用户当前是否在房间里输入
func (s *Session) IsTyping(roomID entity.RoomID, userID entity.UserID) bool {
	return s.typing.IsTyping(roomID, userID)
}

func (s *Session) debouncer(roomID entity.RoomID) (*coalesce.CursorDebouncer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.ErrSessionClosed
	}
	d, ok := s.debouncers[roomID]
	if !ok {
		d = coalesce.NewCursorDebouncer(s.opts.CursorDebounce, func(ctx context.Context, position int) error {
			return s.putCursor(ctx, roomID, position)
		}, s.logger.With(zap.String("room_id", string(roomID))))
		s.debouncers[roomID] = d
	}
	return d, nil
}

var _ subscription.RoomLifecycle = (*Session)(nil)
