package in

import (
	"github.com/EthanQC/imsync/internal/domain/entity"
)

// Delegate 会话对上层暴露的通知接口
// 每次逻辑上的变化最多通知一次；回调在订阅流的 goroutine 中执行，不要在回调里阻塞
type Delegate interface {
	OnAddedToRoom(room *entity.Room)
	OnRemovedFromRoom(room *entity.Room)
	OnRoomUpdated(room *entity.Room)
	OnRoomDeleted(room *entity.Room)
	OnUserJoinedRoom(room *entity.Room, user *entity.User)
	OnUserLeftRoom(room *entity.Room, user *entity.User)
	OnUserStartedTyping(room *entity.Room, user *entity.User)
	OnUserStoppedTyping(room *entity.Room, user *entity.User)
	OnUserPresenceChanged(prev, cur entity.PresenceState, user *entity.User)
	OnNewCursor(cursor *entity.Cursor)
	OnNewMessage(message *entity.Message)
	OnError(err error)
}

// NoopDelegate 所有方法都是空实现，嵌入后只需覆盖关心的方法
type NoopDelegate struct{}

func (NoopDelegate) OnAddedToRoom(*entity.Room) {}
func (NoopDelegate) OnRemovedFromRoom(*entity.Room) {}
func (NoopDelegate) OnRoomUpdated(*entity.Room) {}
func (NoopDelegate) OnRoomDeleted(*entity.Room) {}
func (NoopDelegate) OnUserJoinedRoom(*entity.Room, *entity.User) {}
func (NoopDelegate) OnUserLeftRoom(*entity.Room, *entity.User) {}
func (NoopDelegate) OnUserStartedTyping(*entity.Room, *entity.User) {}
func (NoopDelegate) OnUserStoppedTyping(*entity.Room, *entity.User) {}
func (NoopDelegate) OnUserPresenceChanged(entity.PresenceState, entity.PresenceState, *entity.User) {}
func (NoopDelegate) OnNewCursor(*entity.Cursor) {}
func (NoopDelegate) OnNewMessage(*entity.Message) {}
func (NoopDelegate) OnError(error) {}

var _ Delegate = NoopDelegate{}
