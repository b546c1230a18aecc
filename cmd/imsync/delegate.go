package main

import (
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/domain/entity"
)

// logDelegate 把每条通知写进日志
type logDelegate struct {
	logger *zap.Logger
}

func newLogDelegate(logger *zap.Logger) *logDelegate {
	return &logDelegate{logger: logger.Named("notify")}
}

func roomField(r *entity.Room) zap.Field { return zap.String("room_id", string(r.ID)) }
func userField(u *entity.User) zap.Field { return zap.String("user_id", string(u.ID)) }

func (d *logDelegate) OnAddedToRoom(room *entity.Room) {
	d.logger.Info("added to room", roomField(room), zap.String("name", room.Name))
}

func (d *logDelegate) OnRemovedFromRoom(room *entity.Room) {
	d.logger.Info("removed from room", roomField(room))
}

func (d *logDelegate) OnRoomUpdated(room *entity.Room) {
	d.logger.Info("room updated", roomField(room), zap.String("name", room.Name))
}

func (d *logDelegate) OnRoomDeleted(room *entity.Room) {
	d.logger.Info("room deleted", roomField(room))
}

func (d *logDelegate) OnUserJoinedRoom(room *entity.Room, user *entity.User) {
	d.logger.Info("user joined", roomField(room), userField(user))
}

func (d *logDelegate) OnUserLeftRoom(room *entity.Room, user *entity.User) {
	d.logger.Info("user left", roomField(room), userField(user))
}

func (d *logDelegate) OnUserStartedTyping(room *entity.Room, user *entity.User) {
	d.logger.Debug("typing", roomField(room), userField(user))
}

func (d *logDelegate) OnUserStoppedTyping(room *entity.Room, user *entity.User) {
	d.logger.Debug("stopped typing", roomField(room), userField(user))
}

func (d *logDelegate) OnUserPresenceChanged(prev, cur entity.PresenceState, user *entity.User) {
	d.logger.Info("presence", userField(user), zap.Stringer("from", prev), zap.Stringer("to", cur))
}

func (d *logDelegate) OnNewCursor(c *entity.Cursor) {
	d.logger.Debug("cursor",
		zap.String("room_id", string(c.RoomID)),
		zap.String("user_id", string(c.UserID)),
		zap.Int("position", c.Position))
}

func (d *logDelegate) OnNewMessage(m *entity.Message) {
	d.logger.Info("message",
		roomField(&m.Room),
		zap.Int64("id", m.ID),
		zap.String("from", m.Sender.DisplayName()),
		zap.String("text", m.Text))
}

func (d *logDelegate) OnError(err error) {
	d.logger.Error("session error", zap.Error(err))
}
