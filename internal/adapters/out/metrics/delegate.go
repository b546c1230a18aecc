package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/in"
	"github.com/EthanQC/imsync/pkg/errs"
)

// Collectors 会话通知相关的指标
type Collectors struct {
	Notifications *prometheus.CounterVec
	Errors        *prometheus.CounterVec
}

func NewCollectors() *Collectors {
	return &Collectors{
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imsync",
			Name:      "notifications_total",
			Help:      "Notifications delivered to the delegate, by kind.",
		}, []string{"kind"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imsync",
			Name:      "errors_total",
			Help:      "Errors delivered to the delegate, by class.",
		}, []string{"class"}),
	}
}

func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.Notifications, c.Errors} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Delegate 计数后转发给内层委托
type Delegate struct {
	next in.Delegate
	c    *Collectors
}

func Wrap(next in.Delegate, c *Collectors) *Delegate {
	if next == nil {
		next = in.NoopDelegate{}
	}
	return &Delegate{next: next, c: c}
}

var _ in.Delegate = (*Delegate)(nil)

func (d *Delegate) inc(kind string) {
	d.c.Notifications.WithLabelValues(kind).Inc()
}

func (d *Delegate) OnAddedToRoom(room *entity.Room) {
	d.inc("added_to_room")
	d.next.OnAddedToRoom(room)
}

func (d *Delegate) OnRemovedFromRoom(room *entity.Room) {
	d.inc("removed_from_room")
	d.next.OnRemovedFromRoom(room)
}

func (d *Delegate) OnRoomUpdated(room *entity.Room) {
	d.inc("room_updated")
	d.next.OnRoomUpdated(room)
}

func (d *Delegate) OnRoomDeleted(room *entity.Room) {
	d.inc("room_deleted")
	d.next.OnRoomDeleted(room)
}

func (d *Delegate) OnUserJoinedRoom(room *entity.Room, user *entity.User) {
	d.inc("user_joined")
	d.next.OnUserJoinedRoom(room, user)
}

func (d *Delegate) OnUserLeftRoom(room *entity.Room, user *entity.User) {
	d.inc("user_left")
	d.next.OnUserLeftRoom(room, user)
}

func (d *Delegate) OnUserStartedTyping(room *entity.Room, user *entity.User) {
	d.inc("typing_started")
	d.next.OnUserStartedTyping(room, user)
}

func (d *Delegate) OnUserStoppedTyping(room *entity.Room, user *entity.User) {
	d.inc("typing_stopped")
	d.next.OnUserStoppedTyping(room, user)
}

func (d *Delegate) OnUserPresenceChanged(prev, cur entity.PresenceState, user *entity.User) {
	d.inc("presence_" + cur.String())
	d.next.OnUserPresenceChanged(prev, cur, user)
}

func (d *Delegate) OnNewCursor(cursor *entity.Cursor) {
	d.inc("new_cursor")
	d.next.OnNewCursor(cursor)
}

func (d *Delegate) OnNewMessage(message *entity.Message) {
	d.inc("new_message")
	d.next.OnNewMessage(message)
}

func (d *Delegate) OnError(err error) {
	d.c.Errors.WithLabelValues(Classify(err)).Inc()
	d.next.OnError(err)
}

// Classify 错误分类，用作指标标签
func Classify(err error) string {
	switch {
	case errors.Is(err, errs.ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, errs.ErrEntityNotFound):
		return "entity_not_found"
	case errors.Is(err, errs.ErrTransport):
		return "transport"
	case errors.Is(err, errs.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, errs.ErrSessionClosed):
		return "session_closed"
	default:
		return "other"
	}
}
