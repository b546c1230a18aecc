package subscription

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const (
	EventInitialState    = "initial_state"
	EventAddedToRoom     = "added_to_room"
	EventRemovedFromRoom = "removed_from_room"
	EventRoomUpdated     = "room_updated"
	EventRoomDeleted     = "room_deleted"
)

// RoomLifecycle 房间加入/离开时会话需要做的事（打开/关闭房间级订阅等），实现必须幂等
type RoomLifecycle interface {
	EnsureRoom(roomID entity.RoomID)
	DropRoom(roomID entity.RoomID)
}

type userInitialState struct {
	CurrentUser *entity.UserPayload  `json:"current_user"`
	Rooms       []entity.RoomPayload `json:"rooms"`
}

type roomData struct {
	Room *entity.RoomPayload `json:"room"`
}

type roomIDData struct {
	RoomID string `json:"room_id"`
}

// UserHandler 当前用户的用户订阅：初始状态、房间加入/离开/更新/删除
type UserHandler struct {
	deps      *Deps
	userID    entity.UserID
	lifecycle RoomLifecycle
	d         *dispatcher
}

func NewUserHandler(deps *Deps, userID entity.UserID, lifecycle RoomLifecycle) *UserHandler {
	h := &UserHandler{deps: deps, userID: userID, lifecycle: lifecycle}
	h.d = deps.newDispatcher("user", map[string]eventFunc{
		EventInitialState:    h.onInitialState,
		EventAddedToRoom:     h.onAddedToRoom,
		EventRemovedFromRoom: h.onRemovedFromRoom,
		EventRoomUpdated:     h.onRoomUpdated,
		EventRoomDeleted:     h.onRoomDeleted,
	})
	return h
}

// Handle 作为 out.EventHandler 交给传输层
func (h *UserHandler) Handle(ev out.Event) {
	h.d.handle(ev)
}

// HandleError 订阅本身失败
func (h *UserHandler) HandleError(err error) {
	h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.UserSubscriptionInit, Err: err})
	h.d.onErr(err)
}

func (h *UserHandler) onInitialState(data json.RawMessage) error {
	user, rooms, err := parseUserInitialState(data)
	if err != nil {
		h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.UserSubscriptionInit, Err: err})
		return err
	}

	current := h.deps.Stores.Users.AddOrMerge(user)
	changes := h.deps.Engine.ReconcileRooms(rooms, h.deps.delegate())

	for _, r := range changes.Removed {
		h.lifecycle.DropRoom(r.ID)
	}
	for id := range h.deps.Stores.Rooms.Snapshot() {
		h.lifecycle.EnsureRoom(id)
	}

	h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.UserSubscriptionInit, Result: current})
	return nil
}

func parseUserInitialState(data json.RawMessage) (*entity.User, []*entity.Room, error) {
	var p userInitialState
	if err := decode(data, "user initial_state", &p); err != nil {
		return nil, nil, err
	}
	if p.CurrentUser == nil {
		return nil, nil, errs.Missing("current_user")
	}
	user, err := p.CurrentUser.ToUser()
	if err != nil {
		return nil, nil, err
	}
	rooms := make([]*entity.Room, 0, len(p.Rooms))
	for i := range p.Rooms {
		r, err := p.Rooms[i].ToRoom()
		if err != nil {
			return nil, nil, err
		}
		rooms = append(rooms, r)
	}
	return user, rooms, nil
}

func (h *UserHandler) onAddedToRoom(data json.RawMessage) error {
	r, err := parseRoomData(data)
	if err != nil {
		return err
	}
	_, known := h.deps.Stores.Rooms.Find(r.ID)
	if known {
		r.MemberIDs = nil
	}
	merged := h.deps.Stores.Rooms.AddOrMerge(r)
	h.lifecycle.EnsureRoom(merged.ID)
	if known {
		h.deps.Logger.Debug("added_to_room for known room", zap.String("room_id", string(r.ID)))
		return nil
	}
	h.deps.delegate().OnAddedToRoom(merged)
	return nil
}

func (h *UserHandler) onRemovedFromRoom(data json.RawMessage) error {
	id, err := parseRoomID(data)
	if err != nil {
		return err
	}
	old, ok := h.deps.Stores.Rooms.Remove(id)
	h.deps.Engine.ForgetRoom(id)
	h.lifecycle.DropRoom(id)
	if !ok {
		h.deps.Logger.Debug("removed_from_room for unknown room", zap.String("room_id", string(id)))
		return nil
	}
	h.deps.delegate().OnRemovedFromRoom(old)
	return nil
}

func (h *UserHandler) onRoomUpdated(data json.RawMessage) error {
	r, err := parseRoomData(data)
	if err != nil {
		return err
	}
	prev, ok := h.deps.Stores.Rooms.Find(r.ID)
	if !ok {
		h.deps.Logger.Warn("room_updated for unknown room, ignoring", zap.String("room_id", string(r.ID)))
		return nil
	}
	r.MemberIDs = nil
	merged := h.deps.Stores.Rooms.AddOrMerge(r)
	if merged.ChangedFrom(prev) {
		h.deps.delegate().OnRoomUpdated(merged)
	}
	return nil
}

func (h *UserHandler) onRoomDeleted(data json.RawMessage) error {
	id, err := parseRoomID(data)
	if err != nil {
		return err
	}
	old, ok := h.deps.Stores.Rooms.Remove(id)
	h.deps.Engine.ForgetRoom(id)
	h.lifecycle.DropRoom(id)
	if !ok {
		return nil
	}
	h.deps.delegate().OnRoomDeleted(old)
	return nil
}

func parseRoomData(data json.RawMessage) (*entity.Room, error) {
	var p roomData
	if err := decode(data, "room event", &p); err != nil {
		return nil, err
	}
	if p.Room == nil {
		return nil, errs.Missing("room")
	}
	return p.Room.ToRoom()
}

func parseRoomID(data json.RawMessage) (entity.RoomID, error) {
	var p roomIDData
	if err := decode(data, "room id event", &p); err != nil {
		return "", err
	}
	if p.RoomID == "" {
		return "", errs.Missing("room_id")
	}
	return entity.RoomID(p.RoomID), nil
}
