package reconcile

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/EthanQC/imsync/internal/application/store"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/in"
)

type recorder struct {
	in.NoopDelegate
	events []string
}

func (r *recorder) OnAddedToRoom(room *entity.Room) {
	r.events = append(r.events, "added:"+string(room.ID))
}

func (r *recorder) OnRemovedFromRoom(room *entity.Room) {
	r.events = append(r.events, "removed:"+string(room.ID))
}

func (r *recorder) OnRoomUpdated(room *entity.Room) {
	r.events = append(r.events, "updated:"+string(room.ID)+":"+room.Name)
}

func (r *recorder) OnNewCursor(c *entity.Cursor) {
	r.events = append(r.events, fmt.Sprintf("cursor:%s:%s:%d", c.RoomID, c.UserID, c.Position))
}

func room(id, name string) *entity.Room {
	return &entity.Room{ID: entity.RoomID(id), Name: name, CreatedByUserID: "owner"}
}

func newEngine() (*Engine, *store.Stores) {
	stores := &store.Stores{
		Users:   store.New[entity.UserID, *entity.User]("user", nil, nil),
		Rooms:   store.New[entity.RoomID, *entity.Room]("room", nil, nil),
		Cursors: store.New[entity.CursorKey, *entity.Cursor]("cursor", nil, nil),
	}
	return NewEngine(stores, nil), stores
}

func TestInitialConnectIsSilent(t *testing.T) {
	e, stores := newEngine()
	rec := &recorder{}

	rooms := []*entity.Room{}
	for i := 0; i < 10; i += 1 {
		rooms = append(rooms, room(fmt.Sprintf("r%d", i), "n"))
	}
	changes := e.ReconcileRooms(rooms, rec)

	assert.Equal(t, true, changes.Empty())
	assert.Equal(t, 0, len(rec.events))
	assert.Equal(t, 10, stores.Rooms.Len())
}

func TestReconnectScenario(t *testing.T) {
	e, stores := newEngine()
	rec := &recorder{}

	e.ReconcileRooms([]*entity.Room{room("A", "a"), room("B", "b")}, rec)
	assert.Equal(t, 0, len(rec.events))

	changes := e.ReconcileRooms([]*entity.Room{room("B", "b2"), room("C", "c")}, rec)

	assert.Equal(t, []string{"removed:A", "added:C", "updated:B:b2"}, rec.events)
	assert.Equal(t, 1, len(changes.Removed))
	_, ok := stores.Rooms.Find("A")
	assert.Equal(t, false, ok)
	b, _ := stores.Rooms.Find("B")
	assert.Equal(t, "b2", b.Name)
}

func TestReconnectDeletedRoomOnlyRemoved(t *testing.T) {
	e, _ := newEngine()
	rec := &recorder{}

	e.ReconcileRooms([]*entity.Room{room("A", "a"), room("B", "b")}, rec)
	e.ReconcileRooms([]*entity.Room{room("B", "b")}, rec)

	assert.Equal(t, []string{"removed:A"}, rec.events)
}

func TestReconnectUnchangedIsSilent(t *testing.T) {
	e, _ := newEngine()
	rec := &recorder{}

	a := room("A", "a")
	a.CustomData = map[string]any{"topic": "go"}
	e.ReconcileRooms([]*entity.Room{a}, rec)

	again := room("A", "a")
	again.CustomData = map[string]any{"topic": "go"}
	again.MemberIDs = entity.NewMemberSet([]entity.UserID{"someone"})
	e.ReconcileRooms([]*entity.Room{again}, rec)

	assert.Equal(t, 0, len(rec.events))
}

func TestKnownRoomKeepsMembers(t *testing.T) {
	e, stores := newEngine()
	rec := &recorder{}

	a := room("A", "a")
	a.MemberIDs = entity.NewMemberSet([]entity.UserID{"u1"})
	e.ReconcileRooms([]*entity.Room{a}, rec)

	b := room("A", "a")
	b.MemberIDs = entity.NewMemberSet([]entity.UserID{"u2"})
	e.ReconcileRooms([]*entity.Room{b}, rec)

	got, _ := stores.Rooms.Find("A")
	assert.Equal(t, true, got.HasMember("u1"))
	assert.Equal(t, false, got.HasMember("u2"))
}

func TestCursorReconcile(t *testing.T) {
	e, _ := newEngine()
	rec := &recorder{}

	cur := func(roomID string, pos int) *entity.Cursor {
		return &entity.Cursor{UserID: "me", RoomID: entity.RoomID(roomID), Position: pos}
	}

	e.ReconcileCursors([]*entity.Cursor{cur("A", 1), cur("B", 5)}, rec)
	assert.Equal(t, 0, len(rec.events))

	changed := e.ReconcileCursors([]*entity.Cursor{cur("A", 1), cur("B", 7), cur("C", 2)}, rec)
	assert.Equal(t, 2, len(changed))
	assert.Equal(t, []string{"cursor:B:me:7", "cursor:C:me:2"}, rec.events)
}

func TestMemberReconcile(t *testing.T) {
	e, stores := newEngine()
	stores.Rooms.AddOrMerge(room("A", "a"))

	_, primed, ok := e.ReconcileMembers("A", entity.NewMemberSet([]entity.UserID{"u1", "u2"}))
	assert.Equal(t, true, ok)
	assert.Equal(t, false, primed)

	changes, primed, ok := e.ReconcileMembers("A", entity.NewMemberSet([]entity.UserID{"u2", "u3"}))
	assert.Equal(t, true, ok)
	assert.Equal(t, true, primed)
	assert.Equal(t, []entity.UserID{"u3"}, changes.Joined)
	assert.Equal(t, []entity.UserID{"u1"}, changes.Left)

	r, _ := stores.Rooms.Find("A")
	assert.Equal(t, []entity.UserID{"u2", "u3"}, r.Members())

	_, _, ok = e.ReconcileMembers("missing", nil)
	assert.Equal(t, false, ok)
}
