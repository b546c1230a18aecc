package reconcile

import (
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/application/store"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/in"
)

// Engine 每次（重新）连接拿到全量状态后，把本地旧状态和新状态做对比，
// 只通知真正发生的变化，效果等同于一个从未断线的客户端收到的通知序列。
// 会话的第一次连接只填充本地状态，不产生任何通知。
type Engine struct {
	stores *store.Stores
	logger *zap.Logger

	mu            sync.Mutex
	roomsPrimed   bool
	cursorsPrimed bool
	membersPrimed map[entity.RoomID]bool
}

func NewEngine(stores *store.Stores, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.L()
	}
	return &Engine{
		stores:        stores,
		logger:        logger,
		membersPrimed: make(map[entity.RoomID]bool),
	}
}

// ReconcileRooms 用用户订阅的 initial_state 更新房间仓库，并通知差异
// 房间成员由成员订阅维护，已知房间合并时不覆盖成员
func (e *Engine) ReconcileRooms(fresh []*entity.Room, d in.Delegate) RoomChanges {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 房间是可变的引用实体，必须在合并之前深拷贝
	old := e.stores.Rooms.Snapshot()

	merged := make(map[entity.RoomID]*entity.Room, len(fresh))
	for _, r := range fresh {
		if _, known := old[r.ID]; known {
			r = r.Clone()
			r.MemberIDs = nil
		}
		merged[r.ID] = e.stores.Rooms.AddOrMerge(r)
	}

	if !e.roomsPrimed {
		e.roomsPrimed = true
		e.logger.Debug("initial room state populated", zap.Int("rooms", len(merged)))
		return RoomChanges{}
	}

	changes := DiffRooms(old, merged)
	for _, r := range changes.Removed {
		e.stores.Rooms.Remove(r.ID)
		delete(e.membersPrimed, r.ID)
		d.OnRemovedFromRoom(r)
	}
	for _, r := range changes.Added {
		d.OnAddedToRoom(r)
	}
	for _, r := range changes.Updated {
		d.OnRoomUpdated(r)
	}
	if !changes.Empty() {
		e.logger.Info("rooms reconciled",
			zap.Int("added", len(changes.Added)),
			zap.Int("removed", len(changes.Removed)),
			zap.Int("updated", len(changes.Updated)))
	}
	return changes
}

// ReconcileCursors 用游标订阅的 initial_state 更新游标仓库，新游标和位置变化的游标通知 OnNewCursor
func (e *Engine) ReconcileCursors(fresh []*entity.Cursor, d in.Delegate) []*entity.Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.stores.Cursors.Snapshot()
	freshByKey := make(map[entity.CursorKey]*entity.Cursor, len(fresh))
	for _, c := range fresh {
		freshByKey[c.Key()] = e.stores.Cursors.AddOrMerge(c)
	}

	if !e.cursorsPrimed {
		e.cursorsPrimed = true
		return nil
	}

	changed := DiffCursors(old, freshByKey)
	for _, c := range changed {
		d.OnNewCursor(c)
	}
	return changed
}

// ReconcileMembers 用成员订阅的 initial_state 覆盖房间成员
// 返回的差异需要调用方解析用户后再通知；该房间第一次填充时返回 primed=false
func (e *Engine) ReconcileMembers(roomID entity.RoomID, fresh map[entity.UserID]struct{}) (changes MemberChanges, primed bool, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var old map[entity.UserID]struct{}
	_, ok = e.stores.Rooms.Update(roomID, func(r *entity.Room) {
		old = r.MemberIDs
		r.MemberIDs = maps.Clone(fresh)
	})
	if !ok {
		return MemberChanges{}, false, false
	}

	if !e.membersPrimed[roomID] {
		e.membersPrimed[roomID] = true
		return MemberChanges{}, false, true
	}
	return DiffMembers(old, fresh), true, true
}

// ForgetRoom 房间被移除后，下次再加入时重新按首次填充处理
func (e *Engine) ForgetRoom(roomID entity.RoomID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.membersPrimed, roomID)
}
