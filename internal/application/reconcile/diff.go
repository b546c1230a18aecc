package reconcile

import (
	"cmp"
	"slices"

	"github.com/EthanQC/imsync/internal/domain/entity"
)

// RoomChanges 两次快照之间房间的差异
type RoomChanges struct {
	Added   []*entity.Room
	Removed []*entity.Room
	Updated []*entity.Room
}

func (c RoomChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0
}

// DiffRooms 按房间ID做集合运算；Removed 取旧值，Added / Updated 取新值
func DiffRooms(old, fresh map[entity.RoomID]*entity.Room) RoomChanges {
	var c RoomChanges
	for id, r := range old {
		if _, ok := fresh[id]; !ok {
			c.Removed = append(c.Removed, r)
		}
	}
	for id, r := range fresh {
		prev, ok := old[id]
		if !ok {
			c.Added = append(c.Added, r)
			continue
		}
		if r.ChangedFrom(prev) {
			c.Updated = append(c.Updated, r)
		}
	}
	byID := func(a, b *entity.Room) int { return cmp.Compare(a.ID, b.ID) }
	slices.SortFunc(c.Added, byID)
	slices.SortFunc(c.Removed, byID)
	slices.SortFunc(c.Updated, byID)
	return c
}

// DiffCursors 新出现的游标以及位置变化的游标；消失的游标不产生变化
func DiffCursors(old, fresh map[entity.CursorKey]*entity.Cursor) []*entity.Cursor {
	var changed []*entity.Cursor
	for key, c := range fresh {
		prev, ok := old[key]
		if ok && prev.Position == c.Position {
			continue
		}
		changed = append(changed, c)
	}
	slices.SortFunc(changed, func(a, b *entity.Cursor) int {
		if n := cmp.Compare(a.RoomID, b.RoomID); n != 0 {
			return n
		}
		if n := cmp.Compare(a.UserID, b.UserID); n != 0 {
			return n
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return changed
}

// MemberChanges 房间成员的差异
type MemberChanges struct {
	Joined []entity.UserID
	Left   []entity.UserID
}

func DiffMembers(old, fresh map[entity.UserID]struct{}) MemberChanges {
	var c MemberChanges
	for id := range fresh {
		if _, ok := old[id]; !ok {
			c.Joined = append(c.Joined, id)
		}
	}
	for id := range old {
		if _, ok := fresh[id]; !ok {
			c.Left = append(c.Left, id)
		}
	}
	slices.Sort(c.Joined)
	slices.Sort(c.Left)
	return c
}
