package entity

import (
	"maps"
	"reflect"
	"slices"
	"time"
)

// RoomID 房间ID
type RoomID string

// Room 房间
// 成员只保存用户ID，成员详情通过用户仓库解析，房间本身不持有 User 引用
type Room struct {
	ID              RoomID
	Name            string
	IsPrivate       bool
	CreatedByUserID UserID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
	CustomData      map[string]any
	MemberIDs       map[UserID]struct{}
}

func (r *Room) Key() RoomID {
	return r.ID
}

// MergeFrom 房间事件总是携带完整的房间信息，所以名称、私有标记和自定义数据直接覆盖；
// 成员列表只有在新值携带时才覆盖
func (r *Room) MergeFrom(in *Room) {
	if in == nil {
		return
	}
	r.Name = in.Name
	r.IsPrivate = in.IsPrivate
	r.CustomData = maps.Clone(in.CustomData)
	if !in.UpdatedAt.IsZero() {
		r.UpdatedAt = in.UpdatedAt
	}
	if in.DeletedAt != nil {
		deletedAt := *in.DeletedAt
		r.DeletedAt = &deletedAt
	}
	if in.MemberIDs != nil {
		r.MemberIDs = maps.Clone(in.MemberIDs)
	}
}

func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.DeletedAt != nil {
		deletedAt := *r.DeletedAt
		c.DeletedAt = &deletedAt
	}
	c.CustomData = maps.Clone(r.CustomData)
	c.MemberIDs = maps.Clone(r.MemberIDs)
	return &c
}

// ChangedFrom 只比较对外可见的属性：名称、私有标记、自定义数据
func (r *Room) ChangedFrom(prev *Room) bool {
	if prev == nil {
		return true
	}
	if r.Name != prev.Name || r.IsPrivate != prev.IsPrivate {
		return true
	}
	if len(r.CustomData) == 0 && len(prev.CustomData) == 0 {
		return false
	}
	return !reflect.DeepEqual(r.CustomData, prev.CustomData)
}

// IsDeleted 房间是否已删除
func (r *Room) IsDeleted() bool {
	return r.DeletedAt != nil
}

// HasMember 是否为房间成员
func (r *Room) HasMember(id UserID) bool {
	_, ok := r.MemberIDs[id]
	return ok
}

// AddMember 返回是否是新加入的成员
func (r *Room) AddMember(id UserID) bool {
	if r.MemberIDs == nil {
		r.MemberIDs = make(map[UserID]struct{})
	}
	if _, ok := r.MemberIDs[id]; ok {
		return false
	}
	r.MemberIDs[id] = struct{}{}
	return true
}

// RemoveMember 返回成员是否确实存在过
func (r *Room) RemoveMember(id UserID) bool {
	if _, ok := r.MemberIDs[id]; !ok {
		return false
	}
	delete(r.MemberIDs, id)
	return true
}

// Members 排序后的成员ID
func (r *Room) Members() []UserID {
	ids := make([]UserID, 0, len(r.MemberIDs))
	for id := range r.MemberIDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NewMemberSet 由ID列表构造成员集合
func NewMemberSet(ids []UserID) map[UserID]struct{} {
	set := make(map[UserID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
