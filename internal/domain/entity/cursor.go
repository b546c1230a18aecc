package entity

import "time"

// CursorType 游标类型，目前只有已读游标
type CursorType int

const (
	CursorTypeRead CursorType = 0
)

// CursorKey 游标唯一键
type CursorKey struct {
	UserID UserID
	RoomID RoomID
	Type   CursorType
}

// Cursor 已读游标，值类型，更新时整体替换
type Cursor struct {
	UserID    UserID
	RoomID    RoomID
	Type      CursorType
	Position  int
	UpdatedAt time.Time
}

func (c *Cursor) Key() CursorKey {
	return CursorKey{UserID: c.UserID, RoomID: c.RoomID, Type: c.Type}
}

// MergeFrom 整体替换
func (c *Cursor) MergeFrom(in *Cursor) {
	if in == nil {
		return
	}
	*c = *in
}

func (c *Cursor) Clone() *Cursor {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
