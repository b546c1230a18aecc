package entity

import (
	"slices"
	"time"
)

// Part 多段消息中的一段
type Part struct {
	Type    string // MIME 类型
	Content string
	URL     string
}

// Attachment 附件引用
type Attachment struct {
	Link string
	Type string
	Name string
}

// Message 已解析的消息，构造后不再修改
type Message struct {
	ID         int64
	Sender     User
	Room       Room
	Text       string
	Parts      []Part
	Attachment *Attachment
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StubMessage 解析前的消息，只持有发送者和房间的ID
type StubMessage struct {
	ID         int64
	UserID     UserID
	RoomID     RoomID
	Text       string
	Parts      []Part
	Attachment *Attachment
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Enrich 用解析好的发送者和房间构造消息
func (s *StubMessage) Enrich(sender *User, room *Room) *Message {
	m := &Message{
		ID:        s.ID,
		Sender:    *sender.Clone(),
		Room:      *room.Clone(),
		Text:      s.Text,
		Parts:     slices.Clone(s.Parts),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Attachment != nil {
		a := *s.Attachment
		m.Attachment = &a
	}
	return m
}
