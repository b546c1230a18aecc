package entity

import (
	"time"

	"github.com/EthanQC/imsync/pkg/errs"
)

// 以下是服务端下发的 JSON 结构，解析后转换为领域实体

// UserPayload 用户
type UserPayload struct {
	ID         string         `json:"id"`
	Name       *string        `json:"name,omitempty"`
	AvatarURL  *string        `json:"avatar_url,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	CreatedAt  *time.Time     `json:"created_at"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
}

func (p *UserPayload) ToUser() (*User, error) {
	if p.ID == "" {
		return nil, errs.Missing("user.id")
	}
	if p.CreatedAt == nil {
		return nil, errs.Missing("user.created_at")
	}
	u := &User{
		ID:         UserID(p.ID),
		CreatedAt:  *p.CreatedAt,
		Name:       p.Name,
		AvatarURL:  p.AvatarURL,
		CustomData: p.CustomData,
	}
	if p.UpdatedAt != nil {
		u.UpdatedAt = *p.UpdatedAt
	} else {
		u.UpdatedAt = u.CreatedAt
	}
	return u, nil
}

// RoomPayload 房间
type RoomPayload struct {
	ID            string         `json:"id"`
	Name          *string        `json:"name"`
	Private       bool           `json:"private"`
	CreatedByID   string         `json:"created_by_id"`
	CustomData    map[string]any `json:"custom_data,omitempty"`
	MemberUserIDs []string       `json:"member_user_ids,omitempty"`
	CreatedAt     *time.Time     `json:"created_at"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

func (p *RoomPayload) ToRoom() (*Room, error) {
	if p.ID == "" {
		return nil, errs.Missing("room.id")
	}
	if p.Name == nil {
		return nil, errs.Missing("room.name")
	}
	if p.CreatedByID == "" {
		return nil, errs.Missing("room.created_by_id")
	}
	if p.CreatedAt == nil {
		return nil, errs.Missing("room.created_at")
	}
	r := &Room{
		ID:              RoomID(p.ID),
		Name:            *p.Name,
		IsPrivate:       p.Private,
		CreatedByUserID: UserID(p.CreatedByID),
		CreatedAt:       *p.CreatedAt,
		UpdatedAt:       *p.CreatedAt,
		DeletedAt:       p.DeletedAt,
		CustomData:      p.CustomData,
	}
	if p.UpdatedAt != nil {
		r.UpdatedAt = *p.UpdatedAt
	}
	if p.MemberUserIDs != nil {
		ids := make([]UserID, len(p.MemberUserIDs))
		for i, id := range p.MemberUserIDs {
			ids[i] = UserID(id)
		}
		r.MemberIDs = NewMemberSet(ids)
	}
	return r, nil
}

// CursorPayload 游标
type CursorPayload struct {
	UserID     string     `json:"user_id"`
	RoomID     string     `json:"room_id"`
	CursorType int        `json:"cursor_type"`
	Position   *int       `json:"position"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func (p *CursorPayload) ToCursor() (*Cursor, error) {
	if p.UserID == "" {
		return nil, errs.Missing("cursor.user_id")
	}
	if p.RoomID == "" {
		return nil, errs.Missing("cursor.room_id")
	}
	if p.Position == nil {
		return nil, errs.Missing("cursor.position")
	}
	c := &Cursor{
		UserID:   UserID(p.UserID),
		RoomID:   RoomID(p.RoomID),
		Type:     CursorType(p.CursorType),
		Position: *p.Position,
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	return c, nil
}

// PartPayload 消息分段
type PartPayload struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
}

// AttachmentPayload 附件
type AttachmentPayload struct {
	ResourceLink string `json:"resource_link"`
	Type         string `json:"type"`
	Name         string `json:"name,omitempty"`
}

// MessagePayload 消息
type MessagePayload struct {
	ID         *int64             `json:"id"`
	UserID     string             `json:"user_id"`
	RoomID     string             `json:"room_id"`
	Text       string             `json:"text,omitempty"`
	Parts      []PartPayload      `json:"parts,omitempty"`
	Attachment *AttachmentPayload `json:"attachment,omitempty"`
	CreatedAt  *time.Time         `json:"created_at"`
	UpdatedAt  *time.Time         `json:"updated_at,omitempty"`
}

func (p *MessagePayload) ToStub() (*StubMessage, error) {
	if p.ID == nil {
		return nil, errs.Missing("message.id")
	}
	if p.UserID == "" {
		return nil, errs.Missing("message.user_id")
	}
	if p.RoomID == "" {
		return nil, errs.Missing("message.room_id")
	}
	if p.CreatedAt == nil {
		return nil, errs.Missing("message.created_at")
	}
	s := &StubMessage{
		ID:        *p.ID,
		UserID:    UserID(p.UserID),
		RoomID:    RoomID(p.RoomID),
		Text:      p.Text,
		CreatedAt: *p.CreatedAt,
		UpdatedAt: *p.CreatedAt,
	}
	if p.UpdatedAt != nil {
		s.UpdatedAt = *p.UpdatedAt
	}
	for _, part := range p.Parts {
		s.Parts = append(s.Parts, Part{Type: part.Type, Content: part.Content, URL: part.URL})
	}
	if p.Attachment != nil {
		if p.Attachment.ResourceLink == "" {
			return nil, errs.Missing("message.attachment.resource_link")
		}
		s.Attachment = &Attachment{
			Link: p.Attachment.ResourceLink,
			Type: p.Attachment.Type,
			Name: p.Attachment.Name,
		}
	}
	return s, nil
}
