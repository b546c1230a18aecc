package entity

import (
	"maps"
	"time"
)

// UserID 用户ID
type UserID string

// PresenceState 在线状态
type PresenceState int8

const (
	PresenceUnknown PresenceState = 0
	PresenceOnline  PresenceState = 1
	PresenceOffline PresenceState = 2
)

func (s PresenceState) String() string {
	switch s {
	case PresenceOnline:
		return "online"
	case PresenceOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ParsePresenceState 未识别的状态一律视为 unknown
func ParsePresenceState(s string) PresenceState {
	switch s {
	case "online":
		return PresenceOnline
	case "offline":
		return PresenceOffline
	default:
		return PresenceUnknown
	}
}

// User 用户
type User struct {
	ID         UserID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Name       *string
	AvatarURL  *string
	CustomData map[string]any
	Presence   PresenceState
}

func (u *User) Key() UserID {
	return u.ID
}

// MergeFrom 合并新值：非空的可变字段覆盖旧值，ID 和 CreatedAt 不变，
// Presence 只在新值不是 unknown 时覆盖
func (u *User) MergeFrom(in *User) {
	if in == nil {
		return
	}
	if !in.UpdatedAt.IsZero() {
		u.UpdatedAt = in.UpdatedAt
	}
	if in.Name != nil {
		name := *in.Name
		u.Name = &name
	}
	if in.AvatarURL != nil {
		avatar := *in.AvatarURL
		u.AvatarURL = &avatar
	}
	if in.CustomData != nil {
		u.CustomData = maps.Clone(in.CustomData)
	}
	if in.Presence != PresenceUnknown {
		u.Presence = in.Presence
	}
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Name != nil {
		name := *u.Name
		c.Name = &name
	}
	if u.AvatarURL != nil {
		avatar := *u.AvatarURL
		c.AvatarURL = &avatar
	}
	c.CustomData = maps.Clone(u.CustomData)
	return &c
}

// DisplayName 没有名字时退回到 ID
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return string(u.ID)
}
