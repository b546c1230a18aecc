package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/application/enrich"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/pkg/errs"
)

// SetReadCursor 设置当前用户在房间里的已读位置
// 同一房间一个防抖窗口内的多次调用合并成一次写入，cb 收到那次写入的结果
func (s *Session) SetReadCursor(roomID entity.RoomID, position int, cb func(error)) {
	d, err := s.debouncer(roomID)
	if err != nil {
		if cb != nil {
			cb(err)
		}
		return
	}
	d.Set(position, cb)
}

// ReadCursor 某个用户在房间里的已读游标，本地没有时回源
func (s *Session) ReadCursor(ctx context.Context, roomID entity.RoomID, userID entity.UserID) (*entity.Cursor, error) {
	return s.deps.Stores.Cursors.Get(ctx, entity.CursorKey{UserID: userID, RoomID: roomID, Type: entity.CursorTypeRead})
}

func (s *Session) putCursor(ctx context.Context, roomID entity.RoomID, position int) error {
	body, err := json.Marshal(map[string]int{"position": position})
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/cursors/%d/rooms/%s/users/%s",
		entity.CursorTypeRead, url.PathEscape(string(roomID)), url.PathEscape(string(s.userID)))
	if _, err := s.transport.Request(ctx, http.MethodPut, path, body); err != nil {
		return errs.Transport("set cursor", err)
	}
	return nil
}

// SendTypingEvent 通知房间当前用户正在输入，短时间内重复调用只发一次
func (s *Session) SendTypingEvent(ctx context.Context, roomID entity.RoomID) error {
	if _, ok := s.deps.Stores.Rooms.Find(roomID); !ok {
		return errs.NotFound("room", roomID, nil)
	}
	return s.throttler.Typing(ctx, roomID)
}

func (s *Session) sendTyping(ctx context.Context, roomID entity.RoomID) error {
	path := "/rooms/" + url.PathEscape(string(roomID)) + "/typing_indicators"
	if _, err := s.transport.Request(ctx, http.MethodPost, path, nil); err != nil {
		return errs.Transport("send typing", err)
	}
	return nil
}

// FetchOptions 拉取历史消息的分页参数
type FetchOptions struct {
	InitialID *int64
	Direction string // older|newer，默认 older
	Limit     int
}

// FetchMessages 拉取一页历史消息，按服务端顺序返回解析好的消息
// 发送者解析失败的消息被跳过，错误一并返回
func (s *Session) FetchMessages(ctx context.Context, roomID entity.RoomID, opts FetchOptions) ([]*entity.Message, error) {
	if _, ok := s.deps.Stores.Rooms.Find(roomID); !ok {
		return nil, errs.NotFound("room", roomID, nil)
	}
	q := url.Values{}
	if opts.InitialID != nil {
		q.Set("initial_id", strconv.FormatInt(*opts.InitialID, 10))
	}
	if opts.Direction != "" {
		q.Set("direction", opts.Direction)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.opts.MessageLimit
	}
	q.Set("limit", strconv.Itoa(limit))

	body, err := s.transport.Request(ctx, http.MethodGet, "/rooms/"+url.PathEscape(string(roomID))+"/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, errs.Transport("fetch messages", err)
	}
	var payloads []entity.MessagePayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, errs.Malformed("messages", err)
	}
	stubs := make([]*entity.StubMessage, 0, len(payloads))
	for i := range payloads {
		stub, err := payloads[i].ToStub()
		if err != nil {
			return nil, err
		}
		stubs = append(stubs, stub)
	}

	msgs, err := enrich.EnrichAll(ctx, s.messages, stubs)
	if err != nil {
		s.logger.Warn("some messages could not be enriched",
			zap.String("room_id", string(roomID)),
			zap.Int("ok", len(msgs)),
			zap.Int("total", len(stubs)),
			zap.Error(err))
	}
	return msgs, err
}

type sendMessageResponse struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage 发送一条文本消息，返回服务端分配的消息ID
// 消息本身通过房间消息流送达
func (s *Session) SendMessage(ctx context.Context, roomID entity.RoomID, text string) (int64, error) {
	if text == "" {
		return 0, errs.Missing("text")
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return 0, err
	}
	resp, err := s.transport.Request(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/messages", body)
	if err != nil {
		return 0, errs.Transport("send message", err)
	}
	var r sendMessageResponse
	if err := json.Unmarshal(resp, &r); err != nil {
		return 0, errs.Malformed("send message response", err)
	}
	return r.MessageID, nil
}

// JoinRoom 当前用户加入房间，房间通过用户订阅的 added_to_room 到达
func (s *Session) JoinRoom(ctx context.Context, roomID entity.RoomID) error {
	return s.membershipRequest(ctx, roomID, "join")
}

// LeaveRoom 当前用户离开房间，房间通过用户订阅的 removed_from_room 移除
func (s *Session) LeaveRoom(ctx context.Context, roomID entity.RoomID) error {
	return s.membershipRequest(ctx, roomID, "leave")
}

func (s *Session) membershipRequest(ctx context.Context, roomID entity.RoomID, action string) error {
	path := fmt.Sprintf("/users/%s/rooms/%s/%s", url.PathEscape(string(s.userID)), url.PathEscape(string(roomID)), action)
	if _, err := s.transport.Request(ctx, http.MethodPut, path, nil); err != nil {
		return errs.Transport(action+" room", err)
	}
	return nil
}
