package subscription

import (
	"context"
	"encoding/json"

	"github.com/EthanQC/imsync/internal/application/enrich"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const (
	EventNewMessage = "new_message"
	EventIsTyping   = "is_typing"
)

// TypingSink 接收入站的“正在输入”信号，由会话的输入状态聚合器实现
type TypingSink interface {
	Signal(room entity.RoomID, user entity.UserID)
	Clear(room entity.RoomID, user entity.UserID)
}

type messageData struct {
	Message *entity.MessagePayload `json:"message"`
}

// roomItem 房间消息流中的一项：消息或输入信号，二者共用一个有序解析队列
type roomItem struct {
	stub   *entity.StubMessage
	userID entity.UserID
}

type resolvedItem struct {
	message *entity.Message
	userID  entity.UserID
}

// MessageHandler 单个房间的消息订阅
type MessageHandler struct {
	deps     *Deps
	roomID   entity.RoomID
	ctx      context.Context
	typing   TypingSink
	enricher *enrich.Ordered[roomItem, entity.UserID, *entity.User, resolvedItem]
	d        *dispatcher
}

func NewMessageHandler(ctx context.Context, deps *Deps, roomID entity.RoomID, typing TypingSink) *MessageHandler {
	h := &MessageHandler{deps: deps, roomID: roomID, ctx: ctx, typing: typing}
	h.enricher = enrich.NewOrdered(
		func(it roomItem) entity.UserID { return it.userID },
		deps.Stores.Users.Get,
		h.build,
	)
	h.d = deps.newDispatcher("messages:"+string(roomID), map[string]eventFunc{
		EventNewMessage: h.onNewMessage,
		EventIsTyping:   h.onIsTyping,
	})
	return h
}

func (h *MessageHandler) Handle(ev out.Event) {
	h.d.handle(ev)
}

func (h *MessageHandler) HandleError(err error) {
	h.d.onErr(err)
}

func (h *MessageHandler) build(it roomItem, user *entity.User) (resolvedItem, error) {
	if it.stub == nil {
		return resolvedItem{userID: user.ID}, nil
	}
	room, ok := h.deps.Stores.Rooms.Find(it.stub.RoomID)
	if !ok {
		return resolvedItem{}, errs.Invariant("message %d references unknown room %s", it.stub.ID, it.stub.RoomID)
	}
	return resolvedItem{message: it.stub.Enrich(user, room), userID: user.ID}, nil
}

func (h *MessageHandler) onNewMessage(data json.RawMessage) error {
	var p messageData
	if err := decode(data, "new_message", &p); err != nil {
		return err
	}
	if p.Message == nil {
		return errs.Missing("message")
	}
	stub, err := p.Message.ToStub()
	if err != nil {
		return err
	}
	if stub.RoomID != h.roomID {
		return errs.Invariant("message %d for room %s on stream of room %s", stub.ID, stub.RoomID, h.roomID)
	}
	h.submit(roomItem{stub: stub, userID: stub.UserID})
	return nil
}

func (h *MessageHandler) onIsTyping(data json.RawMessage) error {
	id, err := parseUserID(data)
	if err != nil {
		return err
	}
	h.submit(roomItem{userID: id})
	return nil
}

func (h *MessageHandler) submit(it roomItem) {
	token := h.d.token
	h.enricher.Submit(h.ctx, it, func(r resolvedItem, err error) {
		if !h.deps.Epoch.Valid(token) {
			return
		}
		if err != nil {
			h.d.onErr(err)
			return
		}
		if r.message == nil {
			h.typing.Signal(h.roomID, r.userID)
			return
		}
		h.typing.Clear(h.roomID, r.userID)
		h.deps.delegate().OnNewMessage(r.message)
	})
}
