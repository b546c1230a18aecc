package subscription

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/application/enrich"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const (
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
)

type membershipInitialState struct {
	UserIDs []string `json:"user_ids"`
}

type userIDData struct {
	UserID string `json:"user_id"`
}

// membershipChange 成员变化存根，解析出用户后按顺序通知
type membershipChange struct {
	userID entity.UserID
	joined bool
}

type membershipNotice struct {
	change membershipChange
	user   *entity.User
}

// MembershipHandler 单个房间的成员订阅
type MembershipHandler struct {
	deps     *Deps
	roomID   entity.RoomID
	ctx      context.Context
	enricher *enrich.Ordered[membershipChange, entity.UserID, *entity.User, membershipNotice]
	d        *dispatcher
}

func NewMembershipHandler(ctx context.Context, deps *Deps, roomID entity.RoomID) *MembershipHandler {
	h := &MembershipHandler{deps: deps, roomID: roomID, ctx: ctx}
	h.enricher = enrich.NewOrdered(
		func(c membershipChange) entity.UserID { return c.userID },
		deps.Stores.Users.Get,
		func(c membershipChange, u *entity.User) (membershipNotice, error) {
			return membershipNotice{change: c, user: u}, nil
		},
	)
	h.d = deps.newDispatcher("membership:"+string(roomID), map[string]eventFunc{
		EventInitialState: h.onInitialState,
		EventUserJoined:   h.onUserJoined,
		EventUserLeft:     h.onUserLeft,
	})
	return h
}

func (h *MembershipHandler) Handle(ev out.Event) {
	h.d.handle(ev)
}

func (h *MembershipHandler) HandleError(err error) {
	h.d.onErr(err)
}

func (h *MembershipHandler) onInitialState(data json.RawMessage) error {
	var p membershipInitialState
	if err := decode(data, "membership initial_state", &p); err != nil {
		return err
	}
	ids := make([]entity.UserID, 0, len(p.UserIDs))
	for _, id := range p.UserIDs {
		if id == "" {
			return errs.Missing("user_ids[]")
		}
		ids = append(ids, entity.UserID(id))
	}

	changes, primed, ok := h.deps.Engine.ReconcileMembers(h.roomID, entity.NewMemberSet(ids))
	if !ok {
		h.deps.Logger.Warn("membership state for unknown room", zap.String("room_id", string(h.roomID)))
		return nil
	}

	if !primed {
		// 首次填充：只预取成员信息，填好用户仓库（顺带触发在线状态订阅）
		for _, id := range ids {
			go h.prefetch(id)
		}
		return nil
	}
	for _, id := range changes.Joined {
		h.submit(membershipChange{userID: id, joined: true})
	}
	for _, id := range changes.Left {
		h.submit(membershipChange{userID: id, joined: false})
	}
	return nil
}

func (h *MembershipHandler) prefetch(id entity.UserID) {
	if _, err := h.deps.Stores.Users.Get(h.ctx, id); err != nil {
		h.deps.Logger.Warn("prefetch member failed", zap.String("user_id", string(id)), zap.Error(err))
	}
}

func (h *MembershipHandler) onUserJoined(data json.RawMessage) error {
	id, err := parseUserID(data)
	if err != nil {
		return err
	}
	var added bool
	if _, ok := h.deps.Stores.Rooms.Update(h.roomID, func(r *entity.Room) { added = r.AddMember(id) }); !ok {
		return errs.Invariant("user_joined for unknown room %s", h.roomID)
	}
	if added {
		h.submit(membershipChange{userID: id, joined: true})
	}
	return nil
}

func (h *MembershipHandler) onUserLeft(data json.RawMessage) error {
	id, err := parseUserID(data)
	if err != nil {
		return err
	}
	var removed bool
	if _, ok := h.deps.Stores.Rooms.Update(h.roomID, func(r *entity.Room) { removed = r.RemoveMember(id) }); !ok {
		return errs.Invariant("user_left for unknown room %s", h.roomID)
	}
	if removed {
		h.submit(membershipChange{userID: id, joined: false})
	}
	return nil
}

func (h *MembershipHandler) submit(c membershipChange) {
	token := h.d.token
	h.enricher.Submit(h.ctx, c, func(n membershipNotice, err error) {
		if !h.deps.Epoch.Valid(token) {
			return
		}
		if err != nil {
			h.d.onErr(err)
			return
		}
		room, ok := h.deps.Stores.Rooms.Find(h.roomID)
		if !ok {
			return
		}
		if n.change.joined {
			h.deps.delegate().OnUserJoinedRoom(room, n.user)
		} else {
			h.deps.delegate().OnUserLeftRoom(room, n.user)
		}
	})
}

func parseUserID(data json.RawMessage) (entity.UserID, error) {
	var p userIDData
	if err := decode(data, "user id event", &p); err != nil {
		return "", err
	}
	if p.UserID == "" {
		return "", errs.Missing("user_id")
	}
	return entity.UserID(p.UserID), nil
}
