package subscription

import (
	"encoding/json"

	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const EventPresenceState = "presence_state"

type presenceData struct {
	State string `json:"state"`
}

// PresenceHandler 单个用户的在线状态订阅
// 当前用户自己的在线状态订阅在每个连接周期里收到的第一条事件上报 PresenceSubscriptionInit，
// 传输层重连后服务端会重新推送当前状态
type PresenceHandler struct {
	deps       *Deps
	userID     entity.UserID
	reportInit bool
	d          *dispatcher
}

func NewPresenceHandler(deps *Deps, userID entity.UserID, reportInit bool) *PresenceHandler {
	h := &PresenceHandler{deps: deps, userID: userID, reportInit: reportInit}
	h.d = deps.newDispatcher("presence:"+string(userID), map[string]eventFunc{
		EventPresenceState: h.onPresenceState,
	})
	return h
}

func (h *PresenceHandler) Handle(ev out.Event) {
	h.d.handle(ev)
}

func (h *PresenceHandler) HandleError(err error) {
	h.recordInit(err)
	h.d.onErr(err)
}

func (h *PresenceHandler) recordInit(err error) {
	if !h.reportInit || !h.deps.Coordinator.IsPending(entity.PresenceSubscriptionInit) {
		return
	}
	h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{
		Kind:   entity.PresenceSubscriptionInit,
		Result: h.userID,
		Err:    err,
	})
}

func (h *PresenceHandler) onPresenceState(data json.RawMessage) error {
	var p presenceData
	if err := decode(data, "presence_state", &p); err != nil {
		h.recordInit(err)
		return err
	}
	state := entity.ParsePresenceState(p.State)
	if state == entity.PresenceUnknown {
		err := errs.Malformed("presence state "+p.State, nil)
		h.recordInit(err)
		return err
	}

	var prev entity.PresenceState
	user, ok := h.deps.Stores.Users.Update(h.userID, func(u *entity.User) {
		prev = u.Presence
		u.Presence = state
	})
	h.recordInit(nil)
	if !ok {
		h.deps.Logger.Debug("presence for user not in store")
		return nil
	}
	if prev != state {
		h.deps.delegate().OnUserPresenceChanged(prev, state, user)
	}
	return nil
}
