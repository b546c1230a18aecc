package subscription

import (
	"context"
	"encoding/json"

	"github.com/EthanQC/imsync/internal/application/enrich"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const EventNewCursor = "new_cursor"

type cursorInitialState struct {
	Cursors []entity.CursorPayload `json:"cursors"`
}

type cursorData struct {
	Cursor *entity.CursorPayload `json:"cursor"`
}

// CursorHandler 当前用户的已读游标订阅
type CursorHandler struct {
	deps     *Deps
	ctx      context.Context
	enricher *enrich.CursorEnricher
	d        *dispatcher
}

func NewCursorHandler(ctx context.Context, deps *Deps, userID entity.UserID) *CursorHandler {
	h := &CursorHandler{deps: deps, ctx: ctx, enricher: enrich.NewCursorEnricher(deps.Stores)}
	h.d = deps.newDispatcher("cursors:"+string(userID), map[string]eventFunc{
		EventInitialState: h.onInitialState,
		EventNewCursor:    h.onNewCursor,
	})
	return h
}

func (h *CursorHandler) Handle(ev out.Event) {
	h.d.handle(ev)
}

func (h *CursorHandler) HandleError(err error) {
	h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.CursorSubscriptionInit, Err: err})
	h.d.onErr(err)
}

func (h *CursorHandler) onInitialState(data json.RawMessage) error {
	var p cursorInitialState
	if err := decode(data, "cursor initial_state", &p); err != nil {
		h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.CursorSubscriptionInit, Err: err})
		return err
	}
	cursors := make([]*entity.Cursor, 0, len(p.Cursors))
	for i := range p.Cursors {
		c, err := p.Cursors[i].ToCursor()
		if err != nil {
			h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.CursorSubscriptionInit, Err: err})
			return err
		}
		cursors = append(cursors, c)
	}

	h.deps.Engine.ReconcileCursors(cursors, h.deps.delegate())
	h.deps.Coordinator.RecordCompletion(entity.ConnectionEvent{Kind: entity.CursorSubscriptionInit, Result: len(cursors)})
	return nil
}

func (h *CursorHandler) onNewCursor(data json.RawMessage) error {
	var p cursorData
	if err := decode(data, "new_cursor", &p); err != nil {
		return err
	}
	if p.Cursor == nil {
		return errs.Missing("cursor")
	}
	c, err := p.Cursor.ToCursor()
	if err != nil {
		return err
	}

	token := h.d.token
	h.enricher.Submit(h.ctx, c, func(c *entity.Cursor, err error) {
		if !h.deps.Epoch.Valid(token) {
			return
		}
		if err != nil {
			h.d.onErr(err)
			return
		}
		stored := h.deps.Stores.Cursors.AddOrMerge(c)
		h.deps.delegate().OnNewCursor(stored)
	})
	return nil
}
