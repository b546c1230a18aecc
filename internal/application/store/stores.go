package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

type (
	UserStore   = Store[entity.UserID, *entity.User]
	RoomStore   = Store[entity.RoomID, *entity.Room]
	CursorStore = Store[entity.CursorKey, *entity.Cursor]
)

// Stores 一个会话的三个实体仓库，连接时创建，不是全局单例
type Stores struct {
	Users   *UserStore
	Rooms   *RoomStore
	Cursors *CursorStore
}

// NewStores 用传输层构造三个仓库
// 房间仓库只保存当前用户所在的房间，由用户订阅维护，不做远端回源
func NewStores(req out.Requester, logger *zap.Logger) *Stores {
	return &Stores{
		Users:   New[entity.UserID, *entity.User]("user", UserFetcher(req), logger),
		Rooms:   New[entity.RoomID, *entity.Room]("room", nil, logger),
		Cursors: New[entity.CursorKey, *entity.Cursor]("cursor", CursorFetcher(req), logger),
	}
}

// UserFetcher GET /users/{id}
func UserFetcher(req out.Requester) FetchFunc[entity.UserID, *entity.User] {
	return func(ctx context.Context, id entity.UserID) (*entity.User, error) {
		body, err := req.Request(ctx, http.MethodGet, "/users/"+url.PathEscape(string(id)), nil)
		if err != nil {
			return nil, errs.Transport("get user", err)
		}
		var p entity.UserPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errs.Malformed("user", err)
		}
		u, err := p.ToUser()
		if err != nil {
			return nil, err
		}
		if u.ID != id {
			return nil, errs.Invariant("requested user %s, got %s", id, u.ID)
		}
		return u, nil
	}
}

// CursorFetcher GET /cursors/{type}/rooms/{room}/users/{user}
func CursorFetcher(req out.Requester) FetchFunc[entity.CursorKey, *entity.Cursor] {
	return func(ctx context.Context, key entity.CursorKey) (*entity.Cursor, error) {
		path := fmt.Sprintf("/cursors/%d/rooms/%s/users/%s",
			key.Type, url.PathEscape(string(key.RoomID)), url.PathEscape(string(key.UserID)))
		body, err := req.Request(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, errs.Transport("get cursor", err)
		}
		var p entity.CursorPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, errs.Malformed("cursor", err)
		}
		return p.ToCursor()
	}
}
