package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/pkg/zlog"
)

// roomLister /debug 接口只需要读房间
type roomLister interface {
	Rooms() []*entity.Room
	IsSubscribedToRoom(roomID entity.RoomID) bool
}

type roomView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Private    bool     `json:"private"`
	Members    []string `json:"members"`
	Subscribed bool     `json:"subscribed"`
}

func newAdminRouter(rooms roomLister, reg *prometheus.Registry, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), zlog.GinLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	r.GET("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))
	r.PUT("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))

	r.GET("/debug/rooms", func(c *gin.Context) {
		list := rooms.Rooms()
		views := make([]roomView, 0, len(list))
		for _, room := range list {
			v := roomView{
				ID:         string(room.ID),
				Name:       room.Name,
				Private:    room.IsPrivate,
				Members:    []string{},
				Subscribed: rooms.IsSubscribedToRoom(room.ID),
			}
			for _, id := range room.Members() {
				v.Members = append(v.Members, string(id))
			}
			views = append(views, v)
		}
		c.JSON(http.StatusOK, gin.H{"rooms": views})
	})
	return r
}
