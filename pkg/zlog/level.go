package zlog

import (
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	dynamicLevel = zap.NewAtomicLevel()
	levelName    atomic.Value
)

func initLevel(lvl string) {
	levelName.Store(strings.ToLower(lvl))
	dynamicLevel.SetLevel(parseLevel(lvl))
}

func validLevel(lvl string) bool {
	switch strings.ToLower(lvl) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetLevel 运行时切换级别，未知级别返回 false
func SetLevel(lvl string) bool {
	if !validLevel(lvl) {
		return false
	}
	dynamicLevel.SetLevel(parseLevel(lvl))
	levelName.Store(strings.ToLower(lvl))
	return true
}

// GetLevel 当前级别
func GetLevel() string {
	if v, ok := levelName.Load().(string); ok && v != "" {
		return v
	}
	return dynamicLevel.Level().String()
}

// LevelHTTPHandler GET 返回当前级别，PUT ?v=debug 切换级别
func LevelHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(GetLevel()))
		case http.MethodPut:
			lvl := r.URL.Query().Get("v")
			if lvl == "" {
				lvl = r.FormValue("v")
			}
			if !SetLevel(lvl) {
				http.Error(w, "unknown level "+lvl, http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("ok"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}
