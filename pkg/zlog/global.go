package zlog

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// InitGlobal 创建 logger 并替换 zap 全局实例，返回的函数恢复原来的全局实例
func InitGlobal(cfg Config) (restore func(), err error) {
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	undo := zap.ReplaceGlobals(l)
	return func() {
		_ = l.Sync()
		undo()
	}, nil
}

// MustInitGlobal 同 InitGlobal，失败直接 panic，并监听 SIGHUP 切换 debug/info
func MustInitGlobal(cfg Config) {
	if _, err := InitGlobal(cfg); err != nil {
		panic(err)
	}
	watchSIGHUP()
}

func watchSIGHUP() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP)
	go func() {
		for range c {
			next := "debug"
			if GetLevel() == "debug" {
				next = "info"
			}
			SetLevel(next)
			zap.L().Info("log level toggled", zap.String("now", next))
		}
	}()
}
