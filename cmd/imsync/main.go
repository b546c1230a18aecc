package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/adapters/out/metrics"
	"github.com/EthanQC/imsync/internal/application/session"
	"github.com/EthanQC/imsync/internal/config"
	"github.com/EthanQC/imsync/internal/domain/entity"
	"github.com/EthanQC/imsync/pkg/zlog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logCfg, err := zlog.LoadConfig(cfg.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载日志配置失败: %v\n", err)
		os.Exit(1)
	}
	zlog.MustInitGlobal(*logCfg)
	defer zap.L().Sync()

	logger := zap.L()
	logger.Info("imsync starting",
		zap.String("env", config.Env()),
		zap.String("user_id", cfg.UserID),
		zap.String("transport", cfg.Transport.Kind))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := zlog.RegisterMetrics(reg); err != nil {
		logger.Fatal("register log metrics failed", zap.Error(err))
	}
	sessionMetrics := metrics.NewCollectors()
	if err := sessionMetrics.Register(reg); err != nil {
		logger.Fatal("register session metrics failed", zap.Error(err))
	}

	transport, closeTransport, err := buildTransport(cfg, logger)
	if err != nil {
		logger.Fatal("build transport failed", zap.Error(err))
	}
	defer closeTransport()

	sess := session.New(transport, entity.UserID(cfg.UserID), cfg.SessionOptions(), logger)
	delegate := metrics.Wrap(newLogDelegate(logger), sessionMetrics)

	connected := make(chan error, 1)
	err = sess.Connect(delegate, func(user *entity.User, err error) {
		if err == nil {
			logger.Info("session ready", zap.String("name", user.DisplayName()), zap.Int("rooms", len(sess.Rooms())))
		}
		connected <- err
	})
	if err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}

	admin := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           newAdminRouter(sess, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("admin server listening", zap.String("addr", cfg.Admin.Addr))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("admin server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-connected:
		if err != nil {
			logger.Error("initial connection failed", zap.Error(err))
			break
		}
		<-quit
	case <-quit:
	}

	logger.Info("shutting down")
	sess.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := admin.Shutdown(ctx); err != nil {
		logger.Warn("admin shutdown failed", zap.Error(err))
	}
	logger.Info("imsync exited")
}
