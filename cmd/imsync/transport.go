package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/adapters/out/kafka"
	"github.com/EthanQC/imsync/internal/adapters/out/redisstream"
	"github.com/EthanQC/imsync/internal/adapters/out/ws"
	"github.com/EthanQC/imsync/internal/config"
	"github.com/EthanQC/imsync/internal/ports/out"
)

// buildTransport 按 transport.kind 组装传输层；一次性请求总是走 HTTP
func buildTransport(cfg *config.Config, logger *zap.Logger) (out.Transport, func(), error) {
	client, err := ws.New(ws.Config{
		BaseURL: cfg.Transport.BaseURL,
		Token:   cfg.Transport.Token,
		Timeout: cfg.Transport.Timeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Transport.Kind {
	case "ws":
		return client, func() {}, nil

	case "redis":
		rdb, err := initRedis(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis failed: %w", err)
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		sub := redisstream.NewSubscriber(rdb, logger)
		return out.Compose(sub, client), func() { _ = rdb.Close() }, nil

	case "kafka":
		sub, err := kafka.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("kafka connected", zap.Strings("brokers", cfg.Kafka.Brokers))
		return out.Compose(sub, client), func() { _ = sub.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}

func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
