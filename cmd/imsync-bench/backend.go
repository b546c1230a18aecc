package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/adapters/out/kafka"
	"github.com/EthanQC/imsync/internal/adapters/out/redisstream"
	"github.com/EthanQC/imsync/internal/config"
	"github.com/EthanQC/imsync/internal/ports/out"
)

// eventPublisher 往某个订阅路径写一条事件
type eventPublisher interface {
	publish(ctx context.Context, path string, body []byte) error
}

type redisPublisher struct{ p *redisstream.Publisher }

func (r redisPublisher) publish(ctx context.Context, path string, body []byte) error {
	_, err := r.p.Publish(ctx, path, nil, body)
	return err
}

type kafkaPublisher struct{ p *kafka.Publisher }

func (k kafkaPublisher) publish(_ context.Context, path string, body []byte) error {
	_, _, err := k.p.Publish(path, nil, body)
	return err
}

// backend 订阅流走 redis/kafka 时，压测端同时往流里注入事件
type backend struct {
	sub   out.Subscriber
	pub   eventPublisher
	close func()
}

// newBackend transport.kind=ws 时返回 nil，订阅直接走服务端
func newBackend(cfg *config.Config, logger *zap.Logger) (*backend, error) {
	switch cfg.Transport.Kind {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("init redis failed: %w", err)
		}
		return &backend{
			sub:   redisstream.NewSubscriber(rdb, logger),
			pub:   redisPublisher{redisstream.NewPublisher(rdb)},
			close: func() { _ = rdb.Close() },
		}, nil

	case "kafka":
		sub, err := kafka.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return nil, err
		}
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafka.NewConfig())
		if err != nil {
			_ = sub.Close()
			return nil, fmt.Errorf("create kafka producer failed: %w", err)
		}
		return &backend{
			sub: sub,
			pub: kafkaPublisher{kafka.NewPublisher(producer, cfg.Kafka.Topic)},
			close: func() {
				_ = producer.Close()
				_ = sub.Close()
			},
		}, nil
	}
	return nil, nil
}

// transport 订阅走 backend，一次性请求仍然走 HTTP
func (b *backend) transport(req out.Transport) out.Transport {
	if b == nil {
		return req
	}
	return out.Compose(b.sub, req)
}

func presencePath(userID string) string {
	return "/users/" + url.PathEscape(userID) + "/presence"
}

func presenceEvent(state string, at time.Time) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event_name": "presence_state",
		"data":       map[string]string{"state": state},
		"timestamp":  at.UTC().Format(time.RFC3339),
	})
}

// publishRound 给每个用户的在线状态流写一条状态，round 为奇数时 offline
func publishRound(ctx context.Context, pub eventPublisher, users []string, round int, stats *Stats) {
	state := "online"
	if round%2 == 1 {
		state = "offline"
	}
	body, err := presenceEvent(state, time.Now())
	if err != nil {
		stats.PublishFailed.Add(1)
		return
	}
	for _, id := range users {
		if err := pub.publish(ctx, presencePath(id), body); err != nil {
			stats.PublishFailed.Add(1)
			continue
		}
		stats.Published.Add(1)
	}
}
