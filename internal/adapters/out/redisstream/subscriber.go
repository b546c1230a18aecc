package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const (
	// 流的 key 前缀，订阅路径直接拼在后面
	streamKeyPrefix = "imsync:stream:"

	fieldBody    = "body"
	fieldHeaders = "headers"

	blockTimeout = 5 * time.Second
	readCount    = 100
	maxLen       = 10000
)

// StreamKey 订阅路径对应的 Redis Stream key，查询参数不参与
func StreamKey(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return streamKeyPrefix + strings.TrimPrefix(path, "/")
}

// Subscriber 从 Redis Streams 读取服务端写入的事件
// 每个订阅从流的开头读起（服务端负责裁剪），断线后从最后一条的 ID 继续
type Subscriber struct {
	client *redis.Client
	logger *zap.Logger
}

func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.L()
	}
	return &Subscriber{client: client, logger: logger.With(zap.String("transport", "redis"))}
}

var _ out.Subscriber = (*Subscriber)(nil)

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func (s *Subscriber) Subscribe(ctx context.Context, path string, onEvent out.EventHandler, onError out.ErrorHandler) (out.Subscription, error) {
	if onEvent == nil || onError == nil {
		return nil, errors.New("subscribe needs both handlers")
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go s.read(ctx, StreamKey(path), onEvent, onError, sub.done)
	return sub, nil
}

func (s *Subscriber) read(ctx context.Context, key string, onEvent out.EventHandler, onError out.ErrorHandler, done chan struct{}) {
	defer close(done)
	logger := s.logger.With(zap.String("stream", key))
	lastID := "0"
	failures := 0

	for ctx.Err() == nil {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   readCount,
			Block:   blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures += 1
			if failures >= 5 {
				logger.Error("xread keeps failing, giving up", zap.Error(err))
				onError(errs.Transport("xread "+key, err))
				return
			}
			logger.Warn("xread failed, retrying", zap.Int("failures", failures), zap.Error(err))
			select {
			case <-time.After(time.Duration(failures) * 200 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		failures = 0

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				ev, err := toEvent(msg)
				if err != nil {
					logger.Error("bad stream entry, skipping", zap.String("id", msg.ID), zap.Error(err))
					continue
				}
				onEvent(ev)
			}
		}
	}
}

func toEvent(msg redis.XMessage) (out.Event, error) {
	body, ok := msg.Values[fieldBody].(string)
	if !ok || body == "" {
		return out.Event{}, errs.Missing(fieldBody)
	}
	ev := out.Event{ID: msg.ID, Body: []byte(body)}
	if raw, ok := msg.Values[fieldHeaders].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &ev.Headers); err != nil {
			return out.Event{}, errs.Malformed("headers", err)
		}
	}
	return ev, nil
}

// Publisher 往订阅路径对应的流里写事件，供服务端桥接和测试使用
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish 写入一条事件，返回流里的 ID
func (p *Publisher) Publish(ctx context.Context, path string, headers map[string]string, body []byte) (string, error) {
	values := map[string]any{fieldBody: string(body)}
	if len(headers) > 0 {
		raw, err := json.Marshal(headers)
		if err != nil {
			return "", fmt.Errorf("marshal headers failed: %w", err)
		}
		values[fieldHeaders] = string(raw)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(path),
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}
