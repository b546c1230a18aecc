package redisstream

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "imsync:stream:users", StreamKey("/users"))
	assert.Equal(t, "imsync:stream:rooms/R/messages", StreamKey("/rooms/R/messages?message_limit=20"))
}

func TestToEvent(t *testing.T) {
	ev, err := toEvent(redis.XMessage{ID: "1-0", Values: map[string]any{
		"body":    `{"event_name":"x","data":{}}`,
		"headers": `{"k":"v"}`,
	}})
	assert.Equal(t, nil, err)
	assert.Equal(t, "1-0", ev.ID)
	assert.Equal(t, "v", ev.Headers["k"])

	_, err = toEvent(redis.XMessage{ID: "2-0", Values: map[string]any{}})
	assert.Equal(t, true, errors.Is(err, errs.ErrMalformedPayload))

	_, err = toEvent(redis.XMessage{ID: "3-0", Values: map[string]any{"body": "{}", "headers": "not json"}})
	assert.Equal(t, true, errors.Is(err, errs.ErrMalformedPayload))
}

// 需要真实的 Redis：IMSYNC_TEST_REDIS=127.0.0.1:6379
func TestPublishSubscribeRoundTrip(t *testing.T) {
	addr := os.Getenv("IMSYNC_TEST_REDIS")
	if addr == "" {
		t.Skip("IMSYNC_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	path := "/test/" + time.Now().Format("150405.000000")
	defer client.Del(ctx, StreamKey(path))

	pub := NewPublisher(client)
	for _, body := range []string{`{"n":1}`, `{"n":2}`} {
		_, err := pub.Publish(ctx, path, nil, []byte(body))
		assert.Equal(t, nil, err)
	}

	got := make(chan out.Event, 4)
	sub, err := NewSubscriber(client, zap.NewNop()).Subscribe(ctx, path, func(ev out.Event) { got <- ev }, func(err error) {
		t.Errorf("unexpected error %v", err)
	})
	assert.Equal(t, nil, err)
	defer sub.Close()

	_, err = pub.Publish(ctx, path, map[string]string{"h": "1"}, []byte(`{"n":3}`))
	assert.Equal(t, nil, err)

	bodies := []string{}
	for i := 0; i < 3; i += 1 {
		select {
		case ev := <-got:
			bodies = append(bodies, string(ev.Body))
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %v", bodies)
		}
	}
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, bodies)
}
