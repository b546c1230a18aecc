package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/EthanQC/imsync/internal/application/subscription"
)

type capturePublisher struct {
	paths  []string
	bodies [][]byte
	fail   map[string]bool
}

func (c *capturePublisher) publish(_ context.Context, path string, body []byte) error {
	if c.fail[path] {
		return errors.New("broker unavailable")
	}
	c.paths = append(c.paths, path)
	c.bodies = append(c.bodies, body)
	return nil
}

func TestPublishRoundAlternatesPresence(t *testing.T) {
	pub := &capturePublisher{fail: map[string]bool{"/users/bench-2/presence": true}}
	stats := newStats()
	users := []string{"bench-0", "bench 1", "bench-2"}

	publishRound(context.Background(), pub, users, 0, stats)
	publishRound(context.Background(), pub, users, 1, stats)

	assert.Equal(t, []string{
		"/users/bench-0/presence", "/users/bench%201/presence",
		"/users/bench-0/presence", "/users/bench%201/presence",
	}, pub.paths)
	assert.Equal(t, int64(4), stats.Published.Load())
	assert.Equal(t, int64(2), stats.PublishFailed.Load())

	env, err := subscription.ParseEnvelope(pub.bodies[0])
	assert.Equal(t, nil, err)
	assert.Equal(t, "presence_state", env.EventName)
	var data struct {
		State string `json:"state"`
	}
	assert.Equal(t, nil, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "online", data.State)

	env, _ = subscription.ParseEnvelope(pub.bodies[2])
	assert.Equal(t, nil, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "offline", data.State)
}

func TestPresenceEventEnvelope(t *testing.T) {
	body, err := presenceEvent("online", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"data":{"state":"online"},"event_name":"presence_state","timestamp":"2024-01-01T00:00:00Z"}`, string(body))
}

func TestNilBackendKeepsRequester(t *testing.T) {
	var b *backend
	assert.Equal(t, nil, b.transport(nil))
}
