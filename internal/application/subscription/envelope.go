package subscription

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

// Envelope 订阅流中每条事件的 JSON 信封
type Envelope struct {
	EventName string          `json:"event_name"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// ParseEnvelope 解析信封，event_name 和 data 必填
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errs.Malformed("event envelope", err)
	}
	if env.EventName == "" {
		return nil, errs.Missing("event_name")
	}
	if len(env.Data) == 0 {
		return nil, errs.Missing("data")
	}
	return &env, nil
}

// decode 把 data 解析进 v
func decode(data json.RawMessage, what string, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Malformed(what, err)
	}
	return nil
}

type eventFunc func(data json.RawMessage) error

// dispatcher 每种流一张固定的分发表，未知事件记录日志后丢弃
type dispatcher struct {
	stream string
	epoch  *Epoch
	token  uint64
	table  map[string]eventFunc
	onErr  func(error)
	logger *zap.Logger
}

func (d *dispatcher) handle(ev out.Event) {
	// 会话已结束，晚到的事件直接丢弃
	if !d.epoch.Valid(d.token) {
		d.logger.Debug("dropping event from ended session", zap.String("event_id", ev.ID))
		return
	}

	env, err := ParseEnvelope(ev.Body)
	if err != nil {
		d.logger.Error("bad event envelope", zap.String("event_id", ev.ID), zap.Error(err))
		d.onErr(err)
		return
	}

	fn, ok := d.table[env.EventName]
	if !ok {
		d.logger.Warn("unknown event, ignoring", zap.String("event_name", env.EventName), zap.String("event_id", ev.ID))
		return
	}
	if err := fn(env.Data); err != nil {
		d.logger.Error("handle event failed",
			zap.String("event_name", env.EventName),
			zap.String("event_id", ev.ID),
			zap.Error(err))
		d.onErr(err)
	}
}
