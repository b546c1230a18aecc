package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // 必须小于 pongWait
	maxMessageSize = 1 << 20

	lastEventIDHeader = "Last-Event-ID"
)

// frame 服务端推送的一帧
type frame struct {
	EventID string            `json:"event_id"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body"`
}

type backoff struct {
	min, max time.Duration
}

var defaultBackoff = backoff{min: 500 * time.Millisecond, max: 30 * time.Second}

func (b backoff) next(cur time.Duration) time.Duration {
	if cur < b.min {
		return b.min
	}
	cur *= 2
	if cur > b.max {
		return b.max
	}
	return cur
}

// stream 一条可续传的订阅流：断线后带上 Last-Event-ID 重连，服务端从断点继续推送
type stream struct {
	c       *Client
	path    string
	onEvent out.EventHandler
	onError out.ErrorHandler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	conn        *websocket.Conn
	lastEventID string
}

// Subscribe 立即返回，连接在后台建立；不可恢复的错误（鉴权失败、流不存在）交给 onError 后停止
func (c *Client) Subscribe(ctx context.Context, path string, onEvent out.EventHandler, onError out.ErrorHandler) (out.Subscription, error) {
	if onEvent == nil || onError == nil {
		return nil, errors.New("subscribe needs both handlers")
	}
	s := &stream{
		c:       c,
		path:    path,
		onEvent: onEvent,
		onError: onError,
		logger:  c.logger.With(zap.String("path", path)),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
	return s, nil
}

// Close 不等待后台 goroutine 退出，可以在本流的回调里调用
func (s *stream) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	return nil
}

func (s *stream) run() {
	defer close(s.done)
	var wait time.Duration
	for {
		connected, err := s.connectAndRead()
		if s.ctx.Err() != nil {
			return
		}
		if fatal(err) {
			s.logger.Error("stream stopped", zap.Error(err))
			s.onError(errs.Transport("subscribe "+s.path, err))
			return
		}
		if connected {
			// 连上过就从最短间隔重新退避
			wait = 0
		}
		wait = s.c.backoff.next(wait)
		s.logger.Warn("stream interrupted, reconnecting", zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-time.After(wait):
		case <-s.ctx.Done():
			return
		}
	}
}

type handshakeError struct {
	code int
	err  error
}

func (e *handshakeError) Error() string { return e.err.Error() }
func (e *handshakeError) Unwrap() error { return e.err }

// fatal 4xx 握手失败不再重试
func fatal(err error) bool {
	var he *handshakeError
	return errors.As(err, &he) && he.code >= 400 && he.code < 500
}

// connectAndRead 返回的 bool 表示握手是否成功过
func (s *stream) connectAndRead() (bool, error) {
	header := http.Header{}
	s.c.authorize(header)
	s.mu.Lock()
	if s.lastEventID != "" {
		header.Set(lastEventIDHeader, s.lastEventID)
	}
	s.mu.Unlock()

	conn, resp, err := s.c.dialer.DialContext(s.ctx, s.c.streamURL(s.path), header)
	if err != nil {
		if resp != nil {
			return false, &handshakeError{code: resp.StatusCode, err: err}
		}
		return false, err
	}
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return false, s.ctx.Err()
	}
	s.conn = conn
	s.mu.Unlock()
	s.logger.Debug("stream connected")

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.ping(conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, errors.New("server closed stream")
			}
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Error("bad frame, skipping", zap.Error(err))
			continue
		}
		if f.EventID != "" {
			s.mu.Lock()
			s.lastEventID = f.EventID
			s.mu.Unlock()
		}
		s.onEvent(out.Event{ID: f.EventID, Headers: f.Headers, Body: f.Body})
	}
}

func (s *stream) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
