package ws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
	"github.com/EthanQC/imsync/pkg/zlog"
)

// Config 连接聊天服务端的参数
type Config struct {
	BaseURL string // http(s)://host[:port]/prefix，订阅流使用对应的 ws(s) 地址
	Token   string
	Timeout time.Duration
}

// Client 订阅流走 WebSocket，一次性请求走 HTTP
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	backoff backoff
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url failed: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		base:  base,
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Timeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		backoff: defaultBackoff,
		logger:  logger.With(zap.String("transport", "ws")),
	}, nil
}

var _ out.Transport = (*Client)(nil)

// StatusError 服务端返回了非 2xx
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Request 发出一次 HTTP 请求，返回响应体
func (c *Client) Request(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, errs.Transport(method+" "+path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-Id", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Transport(method+" "+path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transport(method+" "+path, err)
	}

	zlog.C(ctx).Debug("request done",
		zap.String("request_id", reqID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode == http.StatusNotFound {
			return nil, errs.NotFound("resource", path, serr)
		}
		return nil, errs.Transport(method+" "+path, serr)
	}
	return data, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// streamURL http→ws、https→wss
func (c *Client) streamURL(path string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String() + path
}
