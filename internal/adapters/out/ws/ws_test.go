package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanQC/imsync/internal/ports/out"
	"github.com/EthanQC/imsync/pkg/errs"
)

var upgrader = websocket.Upgrader{}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: srv.URL, Token: "tok", Timeout: 2 * time.Second}, zap.NewNop())
	assert.Equal(t, nil, err)
	c.backoff = backoff{min: 10 * time.Millisecond, max: 50 * time.Millisecond}
	return c
}

func writeFrame(t *testing.T, conn *websocket.Conn, id, event string) {
	body, _ := json.Marshal(map[string]any{"event_name": event, "data": map[string]any{}})
	f, _ := json.Marshal(frame{EventID: id, Body: body})
	if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
		t.Error(err)
	}
}

func TestStreamResumesWithLastEventID(t *testing.T) {
	var mu sync.Mutex
	var resumeHeaders []string
	var auth string
	attempts := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts += 1
		n := attempts
		resumeHeaders = append(resumeHeaders, r.Header.Get(lastEventIDHeader))
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			writeFrame(t, conn, "1", "a")
			writeFrame(t, conn, "2", "b")
			return // 断开，客户端应当续传
		}
		writeFrame(t, conn, "3", "c")
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := newClient(t, srv)
	got := make(chan out.Event, 10)
	sub, err := c.Subscribe(context.Background(), "/users", func(ev out.Event) { got <- ev }, func(err error) {
		t.Errorf("unexpected error %v", err)
	})
	assert.Equal(t, nil, err)

	ids := []string{}
	for i := 0; i < 3; i += 1 {
		select {
		case ev := <-got:
			ids = append(ids, ev.ID)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %v", ids)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	assert.Equal(t, nil, sub.Close())
	<-sub.(*stream).done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "", resumeHeaders[0])
	assert.Equal(t, "2", resumeHeaders[1])
	assert.Equal(t, "Bearer tok", auth)
}

func TestStreamBackoffResetsAfterConnect(t *testing.T) {
	var mu sync.Mutex
	var dialed []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dialed = append(dialed, time.Now())
		n := len(dialed)
		mu.Unlock()

		// 前几次失败把退避推到上限
		if n <= 5 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 6 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := newClient(t, srv)
	c.backoff = backoff{min: 20 * time.Millisecond, max: 640 * time.Millisecond}
	sub, err := c.Subscribe(context.Background(), "/users", func(out.Event) {}, func(err error) {
		t.Errorf("unexpected error %v", err)
	})
	assert.Equal(t, nil, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(dialed)
		mu.Unlock()
		if n >= 7 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d dials", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, nil, sub.Close())
	<-sub.(*stream).done

	mu.Lock()
	defer mu.Unlock()
	// 连接成功后的第一次重连用最短间隔，而不是上限
	gap := dialed[6].Sub(dialed[5])
	assert.Equal(t, true, gap < 300*time.Millisecond)
}

func TestStreamStopsOnAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(t, srv)
	errCh := make(chan error, 1)
	sub, err := c.Subscribe(context.Background(), "/users", func(out.Event) {}, func(err error) { errCh <- err })
	assert.Equal(t, nil, err)

	select {
	case err := <-errCh:
		assert.Equal(t, true, errors.Is(err, errs.ErrTransport))
	case <-time.After(3 * time.Second):
		t.Fatal("no error reported")
	}
	<-sub.(*stream).done
}

func TestRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/alice":
			if r.Header.Get("X-Request-Id") == "" || r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"id":"alice"}`))
		case "/rooms/R/messages":
			body, _ := io.ReadAll(r.Body)
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write(body)
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	body, err := c.Request(ctx, http.MethodGet, "/users/alice", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"id":"alice"}`, string(body))

	body, err = c.Request(ctx, http.MethodPost, "/rooms/R/messages", []byte(`{"text":"hi"}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"text":"hi"}`, string(body))

	_, err = c.Request(ctx, http.MethodGet, "/users/ghost", nil)
	assert.Equal(t, true, errors.Is(err, errs.ErrEntityNotFound))

	_, err = c.Request(ctx, http.MethodGet, "/boom", nil)
	assert.Equal(t, true, errors.Is(err, errs.ErrTransport))
	var serr *StatusError
	assert.Equal(t, true, errors.As(err, &serr))
	assert.Equal(t, http.StatusInternalServerError, serr.Code)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "ftp://x"}, nil)
	assert.NotEqual(t, nil, err)
}
