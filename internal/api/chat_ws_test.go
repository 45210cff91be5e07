package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func writeFrame(ctx context.Context, t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestChatSocketRoundTrip(t *testing.T) {
	env := newTestEnv(t, 10)
	id := env.startSession(t)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?sessionId=" + id
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	if frame := readFrame(ctx, t, conn); frame["type"] != "status" {
		t.Fatalf("expected initial status frame, got %v", frame)
	}

	writeFrame(ctx, t, conn, map[string]string{"type": "ping"})
	if frame := readFrame(ctx, t, conn); frame["type"] != "pong" {
		t.Fatalf("expected pong, got %v", frame)
	}

	writeFrame(ctx, t, conn, map[string]string{"type": "message", "content": "hi there"})
	frame := readFrame(ctx, t, conn)
	if frame["type"] != "reply" {
		t.Fatalf("expected reply, got %v", frame)
	}
	if frame["advanced"] != true || frame["checkpoint"] != "BUSINESS_INFO" {
		t.Errorf("expected advance to BUSINESS_INFO, got %v", frame)
	}

	writeFrame(ctx, t, conn, map[string]string{"type": "message", "content": " "})
	frame = readFrame(ctx, t, conn)
	if frame["type"] != "error" || frame["status"] != float64(http.StatusBadRequest) {
		t.Errorf("expected 400 error frame, got %v", frame)
	}
}

func TestChatSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/ws/chat?sessionId=missing", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before upgrade, got %d", w.Code)
	}
}

func TestChatSocketOriginCheck(t *testing.T) {
	h := NewChatSocket(NewHandler(nil, nil, nil), nil, []string{"https://app.example"}, false)

	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	req.Header.Set("Origin", "https://evil.example")
	if h.checkOrigin(req) {
		t.Error("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "https://app.example")
	if !h.checkOrigin(req) {
		t.Error("expected allowed origin to pass")
	}
}
