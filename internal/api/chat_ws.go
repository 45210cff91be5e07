package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/onboard-guide/internal/onboarding"
)

const chatWriteTimeout = 10 * time.Second

// wsFrame is the inbound chat frame.
type wsFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	IsVoice bool   `json:"isVoice,omitempty"`
}

type wsReply struct {
	Type string `json:"type"`
	*onboarding.MessageResult
}

// Socket is the part of *websocket.Conn the registry needs.
type Socket interface {
	Close(code websocket.StatusCode, reason string) error
}

// ConnRegistry tracks the live chat socket of each session. A second socket
// for the same session replaces the first. Close handshakes run outside the
// lock since they can block for seconds.
type ConnRegistry struct {
	mu     sync.Mutex
	active map[string]Socket
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]Socket)}
}

// Register adds conn for sessionID, closing any previous socket.
func (m *ConnRegistry) Register(sessionID string, conn Socket) {
	m.mu.Lock()
	existing, ok := m.active[sessionID]
	m.active[sessionID] = conn
	m.mu.Unlock()

	slog.Info("Chat socket registered", "session_id", sessionID)
	if ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
}

// Unregister removes conn if it is still the session's socket.
func (m *ConnRegistry) Unregister(sessionID string, conn Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		slog.Info("Chat socket unregistered", "session_id", sessionID)
	}
}

// Count returns the number of live sockets.
func (m *ConnRegistry) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CloseAll closes every live socket.
func (m *ConnRegistry) CloseAll() {
	m.mu.Lock()
	conns := make([]Socket, 0, len(m.active))
	for sid, conn := range m.active {
		conns = append(conns, conn)
		delete(m.active, sid)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// ChatSocket serves GET /ws/chat?sessionId=.
type ChatSocket struct {
	*Handler
	conns          *ConnRegistry
	allowedOrigins []string
	isDev          bool
}

// NewChatSocket creates the websocket chat handler.
func NewChatSocket(base *Handler, conns *ConnRegistry, allowedOrigins []string, isDev bool) *ChatSocket {
	if conns == nil {
		conns = NewConnRegistry()
	}
	return &ChatSocket{Handler: base, conns: conns, allowedOrigins: allowedOrigins, isDev: isDev}
}

// RegisterRoutes registers the websocket route.
func (h *ChatSocket) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	status, err := h.svc.Status(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(status.SessionID, ws)
	defer h.conns.Unregister(status.SessionID, ws)

	ctx := r.Context()
	if err := h.writeJSON(ctx, ws, map[string]interface{}{"type": "status", "status": status}); err != nil {
		return
	}
	h.readLoop(ctx, ws, status.SessionID)
}

func (h *ChatSocket) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Chat socket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("Chat socket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if h.writeJSON(ctx, ws, map[string]string{"type": "error", "error": "invalid frame"}) != nil {
				return
			}
			continue
		}

		var reply interface{}
		switch frame.Type {
		case "message":
			reply = h.handleMessage(ctx, sessionID, frame)
		case "status":
			status, err := h.svc.Status(ctx, sessionID)
			if err != nil {
				reply = h.errorFrame(sessionID, err)
			} else {
				reply = map[string]interface{}{"type": "status", "status": status}
			}
		case "ping":
			reply = map[string]string{"type": "pong"}
		default:
			reply = map[string]string{"type": "error", "error": "unknown frame type"}
		}
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			return
		}
	}
}

func (h *ChatSocket) handleMessage(ctx context.Context, sessionID string, frame wsFrame) interface{} {
	if !h.limiter.Allow(sessionID) {
		return map[string]string{"type": "error", "error": "rate limit exceeded"}
	}
	res, err := h.svc.SendMessage(ctx, onboarding.MessageRequest{
		SessionID: sessionID,
		Content:   frame.Content,
		IsVoice:   frame.IsVoice,
		Channel:   onboarding.ChannelWebSocket,
	})
	if err != nil {
		return h.errorFrame(sessionID, err)
	}
	return wsReply{Type: "reply", MessageResult: res}
}

// errorFrame renders a service error for the socket with the status the
// HTTP handlers would use.
func (h *ChatSocket) errorFrame(sessionID string, err error) map[string]interface{} {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Chat request failed", "session_id", sessionID, "error", err)
	}
	body["type"] = "error"
	body["status"] = status
	return body
}

func (h *ChatSocket) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *ChatSocket) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, chatWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Chat socket write error", "error", err)
		return err
	}
	return nil
}
