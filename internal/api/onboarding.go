package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/domain"
	"github.com/ashureev/onboard-guide/internal/onboarding"
)

type startSessionRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type transitionRequest struct {
	SessionID string         `json:"sessionId"`
	Action    string         `json:"action"`
	Target    string         `json:"target,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	IsVoice   bool   `json:"isVoice,omitempty"`
}

// sessionView is the session projection returned to clients.
type sessionView struct {
	*domain.Session
	Label    string `json:"label"`
	Progress int    `json:"progress"`
}

func newSessionView(s *domain.Session) sessionView {
	return sessionView{
		Session:  s,
		Label:    checkpoint.Label(s.CurrentCheckpoint),
		Progress: checkpoint.Progress(s.CurrentCheckpoint),
	}
}

// RegisterRoutes registers the onboarding routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.StartSession)
		r.Get("/session", h.GetSession)
		r.Get("/checkpoint", h.GetStatus)
		r.Post("/checkpoint", h.Transition)
		r.Post("/message", h.SendMessage)
		r.Get("/history", h.GetHistory)
		r.Get("/messages", h.GetMessages)
	})
}

// StartSession handles POST /api/session.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, resumed, err := h.svc.StartSession(r.Context(), req.Email, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	JSON(w, status, map[string]interface{}{
		"sessionId": session.ID,
		"resumed":   resumed,
		"session":   newSessionView(session),
	})
}

// GetSession handles GET /api/session?id=.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Session(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, newSessionView(session))
}

// GetStatus handles GET /api/checkpoint?sessionId=.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, status)
}

// Transition handles POST /api/checkpoint.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.Transition(r.Context(), onboarding.TransitionRequest{
		SessionID: req.SessionID,
		Action:    req.Action,
		Target:    req.Target,
		Data:      req.Data,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// SendMessage handles POST /api/message.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID != "" && !h.limiter.Allow(sessionID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	res, err := h.svc.SendMessage(r.Context(), onboarding.MessageRequest{
		SessionID: sessionID,
		Content:   req.Content,
		IsVoice:   req.IsVoice,
		Channel:   onboarding.ChannelHTTP,
		RequestID: chiMiddleware.GetReqID(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// GetHistory handles GET /api/history?sessionId=.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// GetMessages handles GET /api/messages?sessionId=&limit=.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, domain.NewValidationError("limit", "must be a non-negative integer"))
			return
		}
		limit = n
	}

	msgs, err := h.svc.Messages(r.Context(), r.URL.Query().Get("sessionId"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}
