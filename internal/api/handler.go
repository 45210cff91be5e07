// Package api provides HTTP handlers for the onboarding API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/domain"
	"github.com/ashureev/onboard-guide/internal/onboarding"
)

// Onboarding is the transition API served over HTTP.
type Onboarding interface {
	StartSession(ctx context.Context, email, name string) (*domain.Session, bool, error)
	Session(ctx context.Context, id string) (*domain.Session, error)
	Status(ctx context.Context, id string) (*onboarding.Status, error)
	Transition(ctx context.Context, req onboarding.TransitionRequest) (*onboarding.TransitionResult, error)
	SendMessage(ctx context.Context, req onboarding.MessageRequest) (*onboarding.MessageResult, error)
	History(ctx context.Context, id string) ([]*domain.HistoryEntry, error)
	Messages(ctx context.Context, id string, limit int) ([]*domain.ChatMessage, error)
}

// Handler provides common handler utilities.
type Handler struct {
	svc     Onboarding
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHandler creates a new Handler. limiter may be nil to disable chat rate limiting.
func NewHandler(svc Onboarding, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:     svc,
		limiter: limiter,
		logger:  logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v. Malformed bodies become validation errors.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return domain.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// errorResponse maps a service error onto a status code and JSON body.
func errorResponse(err error) (int, map[string]interface{}) {
	var (
		verr     *domain.ValidationError
		guardErr *checkpoint.GuardError
		maxErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		}
	case errors.As(err, &guardErr):
		return http.StatusConflict, map[string]interface{}{
			"error":         "transition rejected",
			"reason":        guardErr.Reason,
			"checkpoint":    guardErr.From,
			"missingFields": guardErr.Missing,
		}
	case errors.Is(err, domain.ErrSessionCompleted):
		return http.StatusConflict, map[string]interface{}{"error": "session already completed"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, map[string]interface{}{"error": "session not found"}
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, map[string]interface{}{"error": "request body too large"}
	}
	return http.StatusInternalServerError, map[string]interface{}{"error": "internal error"}
}

// writeError writes err as a JSON response. Unexpected errors are logged and
// reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	JSON(w, status, body)
}
