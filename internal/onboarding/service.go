// Package onboarding implements the transition API: it owns onboarding
// sessions and drives them through the checkpoint state machine, persisting
// every accepted transition before returning.
package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/ashureev/onboard-guide/internal/agent"
	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
	"github.com/ashureev/onboard-guide/internal/metrics"
	"github.com/ashureev/onboard-guide/internal/store"
)

const (
	defaultProviderTimeout = 30 * time.Second
	defaultMessageLimit    = 50
	maxMessageLimit        = 200
)

// Options configures a Service.
type Options struct {
	ProviderTimeout time.Duration
	HistoryWindow   int
	Metrics         *metrics.Metrics
	ConversationLog agent.ConversationLogger
	Logger          *slog.Logger
}

// Service is the transition API over onboarding sessions. Callers serialize
// requests per session.
type Service struct {
	repo            store.Repository
	orchestrator    *agent.Orchestrator
	machine         *checkpoint.Machine
	providerTimeout time.Duration
	historyWindow   int
	metrics         *metrics.Metrics
	convLog         agent.ConversationLogger
	logger          *slog.Logger
	now             func() time.Time
}

// NewService creates the onboarding service.
func NewService(repo store.Repository, orchestrator *agent.Orchestrator, opts Options) *Service {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = agent.DefaultHistoryWindow
	}
	if opts.ConversationLog == nil {
		opts.ConversationLog = agent.NoopConversationLogger()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:            repo,
		orchestrator:    orchestrator,
		machine:         checkpoint.NewMachine(),
		providerTimeout: opts.ProviderTimeout,
		historyWindow:   opts.HistoryWindow,
		metrics:         opts.Metrics,
		convLog:         opts.ConversationLog,
		logger:          opts.Logger,
		now:             time.Now,
	}
}

// StartSession resumes the client's active session or creates a new one.
func (s *Service) StartSession(ctx context.Context, email, name string) (*domain.Session, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	verr := &domain.ValidationError{}
	if email == "" {
		verr.Add("email", "is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		verr.Add("email", "is not a valid email address")
	}
	if name == "" {
		verr.Add("name", "is required")
	}
	if verr.HasErrors() {
		return nil, false, verr
	}

	existing, err := s.repo.FindActiveSessionByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("find active session: %w", err)
	}
	if existing != nil {
		session, err := s.reconcile(ctx, existing)
		if err != nil {
			return nil, false, err
		}
		s.metrics.SessionStarted(true)
		s.logger.Info("Resumed onboarding session",
			"session_id", session.ID,
			"client_id", session.ClientID,
			"checkpoint", session.CurrentCheckpoint,
		)
		return session, true, nil
	}

	session, err := s.repo.CreateSession(ctx, email, name)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	s.metrics.SessionStarted(false)
	s.logger.Info("Started onboarding session",
		"session_id", session.ID,
		"client_id", session.ClientID,
	)
	return session, false, nil
}

// Session returns the session projection.
func (s *Service) Session(ctx context.Context, id string) (*domain.Session, error) {
	return s.load(ctx, id)
}

// History returns the checkpoint audit trail of a session, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]*domain.HistoryEntry, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListHistory(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// Messages returns up to limit of the newest chat messages, oldest first.
func (s *Service) Messages(ctx context.Context, id string, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.RecentMessages(ctx, session.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return msgs, nil
}

// load fetches a session and reconciles it with its open history entry.
func (s *Service) load(ctx context.Context, id string) (*domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.NewValidationError("sessionId", "is required")
	}
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return s.reconcile(ctx, session)
}

// reconcile makes the session checkpoint agree with the open history entry.
// The history trail is committed in the same transaction as the checkpoint,
// so when they disagree the history wins.
func (s *Service) reconcile(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	open, err := s.repo.OpenHistory(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	if open == nil {
		s.logger.Warn("Session has no open history entry, reopening",
			"session_id", session.ID,
			"checkpoint", session.CurrentCheckpoint,
		)
		if _, err := s.repo.AppendHistory(ctx, session.ID, session.CurrentCheckpoint); err != nil {
			return nil, fmt.Errorf("reopen history: %w", err)
		}
		return session, nil
	}
	if open.Checkpoint == session.CurrentCheckpoint {
		return session, nil
	}

	s.logger.Warn("Session checkpoint disagrees with history, restoring from history",
		"session_id", session.ID,
		"session_checkpoint", session.CurrentCheckpoint,
		"history_checkpoint", open.Checkpoint,
	)
	cp := open.Checkpoint
	patch := domain.SessionPatch{CurrentCheckpoint: &cp}
	if cp == domain.CheckpointReview && !session.ReviewReached {
		reached := true
		patch.ReviewReached = &reached
	}
	if cp == domain.CheckpointCompleted && session.CompletedAt == nil {
		at := open.EnteredAt
		patch.CompletedAt = &at
	}
	updated, err := s.repo.UpdateSession(ctx, session.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("reconcile session: %w", err)
	}
	return updated, nil
}

// applyData merges incoming into the session's bag. After review has been
// reached, changing any other topic clears the review confirmation.
func (s *Service) applyData(session *domain.Session, incoming map[string]any) domain.CheckpointData {
	merged := databag.Merge(session.Data, incoming)
	if merged == nil {
		merged = domain.CheckpointData{}
	}
	if !session.ReviewReached {
		return merged
	}

	reviewTopic := checkpoint.Topic(domain.CheckpointReview)
	for _, key := range databag.ChangedKeys(session.Data, merged) {
		if key == reviewTopic || key == "confirmed" {
			continue
		}
		if !checkpoint.Confirmed(merged) {
			break
		}
		s.logger.Info("Earlier answers changed after review, confirmation cleared",
			"session_id", session.ID,
			"topic", key,
		)
		merged = databag.Merge(merged, map[string]any{reviewTopic: map[string]any{"confirmed": false}})
		if _, ok := merged["confirmed"]; ok {
			merged["confirmed"] = false
		}
		break
	}
	return merged
}
