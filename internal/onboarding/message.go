package onboarding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/onboard-guide/internal/agent"
	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
)

// Channels recorded in conversation transcripts.
const (
	ChannelHTTP      = "chat_http"
	ChannelWebSocket = "chat_ws"
)

// MessageRequest is one user utterance.
type MessageRequest struct {
	SessionID string
	Content   string
	IsVoice   bool
	Channel   string
	RequestID string
}

// MessageResult is the assistant's answer to a MessageRequest.
type MessageResult struct {
	MessageID          string               `json:"messageId"`
	Message            string               `json:"message"`
	ExtractedData      map[string]any       `json:"extractedData"`
	ConfirmationNeeded []agent.Confirmation `json:"confirmationNeeded,omitempty"`
	UIAction           *agent.UIAction      `json:"uiAction,omitempty"`
	Checkpoint         domain.Checkpoint    `json:"checkpoint"`
	Progress           int                  `json:"progress"`
	Advanced           bool                 `json:"advanced"`
	TokensUsed         *int                 `json:"tokensUsed,omitempty"`
	Source             agent.Source         `json:"source"`
}

// SendMessage runs one conversational turn: the user message is stored, the
// orchestrator answers within the provider timeout, the resulting data and any
// advance are committed and the assistant reply is stored.
func (s *Service) SendMessage(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, domain.NewValidationError("content", "is required")
	}
	if req.Channel == "" {
		req.Channel = ChannelHTTP
	}

	session, err := s.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.RecentMessages(ctx, session.ID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	if _, err := s.repo.AppendMessage(ctx, session.ID, domain.RoleUser, content, domain.MessageOptions{IsVoice: req.IsVoice}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	s.logConversation(session, req, "inbound", "chat_user_message", content, map[string]any{
		"checkpoint": session.CurrentCheckpoint,
		"is_voice":   req.IsVoice,
	})

	turnCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	turn := s.orchestrator.Respond(turnCtx, agent.Input{
		Checkpoint: session.CurrentCheckpoint,
		Data:       session.Data,
		History:    history,
		UserText:   content,
		Client:     agent.ClientFacts{Name: session.Name, Email: session.Email},
	})
	cancel()

	updated, advanced, err := s.applyTurn(ctx, session, turn)
	if err != nil {
		return nil, err
	}

	reply, err := s.repo.AppendMessage(ctx, session.ID, domain.RoleAssistant, turn.Message, domain.MessageOptions{
		ExtractedData: turn.ExtractedData,
	})
	if err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	s.logConversation(updated, req, "outbound", "chat_assistant_message", turn.Message, map[string]any{
		"checkpoint": updated.CurrentCheckpoint,
		"advanced":   advanced,
		"source":     turn.Source,
	})

	return &MessageResult{
		MessageID:          reply.ID,
		Message:            turn.Message,
		ExtractedData:      turn.ExtractedData,
		ConfirmationNeeded: turn.ConfirmationNeeded,
		UIAction:           turn.UIAction,
		Checkpoint:         updated.CurrentCheckpoint,
		Progress:           checkpoint.Progress(updated.CurrentCheckpoint),
		Advanced:           advanced,
		TokensUsed:         turn.TokensUsed,
		Source:             turn.Source,
	}, nil
}

// applyTurn persists the data and advance decided by a turn.
func (s *Service) applyTurn(ctx context.Context, session *domain.Session, turn *agent.Turn) (*domain.Session, bool, error) {
	if session.IsCompleted() {
		now := s.now()
		updated, err := s.repo.UpdateSession(ctx, session.ID, domain.SessionPatch{LastActivityAt: &now})
		if err != nil {
			return nil, false, fmt.Errorf("touch session: %w", err)
		}
		return updated, false, nil
	}

	from := session.CurrentCheckpoint
	data := s.applyData(session, agent.ScopeExtracted(from, turn.ExtractedData))

	to := from
	if turn.Advance {
		// The confirmation may have been cleared above, so ask the machine again.
		ev := checkpoint.AdvanceEvent(from)
		next, err := s.machine.Apply(from, ev, data)
		if err != nil {
			s.logger.Info("Advance withdrawn after data reconciliation",
				"session_id", session.ID,
				"checkpoint", from,
				"error", err,
			)
		} else {
			to = next
		}
		s.metrics.Transition(string(ev.Kind), err == nil)
	}

	if to == from && databag.Equal(session.Data, data) {
		now := s.now()
		updated, err := s.repo.UpdateSession(ctx, session.ID, domain.SessionPatch{LastActivityAt: &now})
		if err != nil {
			return nil, false, fmt.Errorf("touch session: %w", err)
		}
		return updated, false, nil
	}

	updated, err := s.commit(ctx, session, from, to, data)
	if err != nil {
		return nil, false, err
	}
	if to != from {
		s.logger.Info("Conversation advanced checkpoint",
			"session_id", session.ID,
			"from", from,
			"to", to,
		)
	}
	return updated, to != from, nil
}

func (s *Service) logConversation(session *domain.Session, req MessageRequest, direction, eventType, content string, meta map[string]any) {
	if req.RequestID != "" {
		meta["request_id"] = req.RequestID
	}
	s.convLog.Log(agent.ConversationLogEvent{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		UserID:     session.ClientID,
		SessionID:  session.ID,
		Channel:    req.Channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
