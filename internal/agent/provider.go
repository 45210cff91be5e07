// Package agent implements the onboarding conversation: checkpoint-scoped
// prompts, the text-completion provider contract, reply parsing and the
// orchestrator that turns one user utterance into one assistant turn.
package agent

import (
	"context"
	"errors"

	"github.com/ashureev/onboard-guide/internal/domain"
)

// ErrEmptyCompletion is returned by providers that produced no text.
var ErrEmptyCompletion = errors.New("provider returned empty text")

// CompletionRequest is one call to a text-completion provider.
type CompletionRequest struct {
	System   string
	History  []*domain.ChatMessage
	UserText string
}

// Completion is the raw provider output. TokensUsed is nil when the provider
// does not report usage.
type Completion struct {
	Text       string
	TokensUsed *int
}

// Provider is a black-box text-completion service.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}

// Replier answers a turn locally, without a provider call. Fallback is the
// rule-based implementation.
type Replier interface {
	Reply(cp domain.Checkpoint, data domain.CheckpointData, userText string) Reply
}
