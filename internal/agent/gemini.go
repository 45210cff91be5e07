package agent

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/ashureev/onboard-guide/internal/domain"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
}

// GeminiProvider calls the Gemini API through the official genai client.
type GeminiProvider struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiProvider creates a provider for the Gemini API.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiProvider{client: client, cfg: cfg}, nil
}

// Name identifies the provider in logs and metrics.
func (g *GeminiProvider) Name() string { return "gemini:" + g.cfg.Model }

// Complete sends the system instructions, the history and the new utterance
// and asks for a JSON reply.
func (g *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		if m == nil || m.Role == domain.RoleSystem {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))

	temp := g.cfg.Temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   g.cfg.MaxTokens,
		ResponseMIMEType:  "application/json",
	}

	res, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return nil, ErrEmptyCompletion
	}

	out := &Completion{Text: text}
	if res.UsageMetadata != nil && res.UsageMetadata.TotalTokenCount > 0 {
		n := int(res.UsageMetadata.TotalTokenCount)
		out.TokensUsed = &n
	}
	return out, nil
}

var _ Provider = (*GeminiProvider)(nil)
