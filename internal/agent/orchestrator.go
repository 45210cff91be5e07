package agent

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
	"github.com/ashureev/onboard-guide/internal/metrics"
)

// DefaultHistoryWindow is the number of trailing messages sent to the provider.
const DefaultHistoryWindow = 20

// Source tells where an assistant turn came from.
type Source string

const (
	// SourceProvider indicates a structured reply from the provider.
	SourceProvider Source = "provider"
	// SourcePassthrough indicates an unstructured provider reply shown as-is.
	SourcePassthrough Source = "passthrough"
	// SourceFallback indicates a rule-based reply.
	SourceFallback Source = "fallback"
)

// Input is everything the orchestrator needs for one turn.
type Input struct {
	Checkpoint domain.Checkpoint
	Data       domain.CheckpointData
	History    []*domain.ChatMessage
	UserText   string
	Client     ClientFacts
}

// Turn is the outcome of one user utterance.
type Turn struct {
	Message            string
	ExtractedData      map[string]any
	Data               domain.CheckpointData
	ConfirmationNeeded []Confirmation
	UIAction           *UIAction
	ReadyToAdvance     bool
	Advance            bool
	Next               *domain.Checkpoint
	TokensUsed         *int
	Source             Source
}

// Options configures an Orchestrator.
type Options struct {
	// Fallback answers when no provider is configured or the provider fails.
	// Defaults to the rule-based Fallback.
	Fallback      Replier
	HistoryWindow int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Orchestrator converts a user utterance into an assistant reply and an
// advance decision.
type Orchestrator struct {
	provider      Provider
	fallback      Replier
	templates     *Templates
	machine       *checkpoint.Machine
	historyWindow int
	metrics       *metrics.Metrics
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewOrchestrator creates an orchestrator. provider may be nil, in which case
// every turn is answered by opts.Fallback.
func NewOrchestrator(provider Provider, templates *Templates, opts Options) *Orchestrator {
	if opts.Fallback == nil {
		opts.Fallback = NewFallback()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		provider:      provider,
		fallback:      opts.Fallback,
		templates:     templates,
		machine:       checkpoint.NewMachine(),
		historyWindow: opts.HistoryWindow,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		tracer:        otel.Tracer("github.com/ashureev/onboard-guide/internal/agent"),
	}
}

// HasProvider reports whether a live provider is configured.
func (o *Orchestrator) HasProvider() bool {
	return o.provider != nil
}

// Respond runs one conversational turn. It never fails: provider errors and
// unparseable replies degrade to the fallback or to plain text.
func (o *Orchestrator) Respond(ctx context.Context, in Input) *Turn {
	ctx, span := o.tracer.Start(ctx, "agent.Respond", trace.WithAttributes(
		attribute.String("onboarding.checkpoint", string(in.Checkpoint)),
	))
	defer span.End()

	reply, source, tokens := o.reply(ctx, in)
	span.SetAttributes(attribute.String("onboarding.source", string(source)))

	turn := &Turn{
		Message:            reply.Message,
		ConfirmationNeeded: reply.ConfirmationNeeded,
		UIAction:           reply.UIAction,
		ReadyToAdvance:     reply.ReadyToAdvance,
		TokensUsed:         tokens,
		Source:             source,
		Data:               databag.Clone(in.Data),
	}
	if turn.Data == nil {
		turn.Data = domain.CheckpointData{}
	}

	// Completed sessions are frozen.
	if in.Checkpoint == domain.CheckpointCompleted {
		turn.ReadyToAdvance = false
		return turn
	}

	if len(reply.ExtractedData) > 0 {
		turn.ExtractedData = reply.ExtractedData
		turn.Data = databag.Merge(in.Data, ScopeExtracted(in.Checkpoint, reply.ExtractedData))
	}

	// The provider must ask to advance and the data must back it up.
	if turn.ReadyToAdvance && checkpoint.IsComplete(in.Checkpoint, turn.Data) {
		next, err := o.machine.Apply(in.Checkpoint, checkpoint.AdvanceEvent(in.Checkpoint), turn.Data)
		if err == nil {
			turn.Advance = true
			turn.Next = &next
		} else {
			o.logger.Debug("Advance rejected by state machine", "checkpoint", in.Checkpoint, "error", err)
		}
	}

	span.SetAttributes(attribute.Bool("onboarding.advance", turn.Advance))
	return turn
}

func (o *Orchestrator) reply(ctx context.Context, in Input) (Reply, Source, *int) {
	if o.provider == nil {
		o.metrics.ProviderCall("skipped", 0)
		return o.fallback.Reply(in.Checkpoint, in.Data, in.UserText), SourceFallback, nil
	}

	req := CompletionRequest{
		System:   o.templates.BuildInstructions(in.Checkpoint, in.Data, in.Client),
		History:  lastN(in.History, o.historyWindow),
		UserText: in.UserText,
	}

	ctx, span := o.tracer.Start(ctx, "agent.provider.Complete", trace.WithAttributes(
		attribute.String("provider", o.provider.Name()),
		attribute.Int("history", len(req.History)),
	))
	start := time.Now()
	completion, err := o.provider.Complete(ctx, req)
	elapsed := time.Since(start)
	if err == nil && completion == nil {
		err = ErrEmptyCompletion
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failed")
		span.End()
		o.metrics.ProviderCall("error", elapsed)
		o.logger.Warn("Provider call failed, using fallback reply",
			"provider", o.provider.Name(),
			"checkpoint", in.Checkpoint,
			"error", err,
		)
		return o.fallback.Reply(in.Checkpoint, in.Data, in.UserText), SourceFallback, nil
	}
	span.End()
	o.metrics.ProviderCall("ok", elapsed)
	if completion.TokensUsed != nil {
		o.metrics.Tokens(*completion.TokensUsed)
	}

	reply, structured := ParseReply(completion.Text)
	o.metrics.ReplyParsed(structured)
	if !structured {
		o.logger.Info("Provider reply was not structured, passing text through",
			"checkpoint", in.Checkpoint,
			"length", len(completion.Text),
		)
		return reply, SourcePassthrough, completion.TokensUsed
	}
	if reply.Message == "" {
		reply.Message = o.fallback.Reply(in.Checkpoint, in.Data, in.UserText).Message
	}
	return reply, SourceProvider, completion.TokensUsed
}

// ScopeExtracted places extracted fields under the checkpoint's topic. Keys
// that already name a topic stay at the top level, so a reply may mix a
// correction to an earlier topic with fields of the current one.
func ScopeExtracted(cp domain.Checkpoint, extracted map[string]any) map[string]any {
	if len(extracted) == 0 {
		return nil
	}
	topic := checkpoint.Topic(cp)
	if topic == "" {
		return nil
	}
	out := make(map[string]any, len(extracted))
	plain := map[string]any{}
	for key, v := range extracted {
		if checkpoint.IsTopic(key) {
			out[key] = v
			continue
		}
		plain[key] = v
	}
	if len(plain) == 0 {
		return out
	}
	if section, ok := databag.AsMap(out[topic]); ok {
		out[topic] = databag.Merge(section, plain)
	} else {
		out[topic] = plain
	}
	return out
}

func lastN(msgs []*domain.ChatMessage, n int) []*domain.ChatMessage {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
