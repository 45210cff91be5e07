package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/onboard-guide/internal/checkpoint"
	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
	"github.com/ashureev/onboard-guide/internal/store"
)

// Step states shown by the progress stepper.
const (
	StepDone     = "done"
	StepCurrent  = "current"
	StepUpcoming = "upcoming"
)

// Step is one landmark of the progress stepper.
type Step struct {
	Checkpoint domain.Checkpoint `json:"checkpoint"`
	Label      string            `json:"label"`
	Progress   int               `json:"progress"`
	State      string            `json:"state"`
}

// Status is the read-only projection of a session's position.
type Status struct {
	SessionID     string            `json:"sessionId"`
	Checkpoint    domain.Checkpoint `json:"checkpoint"`
	Label         string            `json:"label"`
	Progress      int               `json:"progress"`
	CanAdvance    bool              `json:"canAdvance"`
	MissingFields []string          `json:"missingFields"`
	Completed     bool              `json:"completed"`
	Steps         []Step            `json:"steps"`
}

// TransitionRequest asks to move a session with an optional data patch.
type TransitionRequest struct {
	SessionID string
	Action    string
	Target    string
	Data      map[string]any
}

// TransitionResult is the outcome of an accepted transition.
type TransitionResult struct {
	From    domain.Checkpoint `json:"from"`
	To      domain.Checkpoint `json:"to"`
	Session *domain.Session   `json:"session"`
	Status  *Status           `json:"status"`
}

// Status returns the session's checkpoint, progress and what is still missing.
func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.status(session), nil
}

func (s *Service) status(session *domain.Session) *Status {
	cp := session.CurrentCheckpoint
	st := &Status{
		SessionID:     session.ID,
		Checkpoint:    cp,
		Label:         checkpoint.Label(cp),
		Progress:      checkpoint.Progress(cp),
		MissingFields: checkpoint.MissingFields(cp, session.Data),
		Completed:     session.IsCompleted(),
	}
	if !st.Completed {
		st.CanAdvance = s.machine.CanTransition(cp, checkpoint.AdvanceEvent(cp), session.Data) == nil
	}

	current := checkpoint.Index(cp)
	for i, c := range checkpoint.Order() {
		state := StepUpcoming
		switch {
		case i < current || (st.Completed && i == current):
			state = StepDone
		case i == current:
			state = StepCurrent
		}
		st.Steps = append(st.Steps, Step{
			Checkpoint: c,
			Label:      checkpoint.Label(c),
			Progress:   checkpoint.Progress(c),
			State:      state,
		})
	}
	return st
}

// Transition applies an action to a session. A rejected transition returns a
// *checkpoint.GuardError and persists nothing, including the data patch.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	ev, err := parseEvent(req.Action, req.Target)
	if err != nil {
		return nil, err
	}

	session, err := s.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.IsCompleted() {
		return nil, fmt.Errorf("transition %s: %w", ev.Kind, domain.ErrSessionCompleted)
	}

	data := session.Data
	if len(req.Data) > 0 {
		data = s.applyData(session, req.Data)
	}

	from := session.CurrentCheckpoint
	to, err := s.machine.Apply(from, ev, data)
	if err != nil {
		s.metrics.Transition(string(ev.Kind), false)
		var guardErr *checkpoint.GuardError
		if errors.As(err, &guardErr) {
			s.logger.Info("Transition rejected",
				"session_id", session.ID,
				"event", ev.Kind,
				"from", from,
				"reason", guardErr.Reason,
				"missing", guardErr.Missing,
			)
		}
		return nil, err
	}

	updated, err := s.commit(ctx, session, from, to, data)
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(ev.Kind), true)
	s.logger.Info("Checkpoint transition",
		"session_id", session.ID,
		"event", ev.Kind,
		"from", from,
		"to", to,
	)
	return &TransitionResult{
		From:    from,
		To:      to,
		Session: updated,
		Status:  s.status(updated),
	}, nil
}

// commit persists an accepted move. A move that stays on the same checkpoint
// only saves the data bag; anything else closes the open history entry and
// opens a new one atomically.
func (s *Service) commit(ctx context.Context, session *domain.Session, from, to domain.Checkpoint, data domain.CheckpointData) (*domain.Session, error) {
	now := s.now()
	if from == to {
		patch := domain.SessionPatch{LastActivityAt: &now}
		if !databag.Equal(session.Data, data) {
			patch.Data = data
		}
		updated, err := s.repo.UpdateSession(ctx, session.ID, patch)
		if err != nil {
			s.logger.Error("Failed to save session", "session_id", session.ID, "error", err)
			return nil, fmt.Errorf("update session: %w", err)
		}
		return updated, nil
	}

	patch := domain.SessionPatch{Data: data, LastActivityAt: &now}
	if to == domain.CheckpointReview && !session.ReviewReached {
		reached := true
		patch.ReviewReached = &reached
	}
	if to == domain.CheckpointCompleted {
		patch.CompletedAt = &now
	}
	updated, err := s.repo.CommitTransition(ctx, store.Transition{
		SessionID: session.ID,
		From:      from,
		To:        to,
		Snapshot:  data,
		Patch:     patch,
		At:        now,
	})
	if err != nil {
		s.logger.Error("Failed to commit transition",
			"session_id", session.ID,
			"from", from,
			"to", to,
			"error", err,
		)
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

func parseEvent(action, target string) (checkpoint.Event, error) {
	kind, ok := checkpoint.ParseEventKind(action)
	if !ok {
		return checkpoint.Event{}, domain.NewValidationError("action", "must be one of next, back, goto, complete")
	}
	if kind != checkpoint.EventGoto {
		return checkpoint.Event{Kind: kind}, nil
	}
	if strings.TrimSpace(target) == "" {
		return checkpoint.Event{}, domain.NewValidationError("target", "is required for goto")
	}
	cp, err := domain.ParseCheckpoint(target)
	if err != nil {
		return checkpoint.Event{}, domain.NewValidationError("target", "unknown checkpoint "+target)
	}
	return checkpoint.Goto(cp), nil
}
