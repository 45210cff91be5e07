package onboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/onboard-guide/internal/databag"
	"github.com/ashureev/onboard-guide/internal/domain"
	"github.com/ashureev/onboard-guide/internal/store"
)

// fakeRepo is an in-memory store.Repository.
type fakeRepo struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	history   map[string][]*domain.HistoryEntry
	messages  map[string][]*domain.ChatMessage
	nextID    int
	commitErr error
	commits   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: map[string]*domain.Session{},
		history:  map[string][]*domain.HistoryEntry{},
		messages: map[string][]*domain.ChatMessage{},
	}
}

var _ store.Repository = (*fakeRepo)(nil)

func (r *fakeRepo) id(prefix string) string {
	r.nextID++
	return fmt.Sprintf("%s-%d", prefix, r.nextID)
}

func copySession(s *domain.Session) *domain.Session {
	out := *s
	out.Data = databag.Clone(s.Data)
	return &out
}

func (r *fakeRepo) CreateSession(_ context.Context, email, name string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	s := &domain.Session{
		ID:                r.id("sess"),
		ClientID:          "client-" + email,
		Email:             email,
		Name:              name,
		CurrentCheckpoint: domain.CheckpointWelcome,
		Data:              domain.CheckpointData{},
		StartedAt:         now,
		LastActivityAt:    now,
	}
	r.sessions[s.ID] = s
	r.history[s.ID] = append(r.history[s.ID], &domain.HistoryEntry{
		ID: int64(r.nextID), SessionID: s.ID, Checkpoint: domain.CheckpointWelcome, EnteredAt: now,
	})
	return copySession(s), nil
}

func (r *fakeRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (r *fakeRepo) FindActiveSessionByEmail(_ context.Context, email string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.Email == email && !s.IsCompleted() {
			return copySession(s), nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) UpdateSession(_ context.Context, id string, patch domain.SessionPatch) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(id, patch)
}

func (r *fakeRepo) update(id string, patch domain.SessionPatch) (*domain.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.CurrentCheckpoint != nil {
		s.CurrentCheckpoint = *patch.CurrentCheckpoint
	}
	if patch.Data != nil {
		s.Data = databag.Clone(patch.Data)
	}
	if patch.ReviewReached != nil {
		s.ReviewReached = *patch.ReviewReached
	}
	if patch.LastActivityAt != nil {
		s.LastActivityAt = *patch.LastActivityAt
	}
	if patch.CompletedAt != nil {
		at := *patch.CompletedAt
		s.CompletedAt = &at
	}
	return copySession(s), nil
}

func (r *fakeRepo) CommitTransition(_ context.Context, t store.Transition) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return nil, r.commitErr
	}
	r.commits++
	for _, h := range r.history[t.SessionID] {
		if h.ExitedAt == nil {
			at := t.At
			h.ExitedAt = &at
			h.Snapshot = databag.Clone(t.Snapshot)
		}
	}
	r.history[t.SessionID] = append(r.history[t.SessionID], &domain.HistoryEntry{
		ID: int64(len(r.history[t.SessionID]) + 1), SessionID: t.SessionID, Checkpoint: t.To, EnteredAt: t.At,
	})
	to := t.To
	patch := t.Patch
	patch.CurrentCheckpoint = &to
	return r.update(t.SessionID, patch)
}

func (r *fakeRepo) AppendHistory(_ context.Context, sessionID string, cp domain.Checkpoint) (*domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &domain.HistoryEntry{
		ID: int64(len(r.history[sessionID]) + 1), SessionID: sessionID, Checkpoint: cp, EnteredAt: time.Now(),
	}
	r.history[sessionID] = append(r.history[sessionID], e)
	return e, nil
}

func (r *fakeRepo) CloseOpenHistory(_ context.Context, sessionID string, cp domain.Checkpoint, snapshot domain.CheckpointData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.history[sessionID] {
		if h.ExitedAt == nil && h.Checkpoint == cp {
			now := time.Now()
			h.ExitedAt = &now
			h.Snapshot = databag.Clone(snapshot)
			return nil
		}
	}
	return errors.New("no open entry")
}

func (r *fakeRepo) OpenHistory(_ context.Context, sessionID string) (*domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.history[sessionID] {
		if h.ExitedAt == nil {
			e := *h
			return &e, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ListHistory(_ context.Context, sessionID string) ([]*domain.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.HistoryEntry, 0, len(r.history[sessionID]))
	for _, h := range r.history[sessionID] {
		e := *h
		out = append(out, &e)
	}
	return out, nil
}

func (r *fakeRepo) AppendMessage(_ context.Context, sessionID string, role domain.Role, content string, opts domain.MessageOptions) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &domain.ChatMessage{
		ID:            r.id("msg"),
		SessionID:     sessionID,
		Role:          role,
		Content:       content,
		IsVoice:       opts.IsVoice,
		ExtractedData: opts.ExtractedData,
		CreatedAt:     time.Now(),
	}
	r.messages[sessionID] = append(r.messages[sessionID], m)
	return m, nil
}

func (r *fakeRepo) RecentMessages(_ context.Context, sessionID string, limit int) ([]*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*domain.ChatMessage(nil), msgs...), nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func (r *fakeRepo) openEntries(sessionID string) []*domain.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.HistoryEntry
	for _, h := range r.history[sessionID] {
		if h.ExitedAt == nil {
			out = append(out, h)
		}
	}
	return out
}
