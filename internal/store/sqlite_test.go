package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/onboard-guide/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "onboarding.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateSessionOpensWelcomeHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	session, err := s.CreateSession(ctx, "owner@acme.com", "Ada")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, domain.CheckpointWelcome, session.CurrentCheckpoint)
	assert.Equal(t, "owner@acme.com", session.Email)
	assert.Equal(t, "Ada", session.Name)
	assert.Empty(t, session.Data)
	assert.Nil(t, session.CompletedAt)

	open, err := s.OpenHistory(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, domain.CheckpointWelcome, open.Checkpoint)
	assert.True(t, open.IsOpen())

	active, err := s.FindActiveSessionByEmail(ctx, "owner@acme.com")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)

	again, err := s.CreateSession(ctx, "owner@acme.com", "Ada L.")
	require.NoError(t, err)
	assert.Equal(t, session.ClientID, again.ClientID)
	assert.Equal(t, "Ada L.", again.Name)
}

func TestGetSessionMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	session, err := s.GetSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, session)

	_, err = s.UpdateSession(context.Background(), "nope", domain.SessionPatch{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateSessionPersistsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, "a@b.com", "A")
	require.NoError(t, err)

	data := domain.CheckpointData{"welcome": map[string]any{"greeted": true}}
	updated, err := s.UpdateSession(ctx, session.ID, domain.SessionPatch{Data: data})
	require.NoError(t, err)
	assert.Equal(t, data, updated.Data)
	assert.Equal(t, domain.CheckpointWelcome, updated.CurrentCheckpoint)
}

func TestCommitTransitionKeepsOneOpenEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, "a@b.com", "A")
	require.NoError(t, err)

	data := domain.CheckpointData{"welcome": map[string]any{"greeted": true}}
	updated, err := s.CommitTransition(ctx, Transition{
		SessionID: session.ID,
		From:      domain.CheckpointWelcome,
		To:        domain.CheckpointBusinessInfo,
		Snapshot:  data,
		Patch:     domain.SessionPatch{Data: data},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckpointBusinessInfo, updated.CurrentCheckpoint)

	history, err := s.ListHistory(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.CheckpointWelcome, history[0].Checkpoint)
	assert.False(t, history[0].IsOpen())
	assert.Equal(t, data, history[0].Snapshot)
	assert.Equal(t, domain.CheckpointBusinessInfo, history[1].Checkpoint)
	assert.True(t, history[1].IsOpen())

	completedAt := time.Now()
	_, err = s.CommitTransition(ctx, Transition{
		SessionID: session.ID,
		From:      domain.CheckpointBusinessInfo,
		To:        domain.CheckpointCompleted,
		Patch:     domain.SessionPatch{CompletedAt: &completedAt},
	})
	require.NoError(t, err)

	active, err := s.FindActiveSessionByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRecentMessagesOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, "a@b.com", "A")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, session.ID, domain.RoleUser, fmt.Sprintf("msg %d", i), domain.MessageOptions{})
		require.NoError(t, err)
	}
	_, err = s.AppendMessage(ctx, session.ID, domain.RoleAssistant, "reply", domain.MessageOptions{
		IsVoice:       true,
		ExtractedData: domain.CheckpointData{"greeted": true},
	})
	require.NoError(t, err)

	msgs, err := s.RecentMessages(ctx, session.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg 3", msgs[0].Content)
	assert.Equal(t, "msg 4", msgs[1].Content)
	assert.Equal(t, "reply", msgs[2].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	assert.True(t, msgs[2].IsVoice)
	assert.Equal(t, true, msgs[2].ExtractedData["greeted"])
}

func TestCachedReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cached, err := NewCached(newTestStore(t), 8)
	require.NoError(t, err)

	session, err := cached.CreateSession(ctx, "a@b.com", "A")
	require.NoError(t, err)

	first, err := cached.GetSession(ctx, session.ID)
	require.NoError(t, err)
	first.Data["mutated"] = true

	second, err := cached.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.NotContains(t, second.Data, "mutated")

	_, err = cached.UpdateSession(ctx, session.ID, domain.SessionPatch{Data: domain.CheckpointData{"gbp": map[string]any{"listingStatus": "none"}}})
	require.NoError(t, err)
	third, err := cached.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Contains(t, third.Data, "gbp")

	missing, err := cached.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
