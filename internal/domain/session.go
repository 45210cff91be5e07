// Package domain contains core domain types for the onboarding service.
package domain

import (
	"time"
)

// Session is one client's onboarding run.
type Session struct {
	ID                string         `json:"id"`
	ClientID          string         `json:"clientId"`
	Email             string         `json:"email"`
	Name              string         `json:"name"`
	CurrentCheckpoint Checkpoint     `json:"currentCheckpoint"`
	Data              CheckpointData `json:"checkpointData"`
	// ReviewReached is set the first time the session enters REVIEW and never cleared.
	ReviewReached  bool       `json:"reviewReached"`
	StartedAt      time.Time  `json:"startedAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// IsCompleted returns true once the session has reached the terminal checkpoint.
func (s *Session) IsCompleted() bool {
	return s.CurrentCheckpoint == CheckpointCompleted
}

// SessionPatch describes a partial session update. Nil fields are left unchanged.
type SessionPatch struct {
	CurrentCheckpoint *Checkpoint
	Data              CheckpointData
	ReviewReached     *bool
	LastActivityAt    *time.Time
	CompletedAt       *time.Time
}

// HistoryEntry is an audit record of entering and leaving a checkpoint.
// An entry with a nil ExitedAt is the session's open entry.
type HistoryEntry struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"sessionId"`
	Checkpoint Checkpoint     `json:"checkpoint"`
	EnteredAt  time.Time      `json:"enteredAt"`
	ExitedAt   *time.Time     `json:"exitedAt,omitempty"`
	Snapshot   CheckpointData `json:"dataSnapshot,omitempty"`
}

// IsOpen reports whether the entry represents the current checkpoint.
func (h *HistoryEntry) IsOpen() bool {
	return h.ExitedAt == nil
}
