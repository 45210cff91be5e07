package domain

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

// ChatMessage is one entry of a session's conversation.
type ChatMessage struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"sessionId"`
	Role          Role           `json:"role"`
	Content       string         `json:"content"`
	IsVoice       bool           `json:"isVoice,omitempty"`
	ExtractedData CheckpointData `json:"extractedData,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// MessageOptions carries the optional attributes of an appended message.
type MessageOptions struct {
	IsVoice       bool
	ExtractedData CheckpointData
}
