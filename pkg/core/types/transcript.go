package types

import (
	"time"
)

// Role identifies the speaker of a transcript event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEvent is one immutable, sequenced record of spoken content.
// Sequence is assigned by the pipeline orchestrator at emission time so
// persistence ordering is independent of write latency.
type TranscriptEvent struct {
	SessionID  string         `json:"session_id"`
	Sequence   int64          `json:"sequence"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	OccurredAt time.Time      `json:"occurred_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ConversationSummary is the persisted projection of a finished (or live)
// session written alongside its transcript events.
type ConversationSummary struct {
	SessionID       string    `json:"session_id"`
	UserRef         string    `json:"user_ref"`
	RoomID          string    `json:"room_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at,omitzero"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
}
