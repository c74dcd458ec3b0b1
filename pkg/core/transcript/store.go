// Package transcript persists conversation history off the audio path.
package transcript

import (
	"context"
	"time"

	"github.com/numera-ai/voicecore/pkg/core/types"
)

// Store is the durable sink for conversation summaries and transcript
// events. The writer treats it as write-only with at-least-once delivery
// from its side; readers live elsewhere.
type Store interface {
	// CreateConversation records the summary row for a freshly active session.
	CreateConversation(ctx context.Context, summary types.ConversationSummary) error

	// CompleteConversation stamps the end time and duration once terminal.
	CompleteConversation(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds int) error

	// InsertEvent appends one transcript event. Events arrive in sequence
	// order per session; the store must not reorder them.
	InsertEvent(ctx context.Context, ev types.TranscriptEvent) error
}

// RecalledConversation is a prior completed conversation as surfaced to the
// prompt builder: when it happened and how it opened.
type RecalledConversation struct {
	StartedAt time.Time
	Opening   string
}
