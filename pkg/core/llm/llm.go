// Package llm defines the language-model stage of the conversation pipeline:
// text plus tool schemas in, streamed text or tool calls out.
package llm

import (
	"context"

	"github.com/numera-ai/voicecore/pkg/core/tools"
)

// Role values for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation transcript sent to the model.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages that requested tools
	ToolCallID string     // tool-result messages
}

// ToolCall is a complete function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Request is one model invocation.
type Request struct {
	Messages []Message
	Tools    []tools.Definition
}

// EventType discriminates stream events.
type EventType string

const (
	// EventTextDelta carries a partial text fragment as it is generated.
	EventTextDelta EventType = "text_delta"
	// EventToolCall carries one fully accumulated tool call.
	EventToolCall EventType = "tool_call"
	// EventDone closes the response with the finish reason.
	EventDone EventType = "done"
)

type Event struct {
	Type         EventType
	Text         string
	ToolCall     *ToolCall
	FinishReason string
}

// Stream iterates the model's response. Next returns io.EOF after the done
// event has been delivered.
type Stream interface {
	Next() (Event, error)
	Close() error
}

// Provider is a streaming language-model backend.
type Provider interface {
	StreamCompletion(ctx context.Context, req Request) (Stream, error)
}
