package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// eventStream adapts the Chat Completions SSE wire format to Events. Text
// deltas are forwarded as they arrive; tool calls accumulate across chunks
// and are emitted complete once the model finishes.
type eventStream struct {
	reader       *bufio.Reader
	closer       io.Closer
	err          error
	toolCalls    map[int]*toolCallAccumulator
	finishReason string
	finished     bool
	pending      []Event
}

type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content,omitempty"`
			ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader:    bufio.NewReader(body),
		closer:    body,
		toolCalls: make(map[int]*toolCallAccumulator),
	}
}

func (s *eventStream) Next() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	if len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		return ev, nil
	}
	if s.finished {
		return Event{}, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return s.finish()
			}
			s.err = err
			return Event{}, err
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return s.finish()
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip unparseable chunks
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.FinishReason != "" {
			s.finishReason = choice.FinishReason
		}

		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := s.toolCalls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				s.toolCalls[tc.Index] = acc
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}

		if choice.Delta.Content != "" {
			return Event{Type: EventTextDelta, Text: choice.Delta.Content}, nil
		}
	}
}

// finish flushes accumulated tool calls followed by the done event. The
// first flushed event is returned directly; the rest queue as pending.
func (s *eventStream) finish() (Event, error) {
	s.finished = true

	indexes := make([]int, 0, len(s.toolCalls))
	for idx := range s.toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		acc := s.toolCalls[idx]
		if acc.name == "" {
			continue
		}
		args := make(map[string]any)
		if raw := acc.args.String(); raw != "" {
			// Malformed arguments become an empty input; the tool layer
			// reports the problem back to the model.
			_ = json.Unmarshal([]byte(raw), &args)
		}
		s.pending = append(s.pending, Event{
			Type:     EventToolCall,
			ToolCall: &ToolCall{ID: acc.id, Name: acc.name, Arguments: args},
		})
	}
	s.pending = append(s.pending, Event{Type: EventDone, FinishReason: s.finishReason})

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *eventStream) Close() error {
	return s.closer.Close()
}
