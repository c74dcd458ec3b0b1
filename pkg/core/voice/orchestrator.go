// Package voice runs the per-session conversation pipeline: participant
// audio through speech-to-text, the language model (with tool dispatch), and
// text-to-speech back into the room, emitting transcript events along the
// way.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/core/llm"
	"github.com/numera-ai/voicecore/pkg/core/tools"
	"github.com/numera-ai/voicecore/pkg/core/types"
	"github.com/numera-ai/voicecore/pkg/core/voice/stt"
	"github.com/numera-ai/voicecore/pkg/core/voice/tts"
)

// EventSink receives transcript events without blocking.
type EventSink interface {
	Enqueue(ev types.TranscriptEvent)
}

// Observer records a turn latency in seconds. Satisfied by prometheus
// histograms.
type Observer interface {
	Observe(float64)
}

// Counter increments a monotonic count. Local copy of the transcript
// package's interface to keep this package free of that dependency
// direction.
type Counter interface {
	Inc()
}

type noopObserver struct{}

func (noopObserver) Observe(float64) {}

type noopCounter struct{}

func (noopCounter) Inc() {}

// Config bounds one session's pipeline.
type Config struct {
	SessionID          string
	SystemInstructions string

	STT stt.SessionOptions
	TTS tts.ContextOptions

	// LLMTimeout bounds one model invocation within a turn. A timeout
	// degrades the turn; the session continues.
	LLMTimeout time.Duration

	// TurnCeiling is the hard end-to-end latency ceiling per turn. Turns
	// past it are logged degraded, never aborted.
	TurnCeiling time.Duration

	// MaxToolRounds caps tool-call round trips within one turn.
	MaxToolRounds int

	// MaxHistoryMessages bounds the running message history (system
	// instructions excluded). Oldest messages are dropped first.
	MaxHistoryMessages int

	// FinalizeGrace bounds how long the pipeline waits for trailing
	// transcripts after the participant leaves.
	FinalizeGrace time.Duration
}

func (c *Config) applyDefaults() {
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 2 * time.Second
	}
	if c.TurnCeiling <= 0 {
		c.TurnCeiling = 5 * time.Second
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 4
	}
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = 40
	}
	if c.FinalizeGrace <= 0 {
		c.FinalizeGrace = 2 * time.Second
	}
}

// Dependencies are the orchestrator's collaborators.
type Dependencies struct {
	STT         stt.Provider
	LLM         llm.Provider
	TTS         tts.Provider
	Tools       *tools.Dispatcher
	Media       Media
	Transcripts EventSink
	Logger      *slog.Logger

	// OnActivity is invoked with the capture time of every transcript
	// event. Drives idle-timeout detection upstream. Optional.
	OnActivity func(time.Time)

	// TurnLatency observes end-to-end turn latency. Optional.
	TurnLatency Observer
	// DegradedTurns counts turns past the ceiling. Optional.
	DegradedTurns Counter
}

func (d *Dependencies) validate() error {
	switch {
	case d.STT == nil:
		return fmt.Errorf("stt provider is required")
	case d.LLM == nil:
		return fmt.Errorf("llm provider is required")
	case d.TTS == nil:
		return fmt.Errorf("tts provider is required")
	case d.Media == nil:
		return fmt.Errorf("media is required")
	case d.Transcripts == nil:
		return fmt.Errorf("transcript sink is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.OnActivity == nil {
		d.OnActivity = func(time.Time) {}
	}
	if d.TurnLatency == nil {
		d.TurnLatency = noopObserver{}
	}
	if d.DegradedTurns == nil {
		d.DegradedTurns = noopCounter{}
	}
	return nil
}

// Orchestrator runs one session's conversation loop.
type Orchestrator struct {
	cfg     Config
	deps    Dependencies
	logger  *slog.Logger
	seq     atomic.Int64
	history []llm.Message
}

func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("session_id", cfg.SessionID),
	}, nil
}

// Run drives the pipeline until ctx is canceled or the participant leaves.
// It returns nil on a clean stop and a typed fatal error when the pipeline
// can no longer serve the session.
func (o *Orchestrator) Run(ctx context.Context) error {
	sttSession, err := o.deps.STT.NewSession(ctx, o.cfg.STT)
	if err != nil {
		return core.NewPipelineStageFatal(o.cfg.SessionID, "stt", err)
	}
	defer sttSession.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Audio pump: room frames into the STT socket. Ends the session when
	// the participant leaves.
	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- o.pumpAudio(ctx, sttSession)
	}()

	var utterance []string
	var leaveDeadline <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-pumpDone:
			pumpDone = nil
			if err != nil {
				return err
			}
			// Participant left: flush buffered audio so the tail of the
			// last utterance still makes the transcript, then drain.
			if err := sttSession.Finalize(); err != nil {
				return nil
			}
			leaveDeadline = time.After(o.cfg.FinalizeGrace)
		case <-leaveDeadline:
			o.recordTail(utterance)
			return nil
		case delta, ok := <-sttSession.Transcripts():
			if !ok {
				if err := sttSession.Err(); err != nil && leaveDeadline == nil {
					return core.NewPipelineStageFatal(o.cfg.SessionID, "stt", err)
				}
				o.recordTail(utterance)
				return nil
			}
			if delta.IsFinal && strings.TrimSpace(delta.Text) != "" {
				utterance = append(utterance, strings.TrimSpace(delta.Text))
			}
			if delta.SpeechEnd && len(utterance) > 0 {
				if leaveDeadline != nil {
					// Nobody is listening anymore; record, don't reply.
					o.recordTail(utterance)
					utterance = utterance[:0]
					continue
				}
				text := strings.Join(utterance, " ")
				utterance = utterance[:0]
				if err := o.runTurn(ctx, text); err != nil {
					return err
				}
			}
		}
	}
}

// recordTail emits any transcript collected after the participant left, so
// the final words of a conversation are not lost.
func (o *Orchestrator) recordTail(utterance []string) {
	if len(utterance) == 0 {
		return
	}
	o.emitEvent(types.RoleUser, strings.Join(utterance, " "), nil)
}

func (o *Orchestrator) pumpAudio(ctx context.Context, sess stt.Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-o.deps.Media.Frames():
			if !ok {
				return nil // participant left
			}
			if err := sess.SendAudio(frame); err != nil {
				return core.NewPipelineStageFatal(o.cfg.SessionID, "stt", err)
			}
		}
	}
}

// runTurn executes one user-utterance/assistant-response cycle. Failures
// local to the turn are logged and absorbed; only errors that make the
// session unusable propagate.
func (o *Orchestrator) runTurn(ctx context.Context, userText string) error {
	turnStart := time.Now()

	o.emitEvent(types.RoleUser, userText, nil)
	o.appendHistory(llm.Message{Role: llm.RoleUser, Content: userText})

	assistantText, meta, err := o.converse(ctx, turnStart)
	if err != nil {
		if ctx.Err() != nil {
			return nil // session ending, discard the turn
		}
		var coreErr *core.Error
		if errors.As(err, &coreErr) {
			switch coreErr.Code {
			case core.ErrPipelineStageTimeout:
				o.logger.Warn("turn degraded by stage timeout", "error", err)
				return nil
			case core.ErrPipelineStageFatal:
				return err
			}
		}
		o.logger.Warn("turn failed", "error", err)
		return nil
	}

	if assistantText != "" {
		o.emitEvent(types.RoleAssistant, assistantText, meta)
		o.appendHistory(llm.Message{Role: llm.RoleAssistant, Content: assistantText})
	}

	elapsed := time.Since(turnStart)
	o.deps.TurnLatency.Observe(elapsed.Seconds())
	if elapsed > o.cfg.TurnCeiling {
		o.deps.DegradedTurns.Inc()
		o.logger.Warn("turn exceeded latency ceiling",
			"elapsed_ms", elapsed.Milliseconds(),
			"ceiling_ms", o.cfg.TurnCeiling.Milliseconds())
	}
	return nil
}

// converse runs the LLM loop for one turn, dispatching tool calls until the
// model produces text, then speaks the response. Returns the spoken text
// and, when tools were used, event metadata describing them.
func (o *Orchestrator) converse(ctx context.Context, turnStart time.Time) (string, map[string]any, error) {
	messages := make([]llm.Message, 0, len(o.history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: o.cfg.SystemInstructions})
	messages = append(messages, o.history...)

	var toolMeta []map[string]any

	for round := 0; ; round++ {
		text, calls, err := o.completeOnce(ctx, messages, turnStart)
		if err != nil {
			return "", nil, err
		}
		if len(calls) == 0 || round >= o.cfg.MaxToolRounds {
			var meta map[string]any
			if len(toolMeta) > 0 {
				meta = map[string]any{"tool_calls": toolMeta}
			}
			return text, meta, nil
		}

		assistant := llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls}
		messages = append(messages, assistant)
		for _, call := range calls {
			res := o.deps.Tools.Dispatch(ctx, call.Name, call.Arguments)
			toolMeta = append(toolMeta, map[string]any{
				"name":     call.Name,
				"args":     call.Arguments,
				"result":   res.Content,
				"is_error": res.IsError,
			})
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    res.Content,
				ToolCallID: call.ID,
			})
		}
	}
}

// completeOnce streams one model response into TTS and the room. Text-only
// responses are spoken; responses that request tools skip synthesis.
func (o *Orchestrator) completeOnce(ctx context.Context, messages []llm.Message, turnStart time.Time) (string, []llm.ToolCall, error) {
	llmCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()

	var defs []tools.Definition
	if o.deps.Tools != nil {
		defs = o.deps.Tools.Definitions()
	}
	stream, err := o.deps.LLM.StreamCompletion(llmCtx, llm.Request{Messages: messages, Tools: defs})
	if err != nil {
		return "", nil, o.stageErr("llm", llmCtx, err)
	}
	defer stream.Close()

	speech, err := o.deps.TTS.NewStreamingContext(ctx, o.cfg.TTS)
	if err != nil {
		return "", nil, core.NewPipelineStageFatal(o.cfg.SessionID, "tts", err)
	}
	defer speech.Close()

	// Speaker drains synthesized audio into the room while the model is
	// still generating.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		first := true
		for chunk := range speech.Audio() {
			if first {
				first = false
				o.logger.Debug("first audio byte", "since_turn_start_ms", time.Since(turnStart).Milliseconds())
			}
			if err := o.deps.Media.WriteAudio(gctx, chunk); err != nil {
				return core.NewPipelineStageFatal(o.cfg.SessionID, "media", err)
			}
		}
		return speech.Err()
	})

	var text strings.Builder
	var calls []llm.ToolCall
	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			speech.Close()
			_ = g.Wait()
			return "", nil, o.stageErr("llm", llmCtx, err)
		}
		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			if err := speech.SendText(ev.Text); err != nil {
				o.logger.Warn("tts send failed", "error", err)
			}
		case llm.EventToolCall:
			calls = append(calls, *ev.ToolCall)
		case llm.EventDone:
		}
	}

	if len(calls) > 0 {
		// Tool round: nothing to speak yet.
		speech.Close()
		_ = g.Wait()
		return text.String(), calls, nil
	}

	if err := speech.Flush(); err != nil {
		o.logger.Warn("tts flush failed", "error", err)
	}

	// Wait for synthesis to drain, bounded by the turn ceiling so a stuck
	// vendor socket cannot wedge the session.
	synthDone := make(chan error, 1)
	go func() { synthDone <- g.Wait() }()
	var synthErr error
	select {
	case synthErr = <-synthDone:
	case <-time.After(o.cfg.TurnCeiling):
		o.logger.Warn("synthesis exceeded turn ceiling, closing tts context")
		speech.Close()
		synthErr = <-synthDone
	}
	if synthErr != nil && ctx.Err() == nil {
		var coreErr *core.Error
		if errors.As(synthErr, &coreErr) && coreErr.Code == core.ErrPipelineStageFatal {
			return "", nil, synthErr
		}
		o.logger.Warn("synthesis ended with error", "error", synthErr)
	}
	return text.String(), nil, nil
}

func (o *Orchestrator) stageErr(stage string, stageCtx context.Context, err error) error {
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return core.NewPipelineStageTimeout(o.cfg.SessionID, stage, err)
	}
	return fmt.Errorf("%s stage: %w", stage, err)
}

func (o *Orchestrator) emitEvent(role types.Role, content string, metadata map[string]any) {
	now := time.Now().UTC()
	o.deps.Transcripts.Enqueue(types.TranscriptEvent{
		SessionID:  o.cfg.SessionID,
		Sequence:   o.seq.Add(1),
		Role:       role,
		Content:    content,
		OccurredAt: now,
		Metadata:   metadata,
	})
	o.deps.OnActivity(now)
}

func (o *Orchestrator) appendHistory(msg llm.Message) {
	o.history = append(o.history, msg)
	if len(o.history) > o.cfg.MaxHistoryMessages {
		o.history = o.history[len(o.history)-o.cfg.MaxHistoryMessages:]
	}
}
