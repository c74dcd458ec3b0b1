// Package tts provides the text-to-speech stage of the conversation
// pipeline.
package tts

import (
	"context"
	"sync"
	"sync/atomic"
)

// Provider opens incremental synthesis contexts.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStreamingContext opens an incremental synthesis session. Text is
	// sent in fragments as the language model produces it and audio chunks
	// stream back on Audio.
	NewStreamingContext(ctx context.Context, opts ContextOptions) (*StreamingContext, error)
}

// ContextOptions configures a synthesis context.
type ContextOptions struct {
	Voice      string // voice identifier
	Model      string // provider-specific model
	Format     string // output format (default: raw PCM)
	SampleRate int    // output sample rate in Hz
	Language   string // language code hint
}

// StreamingContext manages one incremental synthesis session. Text goes in
// via SendText, audio comes out on Audio. The channel closes when synthesis
// of all flushed text completes or the session fails; Err distinguishes the
// two.
type StreamingContext struct {
	audio     chan []byte
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// Set by provider implementations.
	SendFunc  func(text string, flush bool) error
	CloseFunc func() error
}

func NewStreamingContext() *StreamingContext {
	return &StreamingContext{
		audio: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
}

// SendText queues a text fragment for synthesis.
func (sc *StreamingContext) SendText(text string) error {
	return sc.send(text, false)
}

// Flush signals that all text for the current utterance has been sent.
func (sc *StreamingContext) Flush() error {
	return sc.send("", true)
}

func (sc *StreamingContext) send(text string, flush bool) error {
	if sc.closed.Load() {
		return ErrContextClosed
	}
	if sc.SendFunc != nil {
		return sc.SendFunc(text, flush)
	}
	return nil
}

// Audio returns the channel of synthesized audio chunks.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
		close(sc.done)
	})
	return err
}

// Done is closed when the context has shut down.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// PushAudio delivers a chunk to the consumer. Returns false once the
// context is closed. For provider implementations.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	select {
	case sc.audio <- chunk:
		return true
	case <-sc.done:
		return false
	}
}

// SetError records the terminal error. For provider implementations.
func (sc *StreamingContext) SetError(err error) {
	sc.errMu.Lock()
	if sc.err == nil {
		sc.err = err
	}
	sc.errMu.Unlock()
}

// FinishAudio closes the audio channel. For provider implementations.
func (sc *StreamingContext) FinishAudio() {
	close(sc.audio)
}

// ErrContextClosed is returned when sending to a closed context.
var ErrContextClosed = &contextClosedError{}

type contextClosedError struct{}

func (e *contextClosedError) Error() string { return "streaming context closed" }
