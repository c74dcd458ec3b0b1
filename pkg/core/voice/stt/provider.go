// Package stt provides the speech-to-text stage of the conversation
// pipeline.
package stt

import "context"

// Provider opens live transcription sessions.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewSession opens a streaming transcription session. Audio is pushed
	// incrementally via SendAudio and transcripts arrive on Transcripts.
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// SessionOptions configures a transcription session.
type SessionOptions struct {
	Model      string // provider-specific model name
	Language   string // ISO language code (default: "en")
	Encoding   string // raw audio encoding (default: "linear16")
	SampleRate int    // audio sample rate in Hz (default: 16000)
}

// Session is one live transcription stream.
type Session interface {
	// SendAudio pushes raw audio in the negotiated encoding.
	SendAudio(data []byte) error

	// Finalize flushes buffered audio so pending transcripts become final.
	// The session stays open for more audio.
	Finalize() error

	// Transcripts emits interim and final transcript segments. The channel
	// closes when the session ends.
	Transcripts() <-chan TranscriptDelta

	// Done is closed when the session has fully shut down.
	Done() <-chan struct{}

	// Err reports the terminal error, if any, once Done is closed.
	Err() error

	Close() error
}

// TranscriptDelta is one streaming transcript update.
type TranscriptDelta struct {
	Text       string  // transcript segment
	IsFinal    bool    // segment will not be revised further
	SpeechEnd  bool    // endpoint detected; the utterance is complete
	Confidence float64 // 0..1, provider estimate
}
