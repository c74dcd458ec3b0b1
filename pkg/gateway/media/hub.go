// Package media bridges session audio between the pipeline and a client
// transport. The pipeline sees a per-session Endpoint; clients attach to it
// over WebSocket.
package media

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by WriteAudio after the endpoint has shut down.
var ErrClosed = errors.New("media endpoint closed")

// Hub tracks the media endpoint of every live session.
type Hub struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func NewHub() *Hub {
	return &Hub{endpoints: make(map[string]*Endpoint)}
}

// Create registers a fresh endpoint for the session. The caller owns the
// returned endpoint and must Remove it when the session ends.
func (h *Hub) Create(sessionID string) *Endpoint {
	e := newEndpoint()
	h.mu.Lock()
	h.endpoints[sessionID] = e
	h.mu.Unlock()
	return e
}

func (h *Hub) Get(sessionID string) (*Endpoint, bool) {
	h.mu.Lock()
	e, ok := h.endpoints[sessionID]
	h.mu.Unlock()
	return e, ok
}

// Remove closes and forgets the session's endpoint.
func (h *Hub) Remove(sessionID string) {
	h.mu.Lock()
	e, ok := h.endpoints[sessionID]
	delete(h.endpoints, sessionID)
	h.mu.Unlock()
	if ok {
		e.Close()
	}
}

// AudioWriter receives synthesized audio for the attached client.
type AudioWriter interface {
	WriteAudioFrame(chunk []byte) error
}

// Endpoint is one session's audio attachment. Inbound mic frames flow to
// the pipeline through Frames; synthesized audio flows back through
// WriteAudio to whichever client is attached. At most one client at a
// time; a client disconnect counts as the participant leaving.
type Endpoint struct {
	frames chan []byte

	mu        sync.Mutex
	writer    AudioWriter
	closed    bool
	closeOnce sync.Once
}

func newEndpoint() *Endpoint {
	return &Endpoint{frames: make(chan []byte, 64)}
}

// Frames returns inbound audio. The channel closes when the participant
// leaves or the endpoint shuts down.
func (e *Endpoint) Frames() <-chan []byte {
	return e.frames
}

// WriteAudio forwards synthesized audio to the attached client. Audio is
// discarded without error when no client is attached; a transport write
// failure detaches the client rather than failing the session.
func (e *Endpoint) WriteAudio(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	w := e.writer
	e.mu.Unlock()
	if w == nil {
		return nil
	}
	if err := w.WriteAudioFrame(chunk); err != nil {
		e.detach(w)
		return nil
	}
	return nil
}

// Attach hands the endpoint an outbound writer for the newly connected
// client, replacing any previous one.
func (e *Endpoint) Attach(w AudioWriter) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.writer = w
	return nil
}

func (e *Endpoint) detach(w AudioWriter) {
	e.mu.Lock()
	if e.writer == w {
		e.writer = nil
	}
	e.mu.Unlock()
}

// PushFrame feeds one inbound mic frame to the pipeline. Frames are
// dropped when the pipeline falls behind; audio is only useful live.
func (e *Endpoint) PushFrame(chunk []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.frames <- chunk:
	default:
	}
}

// ParticipantLeft signals that the attached client is gone for good. The
// pipeline sees the frames channel close and winds the session down.
func (e *Endpoint) ParticipantLeft(w AudioWriter) {
	e.detach(w)
	e.Close()
}

// Close shuts the endpoint down. Idempotent.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.writer = nil
		e.mu.Unlock()
		close(e.frames)
	})
}
