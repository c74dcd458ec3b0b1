package media

import (
	"context"
	"errors"
	"testing"
)

type recordingWriter struct {
	frames [][]byte
	err    error
}

func (w *recordingWriter) WriteAudioFrame(chunk []byte) error {
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, chunk)
	return nil
}

func TestHub_CreateGetRemove(t *testing.T) {
	hub := NewHub()
	e := hub.Create("sess-1")
	got, ok := hub.Get("sess-1")
	if !ok || got != e {
		t.Fatalf("Get returned %v, %v", got, ok)
	}

	hub.Remove("sess-1")
	if _, ok := hub.Get("sess-1"); ok {
		t.Fatal("endpoint still registered after Remove")
	}
	// Remove closed the endpoint; frames channel is drained and closed.
	if _, open := <-e.Frames(); open {
		t.Fatal("frames channel still open after Remove")
	}
}

func TestEndpoint_FramesFlowToPipeline(t *testing.T) {
	e := newEndpoint()
	e.PushFrame([]byte{1, 2})
	e.PushFrame([]byte{3})

	if got := <-e.Frames(); len(got) != 2 {
		t.Fatalf("frame = %v", got)
	}
	if got := <-e.Frames(); len(got) != 1 {
		t.Fatalf("frame = %v", got)
	}
}

func TestEndpoint_WriteAudioWithoutClientIsDiscarded(t *testing.T) {
	e := newEndpoint()
	if err := e.WriteAudio(context.Background(), []byte("pcm")); err != nil {
		t.Fatalf("WriteAudio() error = %v", err)
	}
}

func TestEndpoint_WriteAudioReachesAttachedClient(t *testing.T) {
	e := newEndpoint()
	w := &recordingWriter{}
	if err := e.Attach(w); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := e.WriteAudio(context.Background(), []byte("pcm")); err != nil {
		t.Fatalf("WriteAudio() error = %v", err)
	}
	if len(w.frames) != 1 || string(w.frames[0]) != "pcm" {
		t.Fatalf("frames = %v", w.frames)
	}
}

func TestEndpoint_WriteFailureDetachesWithoutKillingSession(t *testing.T) {
	e := newEndpoint()
	w := &recordingWriter{err: errors.New("broken pipe")}
	if err := e.Attach(w); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := e.WriteAudio(context.Background(), []byte("pcm")); err != nil {
		t.Fatalf("WriteAudio() error = %v", err)
	}
	// The broken client is gone; later audio is discarded cleanly.
	w.err = nil
	if err := e.WriteAudio(context.Background(), []byte("pcm")); err != nil {
		t.Fatalf("WriteAudio() error = %v", err)
	}
	if len(w.frames) != 0 {
		t.Fatalf("frames = %v, want none after detach", w.frames)
	}
}

func TestEndpoint_ParticipantLeftClosesFrames(t *testing.T) {
	e := newEndpoint()
	w := &recordingWriter{}
	if err := e.Attach(w); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	e.ParticipantLeft(w)

	if _, open := <-e.Frames(); open {
		t.Fatal("frames channel still open after participant left")
	}
	if err := e.WriteAudio(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("WriteAudio() error = %v, want ErrClosed", err)
	}
	if err := e.Attach(w); !errors.Is(err, ErrClosed) {
		t.Fatalf("Attach() error = %v, want ErrClosed", err)
	}
}

func TestEndpoint_PushFrameAfterCloseIsNoop(t *testing.T) {
	e := newEndpoint()
	e.Close()
	e.PushFrame([]byte{1}) // must not panic
	e.Close()              // idempotent
}

func TestEndpoint_DropsFramesWhenPipelineLagging(t *testing.T) {
	e := newEndpoint()
	for range 200 {
		e.PushFrame([]byte{0})
	}
	// Buffer is bounded; the overflow was dropped, not blocked on.
	n := 0
	for {
		select {
		case <-e.Frames():
			n++
			continue
		default:
		}
		break
	}
	if n == 0 || n >= 200 {
		t.Fatalf("buffered frames = %d", n)
	}
}
