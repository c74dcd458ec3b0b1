package tts

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// fakeElevenLabs answers each non-empty text message with one base64 audio
// chunk and marks the stream final on flush.
func fakeElevenLabs(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Contains(t, r.URL.Path, "voice-aria")
		require.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var msg struct {
				Text  string `json:"text"`
				Flush bool   `json:"flush"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if strings.TrimSpace(msg.Text) != "" {
				err = conn.WriteJSON(map[string]any{
					"audio": base64.StdEncoding.EncodeToString([]byte(msg.Text)),
				})
			}
			if err == nil && msg.Flush {
				final := true
				err = conn.WriteJSON(map[string]any{"isFinal": &final})
			}
			if err != nil {
				return
			}
		}
	}))
}

func newTestContext(t *testing.T, srv *httptest.Server) *StreamingContext {
	t.Helper()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/text-to-speech/{voice_id}/stream-input"
	p := NewElevenLabs("xi-key").WithWSBaseURL(base)
	require.Equal(t, "elevenlabs", p.Name())

	sc, err := p.NewStreamingContext(context.Background(), ContextOptions{Voice: "voice-aria", SampleRate: 16000})
	require.NoError(t, err)
	return sc
}

func TestStreamingContext_SynthesizesIncrementally(t *testing.T) {
	srv := fakeElevenLabs(t)
	defer srv.Close()

	sc := newTestContext(t, srv)
	defer sc.Close()

	require.NoError(t, sc.SendText("Your Life Path"))
	require.NoError(t, sc.SendText("number is 3."))
	require.NoError(t, sc.Flush())

	var audio []byte
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-sc.Audio():
			if !ok {
				require.NoError(t, sc.Err())
				require.Contains(t, string(audio), "Your Life Path")
				require.Contains(t, string(audio), "number is 3.")
				return
			}
			audio = append(audio, chunk...)
		case <-deadline:
			t.Fatal("audio stream did not complete")
		}
	}
}

func TestStreamingContext_SendAfterCloseFails(t *testing.T) {
	srv := fakeElevenLabs(t)
	defer srv.Close()

	sc := newTestContext(t, srv)
	require.NoError(t, sc.Close())
	require.NoError(t, sc.Close())
	require.ErrorIs(t, sc.SendText("late"), ErrContextClosed)

	select {
	case <-sc.Done():
	case <-time.After(time.Second):
		t.Fatal("context did not report done")
	}
}

func TestNewStreamingContext_RequiresVoiceAndKey(t *testing.T) {
	_, err := NewElevenLabs("").NewStreamingContext(context.Background(), ContextOptions{Voice: "v"})
	require.Error(t, err)

	_, err = NewElevenLabs("key").NewStreamingContext(context.Background(), ContextOptions{})
	require.Error(t, err)
}
