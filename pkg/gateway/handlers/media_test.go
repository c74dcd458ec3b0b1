package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/gateway/media"
	"github.com/numera-ai/voicecore/pkg/gateway/mw"
)

func newMediaServer(t *testing.T, svc SessionService, hub *media.Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("GET /v1/sessions/{id}/media", mw.UserRef(true, MediaHandler{Service: svc, Hub: hub}))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialMedia(t *testing.T, srv *httptest.Server, sessionID, userRef string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + sessionID + "/media"
	header := http.Header{}
	if userRef != "" {
		header.Set("X-User-Ref", userRef)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestMedia_BinaryFramesReachPipeline(t *testing.T) {
	hub := media.NewHub()
	endpoint := hub.Create("sess-1")
	srv := newMediaServer(t, &fakeService{}, hub)

	conn, _, err := dialMedia(t, srv, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case frame := <-endpoint.Frames():
		if len(frame) != 3 {
			t.Fatalf("frame = %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the pipeline")
	}
}

func TestMedia_SynthesizedAudioReachesClient(t *testing.T) {
	hub := media.NewHub()
	endpoint := hub.Create("sess-1")
	srv := newMediaServer(t, &fakeService{}, hub)

	conn, _, err := dialMedia(t, srv, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the handler to attach before speaking.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := endpoint.WriteAudio(t.Context(), []byte("pcm")); err != nil {
			t.Fatalf("WriteAudio: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		msgType, payload, err := conn.ReadMessage()
		if err == nil {
			if msgType != websocket.BinaryMessage || string(payload) != "pcm" {
				t.Fatalf("got %d %q", msgType, payload)
			}
			return
		}
	}
	t.Fatal("client never received audio")
}

func TestMedia_DisconnectClosesFrames(t *testing.T) {
	hub := media.NewHub()
	endpoint := hub.Create("sess-1")
	srv := newMediaServer(t, &fakeService{}, hub)

	conn, _, err := dialMedia(t, srv, "sess-1", "user-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	select {
	case _, open := <-endpoint.Frames():
		if open {
			t.Fatal("got a frame instead of close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel never closed after disconnect")
	}
}

func TestMedia_WrongOwnerCannotAttach(t *testing.T) {
	hub := media.NewHub()
	hub.Create("sess-1")
	srv := newMediaServer(t, &fakeService{statusErr: core.NewPermissionDenied("sess-1")}, hub)

	_, resp, err := dialMedia(t, srv, "sess-1", "intruder")
	if err == nil {
		t.Fatal("dial succeeded for wrong owner")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestMedia_UnknownSessionIs404(t *testing.T) {
	srv := newMediaServer(t, &fakeService{}, media.NewHub())

	_, resp, err := dialMedia(t, srv, "missing", "user-1")
	if err == nil {
		t.Fatal("dial succeeded without an endpoint")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %+v", resp)
	}
}
