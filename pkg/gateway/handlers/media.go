package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/gateway/media"
	"github.com/numera-ai/voicecore/pkg/gateway/mw"
)

const (
	mediaWriteTimeout = 5 * time.Second
	maxMediaFrame     = 64 * 1024
)

// MediaHandler attaches a client to its session's audio endpoint over
// WebSocket. Binary frames in are mic audio; binary frames out are
// synthesized speech. Disconnecting counts as leaving the conversation.
type MediaHandler struct {
	Service SessionService
	Hub     *media.Hub
	Logger  *slog.Logger

	Upgrader websocket.Upgrader
}

type wsAudioWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsAudioWriter) WriteAudioFrame(chunk []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(mediaWriteTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (h MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	userRef, ok := mw.UserRefFrom(r.Context())
	if !ok {
		writeError(w, reqID, core.NewPermissionDenied(""))
		return
	}
	sessionID := r.PathValue("id")

	// Ownership check doubles as liveness: only active sessions have an
	// endpoint to attach to.
	if _, err := h.Service.GetSessionStatus(sessionID, userRef); err != nil {
		writeError(w, reqID, err)
		return
	}
	endpoint, ok := h.Hub.Get(sessionID)
	if !ok {
		writeError(w, reqID, core.NewSessionNotFound(sessionID))
		return
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	conn.SetReadLimit(maxMediaFrame)

	writer := &wsAudioWriter{conn: conn}
	if err := endpoint.Attach(writer); err != nil {
		_ = conn.Close()
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("media attached", "session_id", sessionID, "request_id", reqID)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.BinaryMessage {
			endpoint.PushFrame(payload)
		}
	}

	endpoint.ParticipantLeft(writer)
	_ = conn.Close()
	logger.Info("media detached", "session_id", sessionID)
}
