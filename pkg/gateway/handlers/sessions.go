// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/core/types"
	"github.com/numera-ai/voicecore/pkg/gateway/lifecycle"
	"github.com/numera-ai/voicecore/pkg/gateway/mw"
)

// SessionService is the slice of the session manager the handlers call.
type SessionService interface {
	StartSession(ctx context.Context, userRef string, profile types.UserProfile) (types.Session, error)
	EndSession(ctx context.Context, sessionID, callerUserRef string) (int, error)
	GetSessionStatus(sessionID, callerUserRef string) (types.SessionStatus, error)
}

// startRequest carries the optional personalization forwarded by the
// profile service. An empty body starts an impersonal session.
type startRequest struct {
	DisplayName string `json:"display_name"`
	Locale      string `json:"locale"`
	BirthDate   string `json:"birth_date"` // YYYY-MM-DD
}

func (req startRequest) profile() (types.UserProfile, error) {
	p := types.UserProfile{
		DisplayName: strings.TrimSpace(req.DisplayName),
		Locale:      strings.TrimSpace(req.Locale),
	}
	if bd := strings.TrimSpace(req.BirthDate); bd != "" {
		parsed, err := time.Parse("2006-01-02", bd)
		if err != nil {
			return types.UserProfile{}, core.NewInvalidRequest("birth_date must be YYYY-MM-DD")
		}
		p.BirthDate = parsed
	}
	return p, nil
}

type startResponse struct {
	SessionID string             `json:"session_id"`
	State     types.SessionState `json:"state"`
	Room      *types.RoomHandle  `json:"room"`
	StartedAt time.Time          `json:"started_at"`
}

type endResponse struct {
	SessionID       string `json:"session_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

// StartHandler provisions a room and activates a new session for the
// caller. Refused with 503 while the gateway is draining.
type StartHandler struct {
	Service   SessionService
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

func (h StartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if h.Lifecycle.IsDraining() {
		writeError(w, reqID, core.NewUnavailable("shutting down"))
		return
	}
	userRef, ok := mw.UserRefFrom(r.Context())
	if !ok {
		writeError(w, reqID, core.NewPermissionDenied(""))
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, reqID, core.NewInvalidRequest("malformed request body"))
		return
	}
	profile, err := req.profile()
	if err != nil {
		writeError(w, reqID, err)
		return
	}

	sess, err := h.Service.StartSession(r.Context(), userRef, profile)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		SessionID: sess.ID,
		State:     sess.State,
		Room:      sess.Room,
		StartedAt: sess.StartedAt,
	})
}

// EndHandler ends the caller's session. Ending an already-ended session is
// an idempotent success reporting the same duration.
type EndHandler struct {
	Service SessionService
	Logger  *slog.Logger
}

func (h EndHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	userRef, ok := mw.UserRefFrom(r.Context())
	if !ok {
		writeError(w, reqID, core.NewPermissionDenied(""))
		return
	}
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, reqID, core.NewInvalidRequest("session id is required"))
		return
	}

	duration, err := h.Service.EndSession(r.Context(), sessionID, userRef)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, endResponse{
		SessionID:       sessionID,
		DurationSeconds: duration,
	})
}

// StatusHandler reports the live state of the caller's session.
type StatusHandler struct {
	Service SessionService
	Logger  *slog.Logger
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	userRef, ok := mw.UserRefFrom(r.Context())
	if !ok {
		writeError(w, reqID, core.NewPermissionDenied(""))
		return
	}
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, reqID, core.NewInvalidRequest("session id is required"))
		return
	}

	status, err := h.Service.GetSessionStatus(sessionID, userRef)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
