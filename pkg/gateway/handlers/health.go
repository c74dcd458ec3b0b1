package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/numera-ai/voicecore/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// SessionCounter reports how many sessions are live. Used for readiness
// reporting only.
type SessionCounter interface {
	Count() int
}

// ReadyHandler reports not-ready while the process is draining so load
// balancers stop routing new sessions here.
type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
	Sessions  SessionCounter
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool `json:"ok"`
		Draining       bool `json:"draining"`
		ActiveSessions int  `json:"active_sessions"`
	}

	draining := h.Lifecycle.IsDraining()
	active := 0
	if h.Sessions != nil {
		active = h.Sessions.Count()
	}

	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             !draining,
		Draining:       draining,
		ActiveSessions: active,
	})
}
