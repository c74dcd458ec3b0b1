// Package server assembles the gateway's HTTP surface.
package server

import (
	"log/slog"
	"net/http"

	"github.com/numera-ai/voicecore/pkg/gateway/config"
	"github.com/numera-ai/voicecore/pkg/gateway/handlers"
	"github.com/numera-ai/voicecore/pkg/gateway/lifecycle"
	"github.com/numera-ai/voicecore/pkg/gateway/media"
	"github.com/numera-ai/voicecore/pkg/gateway/metrics"
	"github.com/numera-ai/voicecore/pkg/gateway/mw"
)

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	mux       *http.ServeMux
	sessions  handlers.SessionService
	counter   handlers.SessionCounter
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics
	mediaHub  *media.Hub
}

func New(cfg config.Config, sessions handlers.SessionService, counter handlers.SessionCounter, lc *lifecycle.Lifecycle, m *metrics.Metrics, hub *media.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		sessions:  sessions,
		counter:   counter,
		lifecycle: lc,
		metrics:   m,
		mediaHub:  hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle, Sessions: s.counter})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	trust := s.cfg.TrustUserRefHeader
	s.mux.Handle("POST /v1/sessions", mw.UserRef(trust, handlers.StartHandler{
		Service:   s.sessions,
		Lifecycle: s.lifecycle,
		Logger:    s.logger,
	}))
	s.mux.Handle("DELETE /v1/sessions/{id}", mw.UserRef(trust, handlers.EndHandler{
		Service: s.sessions,
		Logger:  s.logger,
	}))
	s.mux.Handle("GET /v1/sessions/{id}", mw.UserRef(trust, handlers.StatusHandler{
		Service: s.sessions,
		Logger:  s.logger,
	}))
	if s.mediaHub != nil {
		s.mux.Handle("GET /v1/sessions/{id}/media", mw.UserRef(trust, handlers.MediaHandler{
			Service: s.sessions,
			Hub:     s.mediaHub,
			Logger:  s.logger,
		}))
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = http.MaxBytesHandler(h, s.cfg.MaxBodyBytes)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
