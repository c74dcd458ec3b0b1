// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/numera-ai/voicecore/pkg/core/types"
)

// Metrics owns a private registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	TurnLatency      prometheus.Histogram
	DegradedTurns    prometheus.Counter
	TranscriptDrops  prometheus.Counter
	TranscriptErrors prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voicecore_active_sessions",
			Help: "Number of sessions currently active.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecore_sessions_total",
			Help: "Sessions finished, by terminal outcome.",
		}, []string{"outcome"}),
		TurnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecore_turn_latency_seconds",
			Help:    "Speech-end to first synthesized audio, per turn.",
			Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 8},
		}),
		DegradedTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_degraded_turns_total",
			Help: "Turns that exceeded the latency ceiling or lost their reply.",
		}),
		TranscriptDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_transcript_drops_total",
			Help: "Transcript events dropped from the full persistence queue.",
		}),
		TranscriptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_transcript_write_failures_total",
			Help: "Transcript batches that failed to persist after retries.",
		}),
	}
	reg.MustRegister(
		m.ActiveSessions,
		m.SessionsTotal,
		m.TurnLatency,
		m.DegradedTurns,
		m.TranscriptDrops,
		m.TranscriptErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnStateChange is wired into the session manager's transition hook.
func (m *Metrics) OnStateChange(sessionID string, from, to types.SessionState) {
	switch to {
	case types.StateActive:
		m.ActiveSessions.Inc()
	case types.StateEnded, types.StateFailed:
		if from == types.StateActive || from == types.StateEnding {
			m.ActiveSessions.Dec()
		}
		m.SessionsTotal.WithLabelValues(string(to)).Inc()
	}
}
