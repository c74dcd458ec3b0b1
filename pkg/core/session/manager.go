package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/core/room"
	"github.com/numera-ai/voicecore/pkg/core/types"
)

// Pipeline is one session's running conversation loop.
type Pipeline interface {
	// Run blocks until ctx is canceled, the participant leaves (nil), or
	// the pipeline fails fatally (typed error).
	Run(ctx context.Context) error
}

// PipelineFactory builds the pipeline for a newly active session. profile
// personalizes the system instructions; onActivity must be invoked with the
// capture time of every transcript event.
type PipelineFactory func(sess types.Session, profile types.UserProfile, onActivity func(time.Time)) (Pipeline, error)

// TranscriptLog is the slice of the persistence writer the manager needs.
type TranscriptLog interface {
	ConversationStarted(summary types.ConversationSummary)
	ConversationEnded(sessionID string, endedAt time.Time, durationSeconds int)
	Flush(ctx context.Context, sessionID string) bool
}

// ContextInvalidator drops a user's cached conversation context when a
// session ends.
type ContextInvalidator interface {
	Invalidate(ctx context.Context, userRef string)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string) {}

// Config bounds session lifecycle behavior.
type Config struct {
	// IdleTimeout ends a session with no transcript activity.
	IdleTimeout time.Duration
	// IdleCheckInterval is how often idle sessions are looked for.
	IdleCheckInterval time.Duration
	// StopGrace bounds how long ending waits for the pipeline to stop.
	StopGrace time.Duration
	// FlushTimeout bounds the transcript flush during ending.
	FlushTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.IdleCheckInterval <= 0 {
		c.IdleCheckInterval = 30 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 3 * time.Second
	}
}

// Dependencies are the manager's collaborators.
type Dependencies struct {
	Rooms       room.Provider
	Pipeline    PipelineFactory
	Transcripts TranscriptLog
	Cache       ContextInvalidator
	Logger      *slog.Logger

	// OnStateChange observes every transition. Optional; drives metrics.
	OnStateChange func(sessionID string, from, to types.SessionState)
}

// Manager executes session operations against the registry. All state
// mutation flows through the per-session machines it creates.
type Manager struct {
	cfg      Config
	deps     Dependencies
	registry *Registry
	logger   *slog.Logger

	// Recently ended sessions, kept so a retried end request stays an
	// idempotent success reporting the same duration after the registry
	// entry is gone. Bounded FIFO.
	endedMu    sync.Mutex
	ended      map[string]endedSession
	endedOrder []string
}

type endedSession struct {
	userRef  string
	duration int
}

const endedHistoryLimit = 1024

func NewManager(cfg Config, deps Dependencies, registry *Registry) (*Manager, error) {
	switch {
	case deps.Rooms == nil:
		return nil, fmt.Errorf("room provider is required")
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("pipeline factory is required")
	case deps.Transcripts == nil:
		return nil, fmt.Errorf("transcript log is required")
	case registry == nil:
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Cache == nil {
		deps.Cache = noopInvalidator{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		registry: registry,
		logger:   deps.Logger,
		ended:    make(map[string]endedSession),
	}, nil
}

// StartSession provisions a room and activates a new session for userRef.
// On any failure nothing is left behind: no registry entry, no live room.
func (mgr *Manager) StartSession(ctx context.Context, userRef string, profile types.UserProfile) (types.Session, error) {
	if userRef == "" {
		return types.Session{}, core.NewInvalidRequest("user reference is required")
	}

	id := uuid.NewString()
	m := newMachine(id, userRef, mgr.deps.OnStateChange)
	logger := mgr.logger.With("session_id", id, "user_ref", userRef)

	if err := m.transition(types.StateStarting); err != nil {
		return types.Session{}, err
	}

	handle, err := mgr.deps.Rooms.CreateRoom(ctx, id)
	if err != nil {
		_ = m.transition(types.StateFailed)
		logger.Error("session start failed", "error", err)
		return types.Session{}, err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	m.sess.Room = handle
	m.sess.StartedAt = now
	m.sess.LastActivityAt = now
	m.mu.Unlock()

	if err := mgr.registry.put(id, m); err != nil {
		_ = m.transition(types.StateFailed)
		mgr.deleteRoomBestEffort(logger, handle)
		return types.Session{}, core.NewInternal(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancelRun = cancel

	pipeline, err := mgr.deps.Pipeline(m.Snapshot(), profile, m.touch)
	if err != nil {
		cancel()
		mgr.abortStart(m, logger, handle)
		logger.Error("pipeline start failed", "error", err)
		return types.Session{}, core.NewPipelineStageFatal(id, "pipeline", err)
	}

	if err := m.transition(types.StateActive); err != nil {
		cancel()
		mgr.abortStart(m, logger, handle)
		return types.Session{}, err
	}
	close(m.activated)

	mgr.deps.Transcripts.ConversationStarted(types.ConversationSummary{
		SessionID: id,
		UserRef:   userRef,
		RoomID:    handle.RoomID,
		StartedAt: now,
	})
	logger.Info("session started", "room_id", handle.RoomID)

	go mgr.runPipeline(m, pipeline, runCtx, logger)
	go mgr.watchIdle(m, runCtx, logger)

	return m.Snapshot(), nil
}

// EndSession ends the caller's session and returns the final duration in
// seconds. Ending an already-ended session is an idempotent success that
// reports the same duration.
func (mgr *Manager) EndSession(ctx context.Context, sessionID, callerUserRef string) (int, error) {
	m, ok := mgr.registry.Get(sessionID)
	if !ok {
		mgr.endedMu.Lock()
		prior, done := mgr.ended[sessionID]
		mgr.endedMu.Unlock()
		if done {
			if prior.userRef != callerUserRef {
				return 0, core.NewPermissionDenied(sessionID)
			}
			return prior.duration, nil
		}
		return 0, core.NewSessionNotFound(sessionID)
	}
	if m.UserRef() != callerUserRef {
		return 0, core.NewPermissionDenied(sessionID)
	}
	return mgr.finish(m, types.StateEnded), nil
}

func (mgr *Manager) recordEnded(sessionID, userRef string, duration int) {
	mgr.endedMu.Lock()
	defer mgr.endedMu.Unlock()
	if _, exists := mgr.ended[sessionID]; !exists {
		mgr.endedOrder = append(mgr.endedOrder, sessionID)
	}
	mgr.ended[sessionID] = endedSession{userRef: userRef, duration: duration}
	for len(mgr.endedOrder) > endedHistoryLimit {
		oldest := mgr.endedOrder[0]
		mgr.endedOrder = mgr.endedOrder[1:]
		delete(mgr.ended, oldest)
	}
}

// GetSessionStatus returns the live status of the caller's session.
func (mgr *Manager) GetSessionStatus(sessionID, callerUserRef string) (types.SessionStatus, error) {
	m, ok := mgr.registry.Get(sessionID)
	if !ok {
		return types.SessionStatus{}, core.NewSessionNotFound(sessionID)
	}
	if m.UserRef() != callerUserRef {
		return types.SessionStatus{}, core.NewPermissionDenied(sessionID)
	}
	return m.Status(), nil
}

// EndAll ends every live session. Used during shutdown drain.
func (mgr *Manager) EndAll() {
	for _, id := range mgr.registry.IDs() {
		if m, ok := mgr.registry.Get(id); ok {
			mgr.finish(m, types.StateEnded)
		}
	}
}

// abortStart tears down a session that got a room but never went active.
func (mgr *Manager) abortStart(m *Machine, logger *slog.Logger, handle *types.RoomHandle) {
	_ = m.transition(types.StateFailed)
	mgr.deleteRoomBestEffort(logger, handle)
	m.mu.Lock()
	m.sess.Room = nil
	m.mu.Unlock()
	close(m.endDone)
	mgr.registry.remove(m.ID(), m)
}

func (mgr *Manager) runPipeline(m *Machine, p Pipeline, runCtx context.Context, logger *slog.Logger) {
	err := p.Run(runCtx)
	close(m.runDone)
	if err != nil {
		logger.Error("pipeline failed", "error", err)
		mgr.finish(m, types.StateFailed)
		return
	}
	// Clean pipeline exit (participant left or session ending).
	mgr.finish(m, types.StateEnded)
}

func (mgr *Manager) watchIdle(m *Machine, runCtx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(mgr.cfg.IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			if time.Since(m.lastActivity()) >= mgr.cfg.IdleTimeout {
				logger.Info("session idle timeout", "idle_timeout", mgr.cfg.IdleTimeout)
				mgr.finish(m, types.StateEnded)
				return
			}
		}
	}
}

// finish drives the session to a terminal state with best-effort cleanup
// and returns the final duration. Safe to call from the end handler, the
// pipeline goroutine, and the idle watchdog concurrently; exactly one
// caller performs the cleanup, the rest wait for it.
func (mgr *Manager) finish(m *Machine, target types.SessionState) int {
	m.mu.Lock()
	switch m.sess.State {
	case types.StateStarting:
		// The start path still owns the machine: it either aborts, closing
		// endDone with a zero duration, or goes Active, after which a
		// finisher can take over. Reachable when EndAll drains during an
		// in-flight start.
		m.mu.Unlock()
		select {
		case <-m.endDone:
			m.mu.Lock()
			d := m.duration
			m.mu.Unlock()
			return d
		case <-m.activated:
		}
		return mgr.finish(m, target)
	case types.StateEnding:
		// Another finisher is mid-cleanup.
		m.mu.Unlock()
		<-m.endDone
		m.mu.Lock()
		d := m.duration
		m.mu.Unlock()
		return d
	case types.StateEnded, types.StateFailed:
		d := m.duration
		m.mu.Unlock()
		return d
	}
	roomHandle := m.sess.Room
	id := m.sess.ID
	userRef := m.sess.UserRef
	m.mu.Unlock()

	logger := mgr.logger.With("session_id", id)
	if err := m.transition(types.StateEnding); err != nil {
		// Lost the race to another finisher between unlock and here.
		<-m.endDone
		m.mu.Lock()
		d := m.duration
		m.mu.Unlock()
		return d
	}

	if m.cancelRun != nil {
		m.cancelRun()
	}
	select {
	case <-m.runDone:
	case <-time.After(mgr.cfg.StopGrace):
		logger.Warn("pipeline did not stop within grace period")
	}

	mgr.deleteRoomBestEffort(logger, roomHandle)

	endedAt := time.Now().UTC()
	m.mu.Lock()
	m.sess.EndedAt = endedAt
	m.duration = m.sess.DurationSeconds()
	m.sess.Room = nil
	duration := m.duration
	m.mu.Unlock()

	mgr.deps.Transcripts.ConversationEnded(id, endedAt, duration)
	flushCtx, cancel := context.WithTimeout(context.Background(), mgr.cfg.FlushTimeout)
	if !mgr.deps.Transcripts.Flush(flushCtx, id) {
		logger.Warn("transcript flush incomplete at session end")
	}
	cancel()
	mgr.deps.Cache.Invalidate(context.Background(), userRef)

	_ = m.transition(target)
	mgr.recordEnded(id, userRef, duration)
	close(m.endDone)
	mgr.registry.remove(id, m)
	logger.Info("session ended", "state", string(target), "duration_seconds", duration)
	return duration
}

func (mgr *Manager) deleteRoomBestEffort(logger *slog.Logger, handle *types.RoomHandle) {
	if handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := mgr.deps.Rooms.DeleteRoom(ctx, handle); err != nil {
		// Provider TTL cleans up eventually.
		logger.Warn("room deletion failed", "room_id", handle.RoomID, "error", err)
	}
}
