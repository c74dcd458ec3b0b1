package session

import (
	"context"
	"sync"
	"time"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/core/types"
)

// validTransitions is the lifecycle graph. Every state may additionally
// jump to Failed on an unrecoverable error.
var validTransitions = map[types.SessionState][]types.SessionState{
	types.StateIdle:     {types.StateStarting},
	types.StateStarting: {types.StateActive, types.StateFailed},
	types.StateActive:   {types.StateEnding, types.StateFailed},
	types.StateEnding:   {types.StateEnded, types.StateFailed},
}

func transitionAllowed(from, to types.SessionState) bool {
	if to == types.StateFailed && !from.Terminal() {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine owns one session's state. It is the only component that mutates
// the session record; everything else reads copies taken under its lock.
type Machine struct {
	mu        sync.Mutex
	sess      types.Session
	duration  int
	cancelRun context.CancelFunc
	runDone   chan struct{}
	endDone   chan struct{}
	activated chan struct{} // closed once the start path has gone Active

	onStateChange func(sessionID string, from, to types.SessionState)
}

func newMachine(id, userRef string, onStateChange func(string, types.SessionState, types.SessionState)) *Machine {
	if onStateChange == nil {
		onStateChange = func(string, types.SessionState, types.SessionState) {}
	}
	return &Machine{
		sess: types.Session{
			ID:      id,
			UserRef: userRef,
			State:   types.StateIdle,
		},
		runDone:       make(chan struct{}),
		endDone:       make(chan struct{}),
		activated:     make(chan struct{}),
		onStateChange: onStateChange,
	}
}

// transition moves the session to the target state or returns a typed
// error. The state-change hook runs outside the lock.
func (m *Machine) transition(to types.SessionState) error {
	m.mu.Lock()
	from := m.sess.State
	if !transitionAllowed(from, to) {
		m.mu.Unlock()
		return core.NewInvalidStateTransition(m.sess.ID, string(from), string(to))
	}
	m.sess.State = to
	id := m.sess.ID
	m.mu.Unlock()

	m.onStateChange(id, from, to)
	return nil
}

// ID is stable for the machine's lifetime.
func (m *Machine) ID() string {
	return m.sess.ID
}

// UserRef is stable for the machine's lifetime.
func (m *Machine) UserRef() string {
	return m.sess.UserRef
}

// Snapshot returns a copy of the session record.
func (m *Machine) Snapshot() types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Status returns the read-only projection for status queries.
func (m *Machine) Status() types.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.SessionStatus{
		SessionID:      m.sess.ID,
		State:          m.sess.State,
		StartedAt:      m.sess.StartedAt,
		LastActivityAt: m.sess.LastActivityAt,
	}
}

// touch records transcript activity for idle-timeout detection.
func (m *Machine) touch(t time.Time) {
	m.mu.Lock()
	if t.After(m.sess.LastActivityAt) {
		m.sess.LastActivityAt = t
	}
	m.mu.Unlock()
}

func (m *Machine) lastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.LastActivityAt
}
