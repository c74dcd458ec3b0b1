// Package lifecycle tracks the gateway's shutdown state so readiness and
// session-start refusal stay consistent during a drain.
package lifecycle

import (
	"sync"
	"time"
)

// Lifecycle is shared across handlers and the shutdown path. Once draining
// starts it never reverts; new sessions are refused while live ones wind
// down.
type Lifecycle struct {
	mu           sync.Mutex
	draining     bool
	drainStarted time.Time
}

// SetDraining marks the start of the drain. The first call wins; the
// original drain start time is kept on repeat calls.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil || !draining {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.draining {
		l.draining = true
		l.drainStarted = time.Now()
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}

// DrainStarted returns when the drain began, zero if not draining.
func (l *Lifecycle) DrainStarted() time.Time {
	if l == nil {
		return time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drainStarted
}
