// Package types holds the data model shared across the session core.
package types

import (
	"time"
)

// SessionState is the lifecycle state of one voice conversation session.
type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateStarting SessionState = "starting"
	StateActive   SessionState = "active"
	StateEnding   SessionState = "ending"
	StateEnded    SessionState = "ended"
	StateFailed   SessionState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// RoomHandle identifies an ephemeral provider room plus the credentials a
// participant needs to join it.
type RoomHandle struct {
	RoomID      string    `json:"room_id"`
	Name        string    `json:"name"`
	JoinURL     string    `json:"join_url"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UserProfile is the caller-supplied personalization for a session, passed
// along from the upstream profile service. Every field is optional; zero
// values degrade to impersonal instructions.
type UserProfile struct {
	DisplayName string    `json:"display_name,omitempty"`
	Locale      string    `json:"locale,omitempty"` // BCP 47 tag
	BirthDate   time.Time `json:"birth_date,omitzero"`
}

// Session is the in-memory authoritative record of one live conversation.
// All mutation goes through the session state machine; everything else sees
// copies taken under the machine's lock.
type Session struct {
	ID             string       `json:"id"`
	UserRef        string       `json:"user_ref"`
	Room           *RoomHandle  `json:"room,omitempty"`
	State          SessionState `json:"state"`
	StartedAt      time.Time    `json:"started_at,omitzero"`
	EndedAt        time.Time    `json:"ended_at,omitzero"`
	LastActivityAt time.Time    `json:"last_activity_at,omitzero"`
}

// DurationSeconds is the wall-clock session length, zero until terminal.
func (s Session) DurationSeconds() int {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	d := s.EndedAt.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// SessionStatus is the read-only projection served to status queries.
type SessionStatus struct {
	SessionID      string       `json:"session_id"`
	State          SessionState `json:"state"`
	StartedAt      time.Time    `json:"started_at,omitzero"`
	LastActivityAt time.Time    `json:"last_activity_at,omitzero"`
}
