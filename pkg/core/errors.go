// Package core holds the error taxonomy shared by the session core.
package core

import (
	"fmt"
)

// Error is the canonical error carried across the session core.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s (session: %s)", e.Code, e.Message, e.SessionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorCode categorizes errors by how callers must react to them.
type ErrorCode string

const (
	// ErrRoomCreationFailed is fatal to session start; no compensation is
	// needed by the caller, the adapter cleans up any partial room.
	ErrRoomCreationFailed ErrorCode = "room_creation_failed"

	// ErrRoomDeletionFailed is non-fatal; the provider TTL reclaims the room.
	ErrRoomDeletionFailed ErrorCode = "room_deletion_failed"

	// ErrPipelineStageTimeout degrades a single turn; the session continues.
	ErrPipelineStageTimeout ErrorCode = "pipeline_stage_timeout"

	// ErrPipelineStageFatal forces the session into Failed.
	ErrPipelineStageFatal ErrorCode = "pipeline_stage_fatal"

	// ErrPersistenceWriteFailed is logged and counted, never surfaced to the
	// caller or the audio path.
	ErrPersistenceWriteFailed ErrorCode = "persistence_write_failed"

	// ErrPermissionDenied means the caller does not own the session.
	ErrPermissionDenied ErrorCode = "permission_denied"

	// ErrInvalidStateTransition marks a transition the state machine refused.
	ErrInvalidStateTransition ErrorCode = "invalid_state_transition"

	// ErrSessionNotFound means no live session exists for the given id.
	ErrSessionNotFound ErrorCode = "session_not_found"

	// ErrInvalidRequest marks a malformed inbound request.
	ErrInvalidRequest ErrorCode = "invalid_request"

	// ErrUnavailable marks the gateway refusing work while draining.
	ErrUnavailable ErrorCode = "unavailable"

	// ErrInternal is the catch-all for unexpected internal failures.
	ErrInternal ErrorCode = "internal"
)

// NewRoomCreationFailed wraps a room provisioning failure.
func NewRoomCreationFailed(sessionID string, cause error) *Error {
	return &Error{
		Code:      ErrRoomCreationFailed,
		Message:   "could not provision a room for the session",
		SessionID: sessionID,
		Cause:     cause,
	}
}

// NewRoomDeletionFailed wraps a room teardown failure.
func NewRoomDeletionFailed(sessionID string, cause error) *Error {
	return &Error{
		Code:      ErrRoomDeletionFailed,
		Message:   "could not delete room; provider TTL will reclaim it",
		SessionID: sessionID,
		Cause:     cause,
	}
}

// NewPipelineStageTimeout marks a single degraded turn.
func NewPipelineStageTimeout(sessionID, stage string, cause error) *Error {
	return &Error{
		Code:      ErrPipelineStageTimeout,
		Message:   fmt.Sprintf("%s stage timed out", stage),
		SessionID: sessionID,
		Cause:     cause,
	}
}

// NewPipelineStageFatal marks a pipeline failure the session cannot survive.
func NewPipelineStageFatal(sessionID, stage string, cause error) *Error {
	return &Error{
		Code:      ErrPipelineStageFatal,
		Message:   fmt.Sprintf("%s stage failed fatally", stage),
		SessionID: sessionID,
		Cause:     cause,
	}
}

// NewPersistenceWriteFailed wraps a transcript store failure.
func NewPersistenceWriteFailed(sessionID string, cause error) *Error {
	return &Error{
		Code:      ErrPersistenceWriteFailed,
		Message:   "transcript write failed",
		SessionID: sessionID,
		Cause:     cause,
	}
}

// NewPermissionDenied creates an ownership violation error.
func NewPermissionDenied(sessionID string) *Error {
	return &Error{
		Code:      ErrPermissionDenied,
		Message:   "caller does not own this session",
		SessionID: sessionID,
	}
}

// NewInvalidStateTransition creates a refused-transition error.
func NewInvalidStateTransition(sessionID, from, to string) *Error {
	return &Error{
		Code:      ErrInvalidStateTransition,
		Message:   fmt.Sprintf("cannot transition from %s to %s", from, to),
		SessionID: sessionID,
	}
}

// NewSessionNotFound creates a missing-session error.
func NewSessionNotFound(sessionID string) *Error {
	return &Error{
		Code:      ErrSessionNotFound,
		Message:   "no live session with this id",
		SessionID: sessionID,
	}
}

// NewInvalidRequest creates a malformed-request error.
func NewInvalidRequest(message string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Message: message,
	}
}

// NewUnavailable creates a draining/refusing error.
func NewUnavailable(message string) *Error {
	return &Error{
		Code:    ErrUnavailable,
		Message: message,
	}
}

// NewInternal wraps an unexpected failure.
func NewInternal(cause error) *Error {
	return &Error{
		Code:    ErrInternal,
		Message: "internal error",
		Cause:   cause,
	}
}

// IsFatalToSession reports whether the error must force the session into
// Failed rather than degrade a single turn.
func (e *Error) IsFatalToSession() bool {
	switch e.Code {
	case ErrPipelineStageFatal:
		return true
	default:
		return false
	}
}
