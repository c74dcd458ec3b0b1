// Package room wraps the external WebRTC room provider.
package room

import (
	"context"

	"github.com/numera-ai/voicecore/pkg/core/types"
)

// Provider provisions and tears down ephemeral rooms. Implementations are
// stateless between calls; every method maps to one or two outbound HTTP
// requests.
type Provider interface {
	// CreateRoom requests an ephemeral room with a bounded expiry plus a
	// participant access token. Partial success (room created, token failed)
	// is compensated internally and reported as a full failure.
	CreateRoom(ctx context.Context, sessionID string) (*types.RoomHandle, error)

	// DeleteRoom tears the room down. Idempotent: a provider "not found"
	// response means the room is already gone and is treated as success.
	DeleteRoom(ctx context.Context, handle *types.RoomHandle) error
}
