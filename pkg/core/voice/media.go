package voice

import "context"

// Media is a session's audio attachment to its room. The concrete transport
// (WebRTC track, WebSocket relay) is adapted once at the boundary.
type Media interface {
	// Frames returns inbound audio from the participant. The channel closes
	// when the participant leaves the room.
	Frames() <-chan []byte

	// WriteAudio sends synthesized audio to the participant.
	WriteAudio(ctx context.Context, chunk []byte) error
}
