package webrtc

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Signaler is an interface that decouples the WebRTC logic from the signaling transport.
// The application layer must provide a concrete implementation (e.g., over HTTP, WebSocket).
// Descriptions carry their candidates, so no trickle ICE is exchanged.
type Signaler interface {
	SendOffer(ctx context.Context, offer webrtc.SessionDescription) error
	WaitForAnswer(ctx context.Context) (*webrtc.SessionDescription, error)
}
