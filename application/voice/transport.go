package voice

import (
	"context"

	"learngraph/application/ports"
)

// TransportState is the connection state reported by a transport
type TransportState string

const (
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Lost reports whether the state ends the session
func (s TransportState) Lost() bool {
	return s == TransportDisconnected || s == TransportFailed || s == TransportClosed
}

// TransportHandler receives transport callbacks. Implementations must not
// block; the session only posts the callback onto its event loop.
type TransportHandler interface {
	OnMessage(data []byte)
	OnStateChange(state TransportState)
}

// Transport is an established realtime connection to the agent: a JSON
// message channel plus an optional outbound microphone track.
type Transport interface {
	// Send writes one text message on the event channel
	Send(data []byte) error
	// ChannelOpen reports whether Send can currently succeed
	ChannelOpen() bool
	// SetMicEnabled mutes or unmutes the outbound microphone track
	SetMicEnabled(enabled bool)
	// Close releases the peer connection, channel and sinks. It is safe
	// to call more than once.
	Close() error
}

// Connector negotiates a transport using a short-lived credential
type Connector interface {
	Connect(ctx context.Context, cred *ports.RealtimeCredential, handler TransportHandler) (Transport, error)
}

// AudioSource produces fixed-size PCM16 frames from a microphone
type AudioSource interface {
	Start(ctx context.Context) (<-chan []byte, error)
	Close() error
}
