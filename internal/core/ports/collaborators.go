package ports

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// CaptureConstraints names the properties requested from the capture
// device. Width/height are ideals, not requirements.
type CaptureConstraints struct {
	Width            int
	Height           int
	EchoCancellation bool
	NoiseSuppression bool
}

// CaptureTrack is one audio or video track of a local capture stream.
// Tracks are enabled/disabled independently and report liveness so the
// resume sweep can detect tracks ended by the platform.
type CaptureTrack interface {
	Kind() string // "audio" or "video"
	SetEnabled(enabled bool)
	Enabled() bool
	Live() bool
	Stop()
}

// CaptureStream is a handle over the acquired device tracks.
type CaptureStream interface {
	Tracks() []CaptureTrack
	Close()
}

// MediaCapture acquires an audio+video stream. A refused device surfaces
// domain.ErrPermissionDenied; the engine never retries acquisition.
type MediaCapture interface {
	Acquire(ctx context.Context, constraints CaptureConstraints) (CaptureStream, error)
}

// PeerSender is an outbound track slot on a live connection. ReplaceTrack
// hot-swaps the media source without renegotiating the session.
type PeerSender interface {
	Kind() string
	ReplaceTrack(track CaptureTrack) error
}

// PeerReceiver reports whether an inbound track is actually delivering
// media, independent of what the connection state claims.
type PeerReceiver interface {
	Kind() string
	Live() bool
}

// PeerLink is one direct media link to a remote participant.
type PeerLink interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track CaptureTrack) error
	Senders() []PeerSender
	Receivers() []PeerReceiver
	ConnectionState() webrtc.PeerConnectionState
	SignalingState() webrtc.SignalingState
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnICECandidate(fn func(*webrtc.ICECandidate))
	Close() error
}

// PeerTransport mints peer links configured with the relay/rendezvous
// servers and candidate pool size from configuration.
type PeerTransport interface {
	NewLink() (PeerLink, error)
}
