package peer

import "github.com/pion/webrtc/v4"

// Connection is the negotiated connection object a Session drives. The
// pion implementation is returned by PionFactory; tests use peertest.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) (TrackSender, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// Callbacks are invoked from the connection's own goroutines.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(RemoteTrack))

	Close() error
}

// TrackSender replaces an outgoing track without renegotiation.
type TrackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack describes media received from the remote participant.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     webrtc.RTPCodecType
}

// Factory creates one Connection per remote participant.
type Factory interface {
	NewConnection(remoteID string) (Connection, error)
}
