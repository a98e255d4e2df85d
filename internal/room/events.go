package room

import "github.com/BioHazard786/warpmeet/internal/peer"

// Status is the single human-readable connection state shown to the user.
type Status string

const (
	StatusDisconnected         Status = "disconnected"
	StatusGettingMedia         Status = "getting media"
	StatusAudioOnly            Status = "audio only mode"
	StatusMediaDenied          Status = "media access denied"
	StatusWaitingParticipants  Status = "waiting for participants"
	StatusWaitingApproval      Status = "waiting for approval"
	StatusConnecting           Status = "connecting"
	StatusConnected            Status = "connected"
	StatusConnectionFailed     Status = "connection failed"
	StatusRejected             Status = "rejected"
	StatusSignalingUnavailable Status = "signaling unavailable"
)

// Listener receives room events. Methods are called from the
// orchestrator's event loop and must return quickly.
type Listener interface {
	StatusChanged(status Status)
	ParticipantAdded(p Participant)
	ParticipantRemoved(id string)
	PendingAdded(p PendingParticipant)
	PendingRemoved(id string)
	MediaStateChanged(id string, audio, video bool)
	RemoteStreamAttached(id string, track peer.RemoteTrack)
	PeerStateChanged(id string, state peer.State)
	// PeerFailed is raised when a participant's connection could not be
	// re-established after the configured number of retries.
	PeerFailed(id string)
	RoomTitleChanged(title string)
}

// NopListener ignores every event. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) StatusChanged(Status)                          {}
func (NopListener) ParticipantAdded(Participant)                  {}
func (NopListener) ParticipantRemoved(string)                     {}
func (NopListener) PendingAdded(PendingParticipant)               {}
func (NopListener) PendingRemoved(string)                         {}
func (NopListener) MediaStateChanged(string, bool, bool)          {}
func (NopListener) RemoteStreamAttached(string, peer.RemoteTrack) {}
func (NopListener) PeerStateChanged(string, peer.State)           {}
func (NopListener) PeerFailed(string)                             {}
func (NopListener) RoomTitleChanged(string)                       {}
