package room

import (
	"time"

	"github.com/BioHazard786/warpmeet/internal/peer"
)

// MediaState is the local participant's media flags.
type MediaState struct {
	Audio         bool
	Video         bool
	ScreenSharing bool
	// AudioOnly is set when no camera track was acquired.
	AudioOnly bool
}

// Summary describes the session after leaving.
type Summary struct {
	RoomID   string
	Title    string
	Host     bool
	Duration time.Duration
	// Seen maps every participant id met during the session to its name.
	Seen map[string]string
}

func (o *Orchestrator) SelfID() string { return o.selfID }

func (o *Orchestrator) RoomID() string {
	var id string
	o.exec(func() error { id = o.roomID; return nil })
	return id
}

func (o *Orchestrator) Title() string {
	var title string
	o.exec(func() error { title = o.title; return nil })
	return title
}

func (o *Orchestrator) IsHost() bool {
	var host bool
	o.exec(func() error { host = o.host; return nil })
	return host
}

func (o *Orchestrator) Status() Status {
	status := StatusDisconnected
	o.exec(func() error { status = o.status; return nil })
	return status
}

// Participants returns the remote participants in join order.
func (o *Orchestrator) Participants() []Participant {
	var list []Participant
	o.exec(func() error { list = o.members.participantList(); return nil })
	return list
}

// Pending returns the join requests awaiting a decision, oldest first.
func (o *Orchestrator) Pending() []PendingParticipant {
	var list []PendingParticipant
	o.exec(func() error { list = o.members.pendingList(); return nil })
	return list
}

// ConnectionStates returns the negotiation state of every open session.
func (o *Orchestrator) ConnectionStates() map[string]peer.State {
	states := make(map[string]peer.State)
	o.exec(func() error {
		for id, s := range o.sessions {
			states[id] = s.State()
		}
		return nil
	})
	return states
}

func (o *Orchestrator) MediaState() MediaState {
	var ms MediaState
	o.exec(func() error {
		ms = MediaState{
			Audio:         o.audioEnabled,
			Video:         o.videoEnabled,
			ScreenSharing: o.sharing,
			AudioOnly:     o.source != nil && o.source.Video == nil,
		}
		return nil
	})
	return ms
}

// Transport returns the active signaling transport name.
func (o *Orchestrator) Transport() string {
	var name string
	o.exec(func() error {
		if o.signal != nil {
			name = o.signal.Transport()
		}
		return nil
	})
	return name
}

func (o *Orchestrator) Summary() Summary {
	var s Summary
	o.exec(func() error {
		end := o.leftAt
		if end.IsZero() || end.Before(o.joinedAt) {
			end = time.Now()
		}
		s = Summary{
			RoomID: o.roomID,
			Title:  o.title,
			Host:   o.host,
			Seen:   make(map[string]string, len(o.seen)),
		}
		if !o.joinedAt.IsZero() {
			s.Duration = end.Sub(o.joinedAt)
		}
		for id, name := range o.seen {
			s.Seen[id] = name
		}
		return nil
	})
	return s
}
