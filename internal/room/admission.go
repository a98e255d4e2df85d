package room

import (
	"time"

	"github.com/BioHazard786/warpmeet/internal/signaling"
)

const rejectReason = "rejected by host"

// Admit lets a pending participant in: it is told it was approved, the
// room is told it joined, and the host starts negotiating with it.
func (o *Orchestrator) Admit(id string) error {
	return o.exec(func() error {
		if err := o.checkHost("admit"); err != nil {
			return err
		}
		return o.admit(id)
	})
}

// Reject turns a pending participant away. Later requests from the same
// id are ignored.
func (o *Orchestrator) Reject(id string) error {
	return o.exec(func() error {
		if err := o.checkHost("reject"); err != nil {
			return err
		}
		return o.reject(id)
	})
}

// AdmitAll admits every pending participant.
func (o *Orchestrator) AdmitAll() error {
	return o.exec(func() error {
		if err := o.checkHost("admit all"); err != nil {
			return err
		}
		for _, id := range o.members.pendingIDs() {
			o.admit(id)
		}
		return nil
	})
}

// RejectAll rejects every pending participant.
func (o *Orchestrator) RejectAll() error {
	return o.exec(func() error {
		if err := o.checkHost("reject all"); err != nil {
			return err
		}
		for _, id := range o.members.pendingIDs() {
			o.reject(id)
		}
		return nil
	})
}

func (o *Orchestrator) checkHost(op string) error {
	if o.phase != phaseInRoom {
		return NewError(op, ErrNotJoined)
	}
	if !o.host {
		return NewError(op, ErrNotHost)
	}
	return nil
}

func (o *Orchestrator) admit(id string) error {
	p, ok := o.members.takePending(id)
	if !ok {
		return NewParticipantError("admit", id, ErrUnknownParticipant)
	}
	o.listener.PendingRemoved(id)

	o.send(signaling.TypeJoinApproved, id, signaling.JoinApprovedPayload{
		HostName:  o.name,
		RoomTitle: o.title,
	})
	o.send(signaling.TypeParticipantJoined, signaling.Broadcast, signaling.ParticipantJoinedPayload{
		ParticipantID:   id,
		ParticipantName: p.Name,
	})
	// The newcomer assumes everyone starts unmuted.
	if !o.audioEnabled || !o.videoEnabled {
		o.broadcastMediaState()
	}

	o.addParticipant(Participant{
		ID:           id,
		Name:         p.Name,
		AudioEnabled: true,
		VideoEnabled: true,
	})
	o.connectOfferer(id)
	o.refreshStatus()
	return nil
}

func (o *Orchestrator) reject(id string) error {
	if _, ok := o.members.takePending(id); !ok {
		return NewParticipantError("reject", id, ErrUnknownParticipant)
	}
	o.members.rejected[id] = true
	o.listener.PendingRemoved(id)
	o.logger.Info("join request rejected", "peer", id)

	o.send(signaling.TypeJoinRejected, id, signaling.JoinRejectedPayload{Reason: rejectReason})
	return nil
}

func (o *Orchestrator) onJoinRequest(m *signaling.Message) {
	if !o.host {
		return
	}

	var p signaling.JoinRequestPayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad join_request", "error", err)
		return
	}

	pending := PendingParticipant{
		ID:          m.From,
		Name:        p.ParticipantName,
		RequestedAt: time.UnixMilli(m.Timestamp),
	}
	if !o.members.addPending(pending) {
		o.logger.Debug("ignoring join request", "peer", m.From, "rejected", o.members.rejected[m.From])
		return
	}
	o.logger.Info("join request", "peer", m.From, "name", p.ParticipantName)
	o.listener.PendingAdded(pending)
}

func (o *Orchestrator) onJoinApproved(m *signaling.Message) {
	if o.phase != phaseWaiting {
		return
	}
	var p signaling.JoinApprovedPayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad join_approved", "error", err)
	}
	o.enterRoom(m.From, p.HostName, p.RoomTitle)
}

func (o *Orchestrator) onJoinRejected(m *signaling.Message) {
	if o.phase != phaseWaiting {
		return
	}
	var p signaling.JoinRejectedPayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad join_rejected", "error", err)
	}
	o.logger.Info("join request rejected", "reason", p.Reason)

	if sig := o.teardown(phaseRejected, StatusRejected); sig != nil {
		go sig.Close()
	}
}

// enterRoom completes a joiner's admission: the host becomes a
// participant and a session waits for its offer.
func (o *Orchestrator) enterRoom(hostID, hostName, title string) {
	o.phase = phaseInRoom
	o.hostID = hostID

	if title != "" && title != o.title {
		o.title = title
		o.listener.RoomTitleChanged(title)
	}
	if hostName == "" {
		hostName = "Host"
	}
	o.addParticipant(Participant{
		ID:           hostID,
		Name:         hostName,
		AudioEnabled: true,
		VideoEnabled: true,
		IsHost:       true,
	})
	o.ensureAnswerer(hostID)
	if !o.audioEnabled || !o.videoEnabled {
		o.broadcastMediaState()
	}
	o.refreshStatus()
}
