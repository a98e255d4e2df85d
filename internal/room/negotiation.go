package room

import (
	"errors"
	"time"

	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// newSession replaces any session to id with a fresh one carrying the
// current outgoing tracks.
func (o *Orchestrator) newSession(id string, role peer.Role) *peer.Session {
	o.closeSession(id)

	audio, video := o.outgoingTracks()
	s, err := peer.New(peer.Config{
		RemoteID: id,
		Role:     role,
		Factory:  o.cfg.Factory,
		Audio:    audio,
		Video:    video,
		Send:     o.sendMessage,
		Observer: o,
		Enqueue:  o.post,
		Logger:   o.cfg.Logger,
	})
	if err != nil {
		o.logger.Error("create peer session", "peer", id, "error", err)
		return nil
	}
	o.sessions[id] = s
	delete(o.failed, id)
	return s
}

// connectOfferer starts a new offer to id, replacing any session.
func (o *Orchestrator) connectOfferer(id string) {
	s := o.newSession(id, peer.RoleOfferer)
	if s == nil {
		return
	}
	if err := s.Start(); err != nil {
		// The failed state schedules a retry.
		o.logger.Warn("offer failed", "peer", id, "error", err)
	}
}

func (o *Orchestrator) ensureOfferer(id string) {
	if _, ok := o.sessions[id]; ok {
		return
	}
	o.connectOfferer(id)
}

func (o *Orchestrator) ensureAnswerer(id string) {
	if _, ok := o.sessions[id]; ok {
		return
	}
	o.newSession(id, peer.RoleAnswerer)
}

func (o *Orchestrator) closeSession(id string) {
	s, ok := o.sessions[id]
	if !ok {
		return
	}
	delete(o.sessions, id)
	if err := s.Close(); err != nil {
		o.logger.Debug("close peer session", "peer", id, "error", err)
	}
}

// outgoingTracks returns the local tracks new sessions attach. Nil
// interfaces are returned for missing tracks.
func (o *Orchestrator) outgoingTracks() (audio, video webrtc.TrackLocal) {
	if o.source != nil && o.source.Audio != nil {
		audio = o.source.Audio
	}
	switch {
	case o.sharing && o.display != nil:
		video = o.display.Video
	case o.source != nil && o.source.Video != nil:
		video = o.source.Video
	}
	return audio, video
}

func (o *Orchestrator) onOffer(m *signaling.Message) {
	if o.phase != phaseInRoom {
		return
	}
	if _, ok := o.members.participants[m.From]; !ok {
		o.logger.Debug("offer from unknown participant", "peer", m.From)
		return
	}

	var p signaling.OfferPayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad offer", "error", err)
		return
	}

	s := o.sessions[m.From]
	switch {
	case s == nil:
	case s.Role() == peer.RoleAnswerer && s.State() == peer.StateIdle:
		// waiting for exactly this offer
	case s.Outstanding():
		// Both sides offered. The smaller id keeps its offer.
		if o.selfID < m.From {
			o.logger.Debug("offer collision, keeping ours", "peer", m.From)
			s.IgnoreOffer()
			return
		}
		o.logger.Debug("offer collision, answering theirs", "peer", m.From)
		s = nil
	default:
		// The remote restarted negotiation, e.g. after a failure.
		s = nil
	}

	if s == nil {
		if s = o.newSession(m.From, peer.RoleAnswerer); s == nil {
			return
		}
	}
	if err := s.HandleOffer(p.Offer); err != nil {
		o.logger.Warn("answer failed", "peer", m.From, "error", err)
	}
}

func (o *Orchestrator) onAnswer(m *signaling.Message) {
	s, ok := o.sessions[m.From]
	if !ok {
		o.logger.Debug("answer without session", "peer", m.From)
		return
	}

	var p signaling.AnswerPayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad answer", "error", err)
		return
	}

	err := s.HandleAnswer(p.Answer)
	switch {
	case errors.Is(err, peer.ErrUnexpectedAnswer):
		o.logger.Debug("ignoring answer", "peer", m.From, "state", s.State().String())
	case err != nil:
		o.logger.Warn("apply answer failed", "peer", m.From, "error", err)
	}
}

func (o *Orchestrator) onCandidate(m *signaling.Message) {
	s, ok := o.sessions[m.From]
	if !ok {
		return
	}

	var p signaling.ICECandidatePayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad candidate", "error", err)
		return
	}
	if err := s.HandleCandidate(p.Candidate); err != nil {
		o.logger.Debug("candidate not applied", "peer", m.From, "error", err)
	}
}

// SessionStateChanged implements peer.Observer.
func (o *Orchestrator) SessionStateChanged(s *peer.Session, state peer.State) {
	id := s.RemoteID()
	if o.sessions[id] != s {
		return
	}
	o.listener.PeerStateChanged(id, state)

	switch state {
	case peer.StateConnected:
		delete(o.retries, id)
	case peer.StateFailed:
		o.scheduleRetry(s)
	}
	o.refreshStatus()
}

// RemoteTrackAdded implements peer.Observer.
func (o *Orchestrator) RemoteTrackAdded(s *peer.Session, track peer.RemoteTrack) {
	id := s.RemoteID()
	if o.sessions[id] != s {
		return
	}
	p, ok := o.members.participants[id]
	if !ok {
		return
	}
	if p.Stream != nil && p.Stream.StreamID == track.StreamID {
		return
	}
	p.Stream = &track
	o.listener.RemoteStreamAttached(id, track)
}

func (o *Orchestrator) scheduleRetry(s *peer.Session) {
	id := s.RemoteID()
	time.AfterFunc(o.cfg.PeerRetryDelay, func() {
		o.post(func() { o.retry(id, s) })
	})
}

// retry recreates a failed session as offerer. The old session is closed
// before the new offer is made.
func (o *Orchestrator) retry(id string, failed *peer.Session) {
	if o.sessions[id] != failed || failed.State() != peer.StateFailed {
		return
	}
	if _, ok := o.members.participants[id]; !ok {
		o.closeSession(id)
		return
	}

	if o.retries[id] >= o.cfg.PeerMaxRetries {
		o.logger.Warn("giving up on peer", "peer", id, "retries", o.retries[id])
		o.closeSession(id)
		o.failed[id] = true
		o.listener.PeerFailed(id)
		o.refreshStatus()
		return
	}

	o.retries[id]++
	o.logger.Info("reconnecting peer", "peer", id, "attempt", o.retries[id])
	o.closeSession(id)
	o.connectOfferer(id)
}
