package peer

import (
	"fmt"
	"log/slog"

	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// State is a Session's negotiation state.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswerPending
	StateAnswering
	StateRemoteDescSet
	StateConnected
	StateFailed
	StateDisconnected
	StateClosed
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateOffering:      "offering",
	StateAnswerPending: "answer pending",
	StateAnswering:     "answering",
	StateRemoteDescSet: "remote description set",
	StateConnected:     "connected",
	StateFailed:        "failed",
	StateDisconnected:  "disconnected",
	StateClosed:        "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Role is the side a Session plays in the offer/answer exchange.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// Observer receives a Session's asynchronous events. Calls are made
// through the Session's Enqueue function.
type Observer interface {
	SessionStateChanged(s *Session, state State)
	RemoteTrackAdded(s *Session, track RemoteTrack)
}

// Config describes a Session to create.
type Config struct {
	RemoteID string
	Role     Role
	Factory  Factory

	// Audio and Video are attached before the first offer or answer.
	// Either may be nil.
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal

	// Send delivers a signaling message addressed to RemoteID.
	Send func(*signaling.Message) error

	Observer Observer

	// Enqueue runs fn on the goroutine that owns the Session. Connection
	// callbacks arrive on other goroutines and are funnelled through it.
	Enqueue func(fn func())

	Logger *slog.Logger
}

// Session negotiates and holds the connection to one remote participant.
// All methods must be called from the owner's goroutine.
type Session struct {
	remoteID string
	role     Role
	state    State

	conn        Connection
	videoSender TrackSender
	hasRemote   bool
	candidates  []webrtc.ICECandidateInit
	// set after a colliding remote offer was ignored; candidates belong
	// to that offer until our answer arrives
	stale bool

	send     func(*signaling.Message) error
	observer Observer
	enqueue  func(func())
	logger   *slog.Logger
}

// New creates the connection and attaches the local tracks. The session
// starts Idle.
func New(cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	enqueue := cfg.Enqueue
	if enqueue == nil {
		enqueue = func(fn func()) { fn() }
	}

	conn, err := cfg.Factory.NewConnection(cfg.RemoteID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		remoteID: cfg.RemoteID,
		role:     cfg.Role,
		state:    StateIdle,
		conn:     conn,
		send:     cfg.Send,
		observer: cfg.Observer,
		enqueue:  enqueue,
		logger:   logger.With("peer", cfg.RemoteID, "role", cfg.Role.String()),
	}

	if cfg.Audio != nil {
		if _, err := conn.AddTrack(cfg.Audio); err != nil {
			conn.Close()
			return nil, fmt.Errorf("add audio track: %w", err)
		}
	}
	if cfg.Video != nil {
		sender, err := conn.AddTrack(cfg.Video)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("add video track: %w", err)
		}
		s.videoSender = sender
	}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.enqueue(func() { s.sendCandidate(c) })
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.enqueue(func() { s.connectionStateChanged(state) })
	})
	conn.OnTrack(func(track RemoteTrack) {
		s.enqueue(func() {
			if s.state != StateClosed && s.observer != nil {
				s.observer.RemoteTrackAdded(s, track)
			}
		})
	})

	return s, nil
}

func (s *Session) RemoteID() string { return s.remoteID }
func (s *Session) Role() Role       { return s.role }
func (s *Session) State() State     { return s.state }

// Outstanding reports whether this side has sent an offer that is still
// waiting for its answer.
func (s *Session) Outstanding() bool {
	return s.role == RoleOfferer && (s.state == StateOffering || s.state == StateAnswerPending)
}

// Start creates the offer, sets it as the local description and sends it.
func (s *Session) Start() error {
	if s.role != RoleOfferer {
		return ErrWrongRole
	}
	if s.state != StateIdle {
		return fmt.Errorf("start in state %s: %w", s.state, ErrUnexpectedOffer)
	}
	s.setState(StateOffering)

	offer, err := s.conn.CreateOffer()
	if err != nil {
		return s.fail("create offer", err)
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return s.fail("set local description", err)
	}

	msg, err := signaling.NewMessage(signaling.TypeOffer, s.remoteID, signaling.OfferPayload{Offer: offer})
	if err != nil {
		return s.fail("encode offer", err)
	}
	if err := s.send(msg); err != nil {
		return s.fail("send offer", err)
	}

	s.setState(StateAnswerPending)
	return nil
}

// HandleOffer applies a remote offer and replies with an answer.
func (s *Session) HandleOffer(offer webrtc.SessionDescription) error {
	if s.role != RoleAnswerer {
		return ErrWrongRole
	}
	if s.state != StateIdle {
		return fmt.Errorf("offer in state %s: %w", s.state, ErrUnexpectedOffer)
	}
	s.setState(StateAnswering)

	if err := s.applyRemote(offer); err != nil {
		return s.fail("set remote description", err)
	}

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return s.fail("create answer", err)
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return s.fail("set local description", err)
	}

	msg, err := signaling.NewMessage(signaling.TypeAnswer, s.remoteID, signaling.AnswerPayload{Answer: answer})
	if err != nil {
		return s.fail("encode answer", err)
	}
	if err := s.send(msg); err != nil {
		return s.fail("send answer", err)
	}

	// The connection may already report connected while we were answering.
	if s.state == StateAnswering {
		s.setState(StateRemoteDescSet)
	}
	return nil
}

// HandleAnswer applies the answer to our outstanding offer.
func (s *Session) HandleAnswer(answer webrtc.SessionDescription) error {
	if s.state != StateAnswerPending {
		return fmt.Errorf("answer in state %s: %w", s.state, ErrUnexpectedAnswer)
	}
	if err := s.applyRemote(answer); err != nil {
		return s.fail("set remote description", err)
	}
	if s.state == StateAnswerPending {
		s.setState(StateRemoteDescSet)
	}
	return nil
}

// HandleCandidate applies a remote ICE candidate, or queues it until the
// remote description is set.
func (s *Session) HandleCandidate(c webrtc.ICECandidateInit) error {
	if s.state == StateClosed {
		return ErrClosed
	}
	if !s.hasRemote {
		if s.stale {
			s.logger.Debug("dropping candidate of ignored offer")
			return nil
		}
		s.candidates = append(s.candidates, c)
		return nil
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// IgnoreOffer records that a remote offer colliding with ours was not
// answered. Candidates queued so far, and those arriving before our answer
// is applied, were gathered for that offer and are dropped.
func (s *Session) IgnoreOffer() {
	if s.hasRemote {
		return
	}
	s.stale = true
	s.candidates = nil
}

// Queued returns the number of remote candidates waiting for the remote
// description.
func (s *Session) Queued() int { return len(s.candidates) }

// ReplaceVideoTrack swaps the outgoing video in place; no new offer is
// made.
func (s *Session) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	if s.state == StateClosed {
		return ErrClosed
	}
	if s.videoSender == nil {
		return ErrNoVideoSender
	}
	if err := s.videoSender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	return nil
}

// Close releases the connection and drops queued candidates. It is safe
// to call in any state, more than once.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.candidates = nil
	s.logger.Debug("session closed")
	return s.conn.Close()
}

// applyRemote sets the remote description and flushes candidates that
// arrived early, in receipt order.
func (s *Session) applyRemote(desc webrtc.SessionDescription) error {
	if err := s.conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.hasRemote = true
	s.stale = false

	queued := s.candidates
	s.candidates = nil
	for _, c := range queued {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.logger.Debug("dropping queued candidate", "error", err)
		}
	}
	return nil
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	if s.state == StateClosed {
		return
	}
	msg, err := signaling.NewMessage(signaling.TypeICECandidate, s.remoteID, signaling.ICECandidatePayload{Candidate: c})
	if err != nil {
		s.logger.Debug("encode candidate", "error", err)
		return
	}
	if err := s.send(msg); err != nil {
		s.logger.Debug("send candidate", "error", err)
	}
}

func (s *Session) connectionStateChanged(state webrtc.PeerConnectionState) {
	if s.state == StateClosed {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.setState(StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		s.setState(StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		s.setState(StateFailed)
	}
}

func (s *Session) fail(op string, err error) error {
	s.logger.Warn("negotiation failed", "op", op, "error", err)
	s.setState(StateFailed)
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Session) setState(state State) {
	if s.state == state || s.state == StateClosed {
		return
	}
	s.logger.Debug("state change", "from", s.state.String(), "to", state.String())
	s.state = state
	if s.observer != nil {
		s.observer.SessionStateChanged(s, state)
	}
}
