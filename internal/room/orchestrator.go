// Package room coordinates a participant's view of a room: signaling,
// admission, membership, media flags and one peer session per remote
// participant. All state is owned by a single event loop.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/roomid"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/google/uuid"
)

const actionQueueSize = 1024

// Config wires an Orchestrator to its collaborators.
type Config struct {
	// SelfID is the local participant id. A random one is used if empty.
	SelfID string

	Transports []signaling.Transport
	Provider   media.Provider
	Factory    peer.Factory
	Listener   Listener
	Logger     *slog.Logger

	PeerRetryDelay time.Duration
	PeerMaxRetries int

	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
}

// JoinOptions describes how to enter a room.
type JoinOptions struct {
	RoomID string
	Name   string
	Host   bool
	// Title is announced in room_created when hosting.
	Title string
	// AudioOnly skips the camera entirely.
	AudioOnly bool
}

type phase int

const (
	phaseIdle phase = iota
	phaseJoining
	phaseWaiting // joiner waiting for the host's decision
	phaseInRoom
	phaseRejected
	phaseLeft
)

// Orchestrator is the local participant's room coordinator. Commands may
// be called from any goroutine; they are executed on the event loop.
type Orchestrator struct {
	cfg      Config
	selfID   string
	logger   *slog.Logger
	listener Listener

	actions   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the event loop.
	roomID     string
	name       string
	title      string
	host       bool
	hostID     string
	phase      phase
	status     Status
	signalDown bool
	signal     *signaling.Session

	members  *membership
	seen     map[string]string
	sessions map[string]*peer.Session
	retries  map[string]int
	failed   map[string]bool

	source       *media.Source
	display      *media.Source
	audioEnabled bool
	videoEnabled bool
	sharing      bool

	joinedAt time.Time
	leftAt   time.Time
}

// New creates an orchestrator and starts its event loop.
func New(cfg Config) *Orchestrator {
	if cfg.SelfID == "" {
		cfg.SelfID = uuid.NewString()
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "room")
	}
	if cfg.PeerRetryDelay <= 0 {
		cfg.PeerRetryDelay = config.DefaultPeerRetryDelay
	}
	if cfg.PeerMaxRetries <= 0 {
		cfg.PeerMaxRetries = config.DefaultPeerMaxRetries
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = config.DefaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = config.DefaultReconnectMax
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = config.DefaultReconnectAttempts
	}

	o := &Orchestrator{
		cfg:      cfg,
		selfID:   cfg.SelfID,
		logger:   cfg.Logger.With("participant", cfg.SelfID),
		listener: cfg.Listener,
		actions:  make(chan func(), actionQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		status:   StatusDisconnected,
		members:  newMembership(),
		seen:     make(map[string]string),
		sessions: make(map[string]*peer.Session),
		retries:  make(map[string]int),
		failed:   make(map[string]bool),
	}
	go o.run()
	return o
}

func (o *Orchestrator) run() {
	defer close(o.done)

	for {
		select {
		case fn := <-o.actions:
			fn()
		case <-o.quit:
			return
		}
	}
}

// post queues fn on the event loop. It is used by callbacks arriving on
// other goroutines and drops fn once the loop has stopped.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.actions <- fn:
	case <-o.quit:
	}
}

// exec runs fn on the event loop and waits for its result. It must not be
// called from the loop itself.
func (o *Orchestrator) exec(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case o.actions <- func() { errc <- fn() }:
	case <-o.quit:
		return ErrClosed
	}

	select {
	case err := <-errc:
		return err
	case <-o.done:
		return ErrClosed
	}
}

// Join acquires local media, connects signaling and either announces the
// room (host) or asks the host for admission.
func (o *Orchestrator) Join(ctx context.Context, opts JoinOptions) error {
	if !roomid.Valid(opts.RoomID) {
		return WrapError("join", ErrInvalidRoomID, opts.RoomID)
	}

	err := o.exec(func() error {
		if o.phase != phaseIdle {
			return NewError("join", ErrAlreadyJoined)
		}
		o.phase = phaseJoining
		o.roomID = opts.RoomID
		o.name = opts.Name
		o.title = opts.Title
		o.host = opts.Host
		o.setStatus(StatusGettingMedia)
		return nil
	})
	if err != nil {
		return err
	}

	src, err := o.acquire(ctx, opts.AudioOnly)
	if err != nil {
		o.exec(func() error {
			o.phase = phaseIdle
			o.setStatus(StatusMediaDenied)
			return nil
		})
		return WrapError("join", ErrMediaDenied, err.Error())
	}

	sig := signaling.NewSession(signaling.Options{
		RoomID:            opts.RoomID,
		SelfID:            o.selfID,
		Transports:        o.cfg.Transports,
		ReconnectBase:     o.cfg.ReconnectBase,
		ReconnectMax:      o.cfg.ReconnectMax,
		ReconnectAttempts: o.cfg.ReconnectAttempts,
		OnMessage: func(m *signaling.Message) {
			o.post(func() { o.handleMessage(m) })
		},
		OnState: func(state signaling.State, transport string) {
			o.post(func() { o.signalingStateChanged(state, transport) })
		},
		Logger: o.cfg.Logger,
	})

	o.exec(func() error {
		o.source = src
		o.audioEnabled = src.Audio != nil
		o.videoEnabled = src.Video != nil
		o.signal = sig
		if src.Video == nil {
			o.setStatus(StatusAudioOnly)
		}
		return nil
	})

	if err := sig.Connect(ctx); err != nil {
		// The session keeps reconnecting and queues what we send.
		o.logger.Warn("signaling not connected yet", "error", err)
	}

	return o.exec(func() error {
		o.joinedAt = time.Now()
		if o.host {
			o.phase = phaseInRoom
			o.hostID = o.selfID
			o.send(signaling.TypeRoomCreated, signaling.Broadcast, signaling.RoomCreatedPayload{
				HostID:    o.selfID,
				HostName:  o.name,
				RoomTitle: o.title,
			})
		} else {
			o.phase = phaseWaiting
			o.send(signaling.TypeJoinRequest, signaling.Broadcast, signaling.JoinRequestPayload{
				ParticipantID:   o.selfID,
				ParticipantName: o.name,
			})
		}
		o.refreshStatus()
		return nil
	})
}

// acquire asks for audio and video, falling back once to audio only.
func (o *Orchestrator) acquire(ctx context.Context, audioOnly bool) (*media.Source, error) {
	if !audioOnly {
		src, err := o.cfg.Provider.Acquire(ctx, media.Constraints{Audio: true, Video: true})
		if err == nil {
			return src, nil
		}
		o.logger.Warn("camera unavailable, retrying with audio only", "error", err)
	}
	return o.cfg.Provider.Acquire(ctx, media.Constraints{Audio: true})
}

// Leave announces departure, closes every peer session, releases local
// media and disconnects signaling.
func (o *Orchestrator) Leave() error {
	var sig *signaling.Session
	err := o.exec(func() error {
		if o.phase != phaseWaiting && o.phase != phaseInRoom {
			return NewError("leave", ErrNotJoined)
		}
		o.send(signaling.TypeParticipantLeft, signaling.Broadcast, signaling.ParticipantLeftPayload{
			ParticipantID: o.selfID,
		})
		sig = o.teardown(phaseLeft, StatusDisconnected)
		return nil
	})
	if sig != nil {
		sig.Close()
	}
	return err
}

// Close leaves the room if needed and stops the event loop.
func (o *Orchestrator) Close() error {
	if err := o.Leave(); err != nil && !errors.Is(err, ErrNotJoined) && !errors.Is(err, ErrClosed) {
		return err
	}
	o.closeOnce.Do(func() { close(o.quit) })
	<-o.done
	return nil
}

// teardown drops all room state and returns the signaling session for
// the caller to close off the loop.
func (o *Orchestrator) teardown(next phase, status Status) *signaling.Session {
	for id := range o.sessions {
		o.closeSession(id)
	}
	if o.display != nil {
		o.cfg.Provider.Release(o.display)
		o.display = nil
	}
	o.sharing = false
	if o.source != nil {
		o.cfg.Provider.Release(o.source)
		o.source = nil
	}

	for _, p := range o.members.pendingList() {
		o.listener.PendingRemoved(p.ID)
	}
	for _, p := range o.members.participantList() {
		o.listener.ParticipantRemoved(p.ID)
	}
	o.members.reset()
	o.retries = make(map[string]int)
	o.failed = make(map[string]bool)

	o.phase = next
	o.leftAt = time.Now()
	o.setStatus(status)

	sig := o.signal
	o.signal = nil
	return sig
}

func (o *Orchestrator) handleMessage(m *signaling.Message) {
	if o.phase != phaseWaiting && o.phase != phaseInRoom {
		o.logger.Debug("ignoring message outside room", "type", m.Type, "from", m.From)
		return
	}

	switch m.Type {
	case signaling.TypeRoomCreated:
		o.onRoomCreated(m)
	case signaling.TypeJoinRequest:
		o.onJoinRequest(m)
	case signaling.TypeJoinApproved:
		o.onJoinApproved(m)
	case signaling.TypeJoinRejected:
		o.onJoinRejected(m)
	case signaling.TypeParticipantJoined:
		o.onParticipantJoined(m)
	case signaling.TypeParticipantLeft:
		o.onParticipantLeft(m)
	case signaling.TypeOffer:
		o.onOffer(m)
	case signaling.TypeAnswer:
		o.onAnswer(m)
	case signaling.TypeICECandidate:
		o.onCandidate(m)
	case signaling.TypeMediaStateChanged:
		o.onMediaStateChanged(m)
	default:
		o.logger.Debug("unknown message type", "type", m.Type, "from", m.From)
	}
}

func (o *Orchestrator) onRoomCreated(m *signaling.Message) {
	var p signaling.RoomCreatedPayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad room_created", "error", err)
		return
	}
	if p.RoomTitle != "" && p.RoomTitle != o.title {
		o.title = p.RoomTitle
		o.listener.RoomTitleChanged(p.RoomTitle)
	}
}

func (o *Orchestrator) onParticipantJoined(m *signaling.Message) {
	var p signaling.ParticipantJoinedPayload
	if err := m.DecodeData(&p); err != nil || p.ParticipantID == "" {
		o.logger.Debug("bad participant_joined", "error", err)
		return
	}

	if p.ParticipantID == o.selfID {
		// The host announced us; treat it as approval if join_approved
		// was lost.
		if o.phase == phaseWaiting {
			o.enterRoom(m.From, "", "")
		}
		return
	}
	if o.host && o.members.rejected[p.ParticipantID] {
		o.logger.Debug("ignoring announcement of rejected participant", "participant", p.ParticipantID, "from", m.From)
		return
	}

	if _, isPending := o.members.pending[p.ParticipantID]; isPending {
		o.listener.PendingRemoved(p.ParticipantID)
	}
	o.addParticipant(Participant{
		ID:           p.ParticipantID,
		Name:         p.ParticipantName,
		AudioEnabled: true,
		VideoEnabled: true,
	})
	if o.host {
		o.ensureOfferer(p.ParticipantID)
	}
	o.refreshStatus()
}

func (o *Orchestrator) onParticipantLeft(m *signaling.Message) {
	var p signaling.ParticipantLeftPayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad participant_left", "error", err)
		return
	}
	id := p.ParticipantID
	if id == "" {
		id = m.From
	}
	if id == o.selfID {
		return
	}

	if _, ok := o.members.takePending(id); ok {
		o.listener.PendingRemoved(id)
	}
	if o.members.removeParticipant(id) {
		o.logger.Info("participant left", "peer", id)
		o.listener.ParticipantRemoved(id)
	}
	o.closeSession(id)
	delete(o.retries, id)
	delete(o.failed, id)
	o.refreshStatus()
}

func (o *Orchestrator) onMediaStateChanged(m *signaling.Message) {
	var p signaling.MediaStatePayload
	if err := m.DecodeData(&p); err != nil {
		o.logger.Debug("bad media_state_changed", "error", err)
		return
	}
	if p.ParticipantID == o.selfID {
		return
	}
	participant, ok := o.members.participants[p.ParticipantID]
	if !ok {
		o.logger.Debug("media state for unknown participant", "peer", p.ParticipantID)
		return
	}
	participant.AudioEnabled = p.IsAudioEnabled
	participant.VideoEnabled = p.IsVideoEnabled
	o.listener.MediaStateChanged(p.ParticipantID, p.IsAudioEnabled, p.IsVideoEnabled)
}

func (o *Orchestrator) signalingStateChanged(state signaling.State, transport string) {
	o.logger.Debug("signaling state", "state", state.String(), "transport", transport)
	switch state {
	case signaling.StateUnavailable:
		o.signalDown = true
	case signaling.StateConnected:
		o.signalDown = false
	default:
		return
	}
	o.refreshStatus()
}

func (o *Orchestrator) addParticipant(p Participant) {
	added, ok := o.members.addParticipant(p)
	if !ok {
		return
	}
	o.seen[added.ID] = added.Name
	o.logger.Info("participant joined", "peer", added.ID, "name", added.Name)
	o.listener.ParticipantAdded(*added)
}

// send encodes and queues a signaling message. Failures are logged; the
// signaling session retries and falls back on its own.
func (o *Orchestrator) send(msgType, to string, payload any) {
	msg, err := signaling.NewMessage(msgType, to, payload)
	if err != nil {
		o.logger.Error("encode message", "type", msgType, "error", err)
		return
	}
	if err := o.sendMessage(msg); err != nil {
		o.logger.Warn("send failed", "type", msgType, "error", err)
	}
}

func (o *Orchestrator) sendMessage(msg *signaling.Message) error {
	if o.signal == nil {
		return signaling.ErrClosed
	}
	return o.signal.Send(msg)
}

func (o *Orchestrator) setStatus(s Status) {
	if o.status == s {
		return
	}
	o.logger.Debug("status", "status", string(s))
	o.status = s
	o.listener.StatusChanged(s)
}

// refreshStatus derives the status from the room phase and the peer
// sessions.
func (o *Orchestrator) refreshStatus() {
	if o.phase != phaseWaiting && o.phase != phaseInRoom {
		return
	}
	if o.signalDown {
		o.setStatus(StatusSignalingUnavailable)
		return
	}
	if o.phase == phaseWaiting {
		o.setStatus(StatusWaitingApproval)
		return
	}

	for _, s := range o.sessions {
		if s.State() == peer.StateConnected {
			o.setStatus(StatusConnected)
			return
		}
	}

	switch {
	case o.host && len(o.members.participants) == 0:
		o.setStatus(StatusWaitingParticipants)
	case !o.host && o.members.participants[o.hostID] == nil:
		o.setStatus(StatusDisconnected)
	case len(o.sessions) == 0 && len(o.failed) > 0:
		o.setStatus(StatusConnectionFailed)
	default:
		o.setStatus(StatusConnecting)
	}
}
