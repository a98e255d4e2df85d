// Package peertest provides an in-memory peer.Connection for tests.
package peertest

import (
	"fmt"
	"sync"

	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/pion/webrtc/v4"
)

// Factory records every connection it creates, keyed by remote id.
type Factory struct {
	// AutoConnect makes a connection report a local candidate once its
	// local description is set, and a remote track followed by
	// "connected" once both descriptions are set. Events are fired from
	// separate goroutines, as pion does.
	AutoConnect bool

	// ReplaceErr makes ReplaceTrack fail on connections to the given ids.
	ReplaceErr map[string]error

	mu    sync.Mutex
	conns map[string][]*Conn
}

func NewFactory(autoConnect bool) *Factory {
	return &Factory{AutoConnect: autoConnect, conns: make(map[string][]*Conn)}
}

func (f *Factory) NewConnection(remoteID string) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &Conn{
		RemoteID:   remoteID,
		auto:       f.AutoConnect,
		replaceErr: f.ReplaceErr[remoteID],
		seq:        len(f.conns[remoteID]) + 1,
	}
	f.conns[remoteID] = append(f.conns[remoteID], c)
	return c, nil
}

// Conns returns the connections created for remoteID, oldest first.
func (f *Factory) Conns(remoteID string) []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns[remoteID]...)
}

// Last returns the newest connection for remoteID, or nil.
func (f *Factory) Last(remoteID string) *Conn {
	conns := f.Conns(remoteID)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Conn is a scripted peer.Connection.
type Conn struct {
	RemoteID string

	auto       bool
	replaceErr error
	seq        int

	mu          sync.Mutex
	local       *webrtc.SessionDescription
	remote      *webrtc.SessionDescription
	applied     []webrtc.ICECandidateInit
	senders     []*sender
	offers      int
	closed      bool
	connected   bool
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(peer.RemoteTrack)
}

type sender struct {
	conn     *Conn
	track    webrtc.TrackLocal
	replaced int
}

func (s *sender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.conn.replaceErr != nil {
		return s.conn.replaceErr
	}
	s.track = track
	s.replaced++
	return nil
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) (peer.TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local != nil {
		return nil, fmt.Errorf("track added after local description")
	}
	s := &sender{conn: c, track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer %s/%d tracks=%d", c.RemoteID, c.seq, len(c.senders)),
	}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("answer without remote offer")
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("answer %s/%d tracks=%d", c.RemoteID, c.seq, len(c.senders)),
	}, nil
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	c.local = &desc
	c.mu.Unlock()

	if c.auto {
		go c.fireCandidate()
		c.maybeConnect()
	}
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	c.remote = &desc
	c.mu.Unlock()

	if c.auto {
		c.maybeConnect()
	}
	return nil
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return fmt.Errorf("candidate before remote description")
	}
	c.applied = append(c.applied, candidate)
	return nil
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Conn) OnTrack(fn func(peer.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// EmitState reports a connection state change on the calling goroutine.
func (c *Conn) EmitState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// EmitCandidate reports a locally gathered candidate on the calling
// goroutine.
func (c *Conn) EmitCandidate(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

// EmitTrack reports a remote track on the calling goroutine.
func (c *Conn) EmitTrack(track peer.RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Conn) Local() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) Remote() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Applied returns the remote candidates added so far.
func (c *Conn) Applied() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.applied...)
}

// Tracks returns the current outgoing tracks in the order they were added.
func (c *Conn) Tracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	tracks := make([]webrtc.TrackLocal, 0, len(c.senders))
	for _, s := range c.senders {
		tracks = append(tracks, s.track)
	}
	return tracks
}

// Replaced returns how many times outgoing tracks were swapped.
func (c *Conn) Replaced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.senders {
		n += s.replaced
	}
	return n
}

func (c *Conn) fireCandidate() {
	c.EmitCandidate(webrtc.ICECandidateInit{
		Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 127.0.0.1 %d typ host", c.seq, 50000+c.seq),
	})
}

func (c *Conn) maybeConnect() {
	c.mu.Lock()
	ready := c.local != nil && c.remote != nil && !c.connected && !c.closed
	if ready {
		c.connected = true
	}
	c.mu.Unlock()
	if !ready {
		return
	}

	go func() {
		c.EmitTrack(peer.RemoteTrack{ID: "audio", StreamID: "remote-" + c.RemoteID, Kind: webrtc.RTPCodecTypeAudio})
		c.EmitState(webrtc.PeerConnectionStateConnected)
	}()
}
