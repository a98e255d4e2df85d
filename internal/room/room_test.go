package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/warpmeet/internal/logging"
	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/peer/peertest"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoom = "ABC123"
	wait     = 2 * time.Second
	tick     = 5 * time.Millisecond
)

// events records everything a Listener is told.
type events struct {
	mu       sync.Mutex
	statuses []Status
	pending  []string
	failed   []string
	streams  []string
	titles   []string
	media    map[string][2]bool
}

func (e *events) StatusChanged(s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, s)
}

func (e *events) ParticipantAdded(Participant) {}
func (e *events) ParticipantRemoved(string)    {}
func (e *events) PendingRemoved(string)        {}

func (e *events) PendingAdded(p PendingParticipant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, p.ID)
}

func (e *events) MediaStateChanged(id string, audio, video bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.media == nil {
		e.media = make(map[string][2]bool)
	}
	e.media[id] = [2]bool{audio, video}
}

func (e *events) RemoteStreamAttached(id string, _ peer.RemoteTrack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streams = append(e.streams, id)
}

func (e *events) PeerStateChanged(string, peer.State) {}

func (e *events) PeerFailed(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, id)
}

func (e *events) RoomTitleChanged(title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.titles = append(e.titles, title)
}

func (e *events) sawStatus(s Status) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.statuses {
		if st == s {
			return true
		}
	}
	return false
}

type recorded struct {
	pending []string
	failed  []string
	streams []string
	titles  []string
}

func (e *events) snapshot() recorded {
	e.mu.Lock()
	defer e.mu.Unlock()
	return recorded{
		pending:  append([]string(nil), e.pending...),
		failed:   append([]string(nil), e.failed...),
		streams:  append([]string(nil), e.streams...),
		titles:   append([]string(nil), e.titles...),
	}
}

// displayProvider remembers the last screen capture it handed out.
type displayProvider struct {
	*media.SampleProvider
	mu      sync.Mutex
	display *media.Source
}

func (p *displayProvider) AcquireDisplay(ctx context.Context) (*media.Source, error) {
	src, err := p.SampleProvider.AcquireDisplay(ctx)
	if err == nil {
		p.mu.Lock()
		p.display = src
		p.mu.Unlock()
	}
	return src, err
}

func (p *displayProvider) lastDisplay() *media.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.display
}

type node struct {
	*Orchestrator
	events   *events
	factory  *peertest.Factory
	provider *displayProvider
}

type nodeOption func(*Config, *media.SampleOptions)

func withMedia(opts media.SampleOptions) nodeOption {
	return func(_ *Config, m *media.SampleOptions) { *m = opts }
}

func withMaxRetries(n int) nodeOption {
	return func(c *Config, _ *media.SampleOptions) { c.PeerMaxRetries = n }
}

func newNode(t *testing.T, bus *signaling.Bus, id string, autoConnect bool, opts ...nodeOption) *node {
	t.Helper()

	n := &node{events: &events{}, factory: peertest.NewFactory(autoConnect)}
	cfg := Config{
		SelfID:            id,
		Transports:        []signaling.Transport{bus},
		Factory:           n.factory,
		Listener:          n.events,
		Logger:            logging.Discard(),
		PeerRetryDelay:    20 * time.Millisecond,
		PeerMaxRetries:    3,
		ReconnectBase:     time.Millisecond,
		ReconnectMax:      5 * time.Millisecond,
		ReconnectAttempts: 2,
	}
	var mediaOpts media.SampleOptions
	for _, opt := range opts {
		opt(&cfg, &mediaOpts)
	}
	n.provider = &displayProvider{SampleProvider: media.NewSampleProvider(mediaOpts)}
	cfg.Provider = n.provider

	n.Orchestrator = New(cfg)
	t.Cleanup(func() { n.Close() })
	return n
}

func host(t *testing.T, bus *signaling.Bus, id string, autoConnect bool, opts ...nodeOption) *node {
	t.Helper()
	n := newNode(t, bus, id, autoConnect, opts...)
	require.NoError(t, n.Join(context.Background(), JoinOptions{RoomID: testRoom, Name: "Host", Host: true, Title: "Standup"}))
	return n
}

func joiner(t *testing.T, bus *signaling.Bus, id, name string, autoConnect bool, opts ...nodeOption) *node {
	t.Helper()
	n := newNode(t, bus, id, autoConnect, opts...)
	require.NoError(t, n.Join(context.Background(), JoinOptions{RoomID: testRoom, Name: name}))
	return n
}

func (n *node) participant(id string) (Participant, bool) {
	for _, p := range n.Participants() {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (n *node) hasPending(id string) bool {
	for _, p := range n.Pending() {
		if p.ID == id {
			return true
		}
	}
	return false
}

// raw is a bare bus channel used to inject hand-made messages.
type raw struct {
	t  *testing.T
	ch signaling.Channel
	ts int64
}

func dialRaw(t *testing.T, bus *signaling.Bus) *raw {
	t.Helper()
	ch, err := bus.Dial(context.Background(), testRoom)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return &raw{t: t, ch: ch, ts: time.Now().UnixMilli()}
}

// send injects a message with an explicit timestamp; zero means "next".
func (r *raw) send(msgType, from, to string, payload any, ts int64) {
	r.t.Helper()
	msg, err := signaling.NewMessage(msgType, to, payload)
	require.NoError(r.t, err)
	if ts == 0 {
		r.ts++
		ts = r.ts
	}
	msg.From, msg.Timestamp = from, ts
	require.NoError(r.t, r.ch.Send(context.Background(), msg))
}

// next returns the next message of msgType addressed to to.
func (r *raw) next(msgType, to string) *signaling.Message {
	r.t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case msg := <-r.ch.Messages():
			if msg.Type == msgType && msg.To == to {
				return msg
			}
		case <-timeout:
			r.t.Fatalf("no %s to %s", msgType, to)
			return nil
		}
	}
}

func admitted(t *testing.T, h *node, joiners ...*node) {
	t.Helper()
	for _, j := range joiners {
		require.Eventually(t, func() bool { return h.hasPending(j.SelfID()) }, wait, tick)
		require.NoError(t, h.Admit(j.SelfID()))
	}
}

func connected(t *testing.T, nodes ...*node) {
	t.Helper()
	for _, n := range nodes {
		require.Eventually(t, func() bool { return n.Status() == StatusConnected }, wait, tick, n.SelfID())
	}
}

func TestJoinRequestAdmitScenario(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false)
	assert.Equal(t, StatusWaitingParticipants, h.Status())

	p := joiner(t, bus, "p1", "Alice", false)
	assert.Equal(t, StatusWaitingApproval, p.Status())

	require.Eventually(t, func() bool { return len(h.Pending()) == 1 }, wait, tick)
	pending := h.Pending()[0]
	assert.Equal(t, "p1", pending.ID)
	assert.Equal(t, "Alice", pending.Name)

	require.NoError(t, h.Admit("p1"))
	assert.Empty(t, h.Pending())

	require.Eventually(t, func() bool { return p.Status() == StatusConnecting }, wait, tick)

	participants := h.Participants()
	require.Len(t, participants, 1)
	assert.Equal(t, "p1", participants[0].ID)
	assert.Equal(t, "Alice", participants[0].Name)
	assert.True(t, participants[0].AudioEnabled)
	assert.True(t, participants[0].VideoEnabled)

	hostView, ok := p.participant("h")
	require.True(t, ok)
	assert.True(t, hostView.IsHost)
	assert.Equal(t, "Host", hostView.Name)
	assert.Equal(t, "Standup", p.Title())
	assert.Equal(t, []string{"Standup"}, p.events.snapshot().titles)

	// the host's offer is answered
	require.Eventually(t, func() bool {
		return h.ConnectionStates()["p1"] == peer.StateRemoteDescSet
	}, wait, tick)
	assert.Equal(t, peer.StateRemoteDescSet, p.ConnectionStates()["h"])

	assert.ErrorIs(t, h.Admit("p1"), ErrUnknownParticipant)
}

func TestAdmitAllConnectsEveryone(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	p1 := joiner(t, bus, "p1", "Alice", true)
	p2 := joiner(t, bus, "p2", "Bob", true)

	require.Eventually(t, func() bool { return len(h.Pending()) == 2 }, wait, tick)
	require.NoError(t, h.AdmitAll())
	connected(t, h, p1, p2)

	assert.Len(t, h.Participants(), 2)
	assert.Empty(t, h.Pending())
	require.Eventually(t, func() bool {
		states := h.ConnectionStates()
		return len(states) == 2 && states["p1"] == peer.StateConnected && states["p2"] == peer.StateConnected
	}, wait, tick)

	// p1 learns about p2 from the broadcast, and the other way round
	// depending on admission order
	require.Eventually(t, func() bool {
		_, ok := p1.participant("p2")
		return ok
	}, wait, tick)
	assert.Len(t, p1.ConnectionStates(), 1, "joiners only connect to the host")
	assert.Contains(t, p1.events.snapshot().streams, "h")

	for _, id := range []string{"p1", "p2"} {
		assert.Len(t, h.factory.Conns(id), 1, "one session per participant")
	}
}

func TestRejectIsFinal(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false)
	p := joiner(t, bus, "p1", "Alice", false)

	require.Eventually(t, func() bool { return h.hasPending("p1") }, wait, tick)
	require.NoError(t, h.Reject("p1"))
	require.Eventually(t, func() bool { return p.Status() == StatusRejected }, wait, tick)
	assert.Equal(t, 0, p.provider.Active(), "rejected joiner releases media")

	r := dialRaw(t, bus)
	r.send(signaling.TypeJoinRequest, "p1", signaling.Broadcast, signaling.JoinRequestPayload{ParticipantID: "p1", ParticipantName: "Alice"}, time.Now().Add(time.Minute).UnixMilli())
	r.send(signaling.TypeJoinRequest, "p2", signaling.Broadcast, signaling.JoinRequestPayload{ParticipantID: "p2", ParticipantName: "Bob"}, 0)

	// p2's request arrives after p1's resend on the same channel
	require.Eventually(t, func() bool { return h.hasPending("p2") }, wait, tick)
	assert.False(t, h.hasPending("p1"))
	_, ok := h.participant("p1")
	assert.False(t, ok)
	assert.ErrorIs(t, h.Admit("p1"), ErrUnknownParticipant)
	assert.Equal(t, []string{"p1", "p2"}, h.events.snapshot().pending)
}

func TestRejectedParticipantCannotBeAnnounced(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false)
	r := dialRaw(t, bus)

	r.send(signaling.TypeJoinRequest, "p1", signaling.Broadcast, signaling.JoinRequestPayload{ParticipantID: "p1", ParticipantName: "Alice"}, 0)
	require.Eventually(t, func() bool { return h.hasPending("p1") }, wait, tick)
	require.NoError(t, h.Reject("p1"))
	r.next(signaling.TypeJoinRejected, "p1")

	r.send(signaling.TypeParticipantJoined, "p9", signaling.Broadcast, signaling.ParticipantJoinedPayload{ParticipantID: "p1", ParticipantName: "Alice"}, 0)
	r.send(signaling.TypeRoomCreated, "p9", signaling.Broadcast, signaling.RoomCreatedPayload{RoomTitle: "marker"}, 0)
	require.Eventually(t, func() bool { return h.Title() == "marker" }, wait, tick)

	_, ok := h.participant("p1")
	assert.False(t, ok, "rejected id stays out of the room")
	assert.Empty(t, h.factory.Conns("p1"), "no session to a rejected id")
	assert.Equal(t, StatusWaitingParticipants, h.Status())
}

func TestDuplicateJoinRequestsAreIgnored(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false)
	r := dialRaw(t, bus)

	req := signaling.JoinRequestPayload{ParticipantID: "p1", ParticipantName: "Alice"}
	r.send(signaling.TypeJoinRequest, "p1", signaling.Broadcast, req, 0)
	r.send(signaling.TypeJoinRequest, "p1", signaling.Broadcast, req, 0)
	r.send(signaling.TypeJoinRequest, "p9", signaling.Broadcast, signaling.JoinRequestPayload{ParticipantName: "Zed"}, 0)

	require.Eventually(t, func() bool { return h.hasPending("p9") }, wait, tick)
	assert.Len(t, h.Pending(), 2)

	require.NoError(t, h.Admit("p1"))
	r.next(signaling.TypeJoinApproved, "p1")
	r.send(signaling.TypeJoinRequest, "p1", signaling.Broadcast, req, 0)
	r.send(signaling.TypeParticipantJoined, "p9", signaling.Broadcast, signaling.ParticipantJoinedPayload{ParticipantID: "p1", ParticipantName: "Alice"}, 0)
	r.send(signaling.TypeMediaStateChanged, "p9", signaling.Broadcast, signaling.MediaStatePayload{ParticipantID: "p9"}, 0)

	r.send(signaling.TypeRoomCreated, "p9", signaling.Broadcast, signaling.RoomCreatedPayload{RoomTitle: "marker"}, 0)
	require.Eventually(t, func() bool { return h.Title() == "marker" }, wait, tick)

	assert.Len(t, h.Participants(), 1)
	assert.Equal(t, []string{"p9"}, func() []string {
		var ids []string
		for _, p := range h.Pending() {
			ids = append(ids, p.ID)
		}
		return ids
	}())
	assert.Len(t, h.factory.Conns("p1"), 1)
}

func TestMediaStateChangeScenario(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	p1 := joiner(t, bus, "p1", "Alice", true)
	p2 := joiner(t, bus, "p2", "Bob", true)
	admitted(t, h, p1, p2)
	connected(t, h, p1, p2)
	require.Eventually(t, func() bool {
		_, ok := p2.participant("p1")
		return ok
	}, wait, tick)

	video, err := p1.ToggleVideo()
	require.NoError(t, err)
	assert.False(t, video)
	assert.False(t, p1.MediaState().Video)

	require.Eventually(t, func() bool {
		p, _ := p2.participant("p1")
		return !p.VideoEnabled && p.AudioEnabled
	}, wait, tick)
	require.Eventually(t, func() bool {
		p, _ := h.participant("p1")
		return !p.VideoEnabled
	}, wait, tick)

	audio, err := p1.ToggleAudio()
	require.NoError(t, err)
	assert.False(t, audio)
	require.Eventually(t, func() bool {
		p, _ := h.participant("p1")
		return !p.AudioEnabled
	}, wait, tick)

	// toggling never touches the sessions
	assert.Len(t, h.factory.Conns("p1"), 1)
	assert.Len(t, p1.factory.Conns("h"), 1)
	assert.Equal(t, 1, h.factory.Last("p1").Offers())
	assert.Equal(t, peer.StateConnected, h.ConnectionStates()["p1"])
	assert.Equal(t, peer.StateConnected, p1.ConnectionStates()["h"])
}

func TestReplayedMediaStateIsIgnored(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false)
	r := dialRaw(t, bus)

	r.send(signaling.TypeJoinRequest, "p1", signaling.Broadcast, signaling.JoinRequestPayload{ParticipantName: "Alice"}, 100)
	require.Eventually(t, func() bool { return h.hasPending("p1") }, wait, tick)
	require.NoError(t, h.Admit("p1"))

	off := signaling.MediaStatePayload{ParticipantID: "p1", IsAudioEnabled: true, IsVideoEnabled: false}
	on := signaling.MediaStatePayload{ParticipantID: "p1", IsAudioEnabled: true, IsVideoEnabled: true}
	r.send(signaling.TypeMediaStateChanged, "p1", signaling.Broadcast, off, 200)
	r.send(signaling.TypeMediaStateChanged, "p1", signaling.Broadcast, on, 200)
	r.send(signaling.TypeMediaStateChanged, "p1", signaling.Broadcast, on, 150)
	r.send(signaling.TypeRoomCreated, "p1", signaling.Broadcast, signaling.RoomCreatedPayload{RoomTitle: "marker"}, 201)

	require.Eventually(t, func() bool { return h.Title() == "marker" }, wait, tick)
	p, ok := h.participant("p1")
	require.True(t, ok)
	assert.False(t, p.VideoEnabled)
	assert.True(t, p.AudioEnabled)
}

func TestScreenShareReplacesTracksInPlace(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	p1 := joiner(t, bus, "p1", "Alice", true)
	p2 := joiner(t, bus, "p2", "Bob", true)
	admitted(t, h, p1, p2)
	connected(t, h, p1, p2)

	sharing, err := h.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)
	assert.True(t, h.MediaState().ScreenSharing)

	display := h.provider.lastDisplay()
	require.NotNil(t, display)
	for _, id := range []string{"p1", "p2"} {
		conn := h.factory.Last(id)
		assert.Equal(t, 1, conn.Replaced(), id)
		assert.Same(t, display.Video, conn.Tracks()[1], id)
		assert.Equal(t, 1, conn.Offers(), "no renegotiation")
		assert.Len(t, h.factory.Conns(id), 1)
	}

	// capture ending on its own restores the camera
	display.End()
	require.Eventually(t, func() bool { return !h.MediaState().ScreenSharing }, wait, tick)
	for _, id := range []string{"p1", "p2"} {
		conn := h.factory.Last(id)
		assert.Equal(t, 2, conn.Replaced(), id)
		assert.NotSame(t, display.Video, conn.Tracks()[1], id)
	}
	assert.True(t, display.Released())
}

func TestScreenShareToleratesPartialFailure(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	h.factory.ReplaceErr = map[string]error{"p1": errors.New("sender gone")}
	p1 := joiner(t, bus, "p1", "Alice", true)
	p2 := joiner(t, bus, "p2", "Bob", true)
	admitted(t, h, p1, p2)
	connected(t, h, p1, p2)

	sharing, err := h.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.True(t, sharing)
	assert.Equal(t, 0, h.factory.Last("p1").Replaced())
	assert.Equal(t, 1, h.factory.Last("p2").Replaced())

	sharing, err = h.ToggleScreenShare(context.Background())
	require.NoError(t, err)
	assert.False(t, sharing)
	assert.Equal(t, 2, h.factory.Last("p2").Replaced())
}

func TestScreenShareBeforeSessionsExist(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)

	_, err := h.ToggleScreenShare(context.Background())
	require.NoError(t, err)

	p1 := joiner(t, bus, "p1", "Alice", true)
	admitted(t, h, p1)
	connected(t, h, p1)

	conn := h.factory.Last("p1")
	assert.Same(t, h.provider.lastDisplay().Video, conn.Tracks()[1], "new sessions pick up the screen")
	assert.Equal(t, 0, conn.Replaced())
}

func TestFailedPeerIsRecreatedAsOfferer(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	p1 := joiner(t, bus, "p1", "Alice", true)
	admitted(t, h, p1)
	connected(t, h, p1)

	first := h.factory.Last("p1")
	first.EmitState(webrtc.PeerConnectionStateFailed)

	require.Eventually(t, func() bool { return len(h.factory.Conns("p1")) == 2 }, wait, tick)
	assert.True(t, first.Closed(), "old session closed before the new offer")
	second := h.factory.Last("p1")
	assert.Equal(t, 1, second.Offers())
	assert.Len(t, h.ConnectionStates(), 1)

	require.Eventually(t, func() bool { return h.ConnectionStates()["p1"] == peer.StateConnected }, wait, tick)
	// the joiner answered the new offer with a fresh session
	require.Eventually(t, func() bool { return len(p1.factory.Conns("h")) == 2 }, wait, tick)
	assert.True(t, p1.factory.Conns("h")[0].Closed())
}

func TestPeerFailedAfterMaxRetries(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false, withMaxRetries(2))
	p1 := joiner(t, bus, "p1", "Alice", false)
	admitted(t, h, p1)

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return len(h.factory.Conns("p1")) == i }, wait, tick)
		require.Eventually(t, func() bool {
			_, ok := h.ConnectionStates()["p1"]
			return ok
		}, wait, tick)
		h.factory.Last("p1").EmitState(webrtc.PeerConnectionStateFailed)
	}

	require.Eventually(t, func() bool { return len(h.events.snapshot().failed) == 1 }, wait, tick)
	assert.Equal(t, []string{"p1"}, h.events.snapshot().failed)
	assert.Empty(t, h.ConnectionStates())
	assert.Len(t, h.factory.Conns("p1"), 3)
	assert.Equal(t, StatusConnectionFailed, h.Status())

	_, stillMember := h.participant("p1")
	assert.True(t, stillMember, "membership is independent of the connection")
}

func TestLeaveScenario(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	p1 := joiner(t, bus, "p1", "Alice", true)
	admitted(t, h, p1)
	connected(t, h, p1)

	require.NoError(t, p1.Leave())
	assert.Equal(t, StatusDisconnected, p1.Status())
	assert.Empty(t, p1.ConnectionStates())
	assert.Empty(t, p1.Participants())
	assert.Equal(t, 0, p1.provider.Active(), "local media released")
	for _, conn := range p1.factory.Conns("h") {
		assert.True(t, conn.Closed())
	}

	require.Eventually(t, func() bool { return len(h.Participants()) == 0 }, wait, tick)
	assert.True(t, h.factory.Last("p1").Closed())
	assert.Empty(t, h.ConnectionStates())
	assert.Equal(t, StatusWaitingParticipants, h.Status())

	// a late answer from the departed participant is ignored
	r := dialRaw(t, bus)
	r.send(signaling.TypeAnswer, "p1", "h", signaling.AnswerPayload{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}}, time.Now().Add(time.Hour).UnixMilli())
	r.send(signaling.TypeICECandidate, "p1", "h", signaling.ICECandidatePayload{}, time.Now().Add(2*time.Hour).UnixMilli())
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, h.ConnectionStates())
	assert.Len(t, h.factory.Conns("p1"), 1)

	assert.ErrorIs(t, p1.Leave(), ErrNotJoined)

	summary := p1.Summary()
	assert.Equal(t, testRoom, summary.RoomID)
	assert.Equal(t, "Host", summary.Seen["h"])
}

func TestMediaDeniedStopsJoin(t *testing.T) {
	bus := signaling.NewBus()
	r := dialRaw(t, bus)
	n := newNode(t, bus, "p1", false, withMedia(media.SampleOptions{Deny: true}))

	err := n.Join(context.Background(), JoinOptions{RoomID: testRoom, Name: "Alice"})
	require.ErrorIs(t, err, ErrMediaDenied)
	assert.Equal(t, StatusMediaDenied, n.Status())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, r.ch.Messages(), "no join attempted")
}

func TestAudioOnlyFallback(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	p := joiner(t, bus, "p1", "Alice", true, withMedia(media.SampleOptions{NoVideo: true}))

	assert.True(t, p.events.sawStatus(StatusAudioOnly))
	ms := p.MediaState()
	assert.True(t, ms.AudioOnly)
	assert.True(t, ms.Audio)
	assert.False(t, ms.Video)

	_, err := p.ToggleVideo()
	assert.ErrorIs(t, err, ErrVideoUnavailable)

	admitted(t, h, p)
	connected(t, h, p)
	assert.Len(t, p.factory.Last("h").Tracks(), 1, "audio only")
	require.Eventually(t, func() bool {
		participant, _ := h.participant("p1")
		return !participant.VideoEnabled
	}, wait, tick)
}

func TestParticipantJoinedCountsAsApproval(t *testing.T) {
	bus := signaling.NewBus()
	r := dialRaw(t, bus)
	p := joiner(t, bus, "p1", "Alice", false)
	r.next(signaling.TypeJoinRequest, signaling.Broadcast)

	r.send(signaling.TypeParticipantJoined, "h", signaling.Broadcast, signaling.ParticipantJoinedPayload{ParticipantID: "p1", ParticipantName: "Alice"}, 0)
	require.Eventually(t, func() bool { return p.Status() == StatusConnecting }, wait, tick)

	hostView, ok := p.participant("h")
	require.True(t, ok)
	assert.True(t, hostView.IsHost)
	assert.Equal(t, peer.StateIdle, p.ConnectionStates()["h"])
}

func TestOfferCollision(t *testing.T) {
	offer := signaling.OfferPayload{Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "theirs"}}

	t.Run("smaller id keeps its offer", func(t *testing.T) {
		bus := signaling.NewBus()
		h := host(t, bus, "a", false)
		r := dialRaw(t, bus)
		r.send(signaling.TypeJoinRequest, "b", signaling.Broadcast, signaling.JoinRequestPayload{ParticipantName: "B"}, 0)
		require.Eventually(t, func() bool { return h.hasPending("b") }, wait, tick)
		require.NoError(t, h.Admit("b"))
		r.next(signaling.TypeOffer, "b")

		candidate := func(c string) signaling.ICECandidatePayload {
			return signaling.ICECandidatePayload{Candidate: webrtc.ICECandidateInit{Candidate: c}}
		}
		r.send(signaling.TypeOffer, "b", "a", offer, 0)
		r.send(signaling.TypeICECandidate, "b", "a", candidate("candidate:abandoned"), 0)
		r.send(signaling.TypeRoomCreated, "b", signaling.Broadcast, signaling.RoomCreatedPayload{RoomTitle: "marker"}, 0)
		require.Eventually(t, func() bool { return h.Title() == "marker" }, wait, tick)

		assert.Len(t, h.factory.Conns("b"), 1)
		assert.Equal(t, peer.StateAnswerPending, h.ConnectionStates()["b"])

		answer := signaling.AnswerPayload{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}}
		r.send(signaling.TypeAnswer, "b", "a", answer, 0)
		r.send(signaling.TypeICECandidate, "b", "a", candidate("candidate:answer"), 0)
		require.Eventually(t, func() bool { return len(h.factory.Last("b").Applied()) == 1 }, wait, tick)
		assert.Equal(t, "candidate:answer", h.factory.Last("b").Applied()[0].Candidate, "candidates of the ignored offer are dropped")
	})

	t.Run("larger id answers", func(t *testing.T) {
		bus := signaling.NewBus()
		h := host(t, bus, "z", false)
		r := dialRaw(t, bus)
		r.send(signaling.TypeJoinRequest, "b", signaling.Broadcast, signaling.JoinRequestPayload{ParticipantName: "B"}, 0)
		require.Eventually(t, func() bool { return h.hasPending("b") }, wait, tick)
		require.NoError(t, h.Admit("b"))
		r.next(signaling.TypeOffer, "b")

		r.send(signaling.TypeOffer, "b", "z", offer, 0)
		answer := r.next(signaling.TypeAnswer, "b")
		assert.Equal(t, "z", answer.From)

		conns := h.factory.Conns("b")
		require.Len(t, conns, 2)
		assert.True(t, conns[0].Closed())
		assert.Equal(t, "theirs", conns[1].Remote().SDP)
		assert.Len(t, h.ConnectionStates(), 1)
	})
}

func TestCommandErrors(t *testing.T) {
	bus := signaling.NewBus()
	n := newNode(t, bus, "p1", false)

	assert.ErrorIs(t, n.Admit("x"), ErrNotJoined)
	_, err := n.ToggleAudio()
	assert.ErrorIs(t, err, ErrNotJoined)
	assert.ErrorIs(t, n.Join(context.Background(), JoinOptions{RoomID: "bad room!"}), ErrInvalidRoomID)

	require.NoError(t, n.Join(context.Background(), JoinOptions{RoomID: testRoom, Name: "Alice"}))
	assert.ErrorIs(t, n.Join(context.Background(), JoinOptions{RoomID: testRoom}), ErrAlreadyJoined)

	var roomErr *Error
	err = n.Reject("x")
	require.ErrorAs(t, err, &roomErr)
	assert.Equal(t, "reject", roomErr.Op)
	assert.ErrorIs(t, err, ErrNotJoined, "a waiting joiner is not in the room yet")
}

func TestJoinerCannotAdmit(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false)
	p := joiner(t, bus, "p1", "Alice", false)
	admitted(t, h, p)
	require.Eventually(t, func() bool { return p.Status() == StatusConnecting }, wait, tick)

	assert.ErrorIs(t, p.Admit("x"), ErrNotHost)
	assert.ErrorIs(t, p.AdmitAll(), ErrNotHost)
	assert.ErrorIs(t, p.RejectAll(), ErrNotHost)
}

func TestRejectAll(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", false)
	p1 := joiner(t, bus, "p1", "Alice", false)
	p2 := joiner(t, bus, "p2", "Bob", false)

	require.Eventually(t, func() bool { return len(h.Pending()) == 2 }, wait, tick)
	require.NoError(t, h.RejectAll())
	assert.Empty(t, h.Pending())
	assert.Empty(t, h.Participants())
	for _, p := range []*node{p1, p2} {
		require.Eventually(t, func() bool { return p.Status() == StatusRejected }, wait, tick)
	}
}

func TestHostLeavingDisconnectsJoiner(t *testing.T) {
	bus := signaling.NewBus()
	h := host(t, bus, "h", true)
	p := joiner(t, bus, "p1", "Alice", true)
	admitted(t, h, p)
	connected(t, h, p)

	require.NoError(t, h.Leave())
	require.Eventually(t, func() bool { return p.Status() == StatusDisconnected }, wait, tick)
	assert.Empty(t, p.ConnectionStates())
}

type downTransport struct{}

func (downTransport) Name() string { return "relay" }

func (downTransport) Dial(context.Context, string) (signaling.Channel, error) {
	return nil, signaling.ErrUnavailable
}

func TestSignalingUnavailableStatus(t *testing.T) {
	n := New(Config{
		SelfID:            "p1",
		Transports:        []signaling.Transport{downTransport{}},
		Provider:          media.NewSampleProvider(media.SampleOptions{}),
		Factory:           peertest.NewFactory(false),
		Logger:            logging.Discard(),
		ReconnectBase:     time.Millisecond,
		ReconnectMax:      2 * time.Millisecond,
		ReconnectAttempts: 2,
	})
	defer n.Close()

	require.NoError(t, n.Join(context.Background(), JoinOptions{RoomID: testRoom, Name: "Alice"}))
	require.Eventually(t, func() bool { return n.Status() == StatusSignalingUnavailable }, wait, tick)
}
