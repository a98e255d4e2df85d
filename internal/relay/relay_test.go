package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	go hub.Run()

	srv := httptest.NewServer(NewRouter(hub))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})
	return hub, srv.URL
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dial(t *testing.T, url, roomID string) signaling.Channel {
	t.Helper()
	ch, err := signaling.NewRelayTransport(wsURL(url)).Dial(context.Background(), roomID)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func receive(t *testing.T, ch signaling.Channel) *signaling.Message {
	t.Helper()
	select {
	case msg := <-ch.Messages():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message relayed")
		return nil
	}
}

func TestRelayForwardsWithinRoom(t *testing.T) {
	hub, url := startRelay(t)

	alice := dial(t, url, "blue-room")
	bob := dial(t, url, "blue-room")
	carol := dial(t, url, "red-room")
	require.Eventually(t, func() bool { return hub.Clients() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.Rooms())

	msg, err := signaling.NewMessage(signaling.TypeJoinRequest, signaling.Broadcast, signaling.JoinRequestPayload{
		ParticipantID:   "alice",
		ParticipantName: "Alice",
	})
	require.NoError(t, err)
	msg.From, msg.Timestamp = "alice", 42
	require.NoError(t, alice.Send(context.Background(), msg))

	got := receive(t, bob)
	assert.Equal(t, signaling.TypeJoinRequest, got.Type)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, int64(42), got.Timestamp)

	var payload signaling.JoinRequestPayload
	require.NoError(t, got.DecodeData(&payload))
	assert.Equal(t, "Alice", payload.ParticipantName)

	select {
	case m := <-carol.Messages():
		t.Fatalf("message leaked into another room: %+v", m)
	case m := <-alice.Messages():
		t.Fatalf("message echoed to sender: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRelayClosesEmptyRooms(t *testing.T) {
	hub, url := startRelay(t)

	ch, err := signaling.NewRelayTransport(wsURL(url)).Dial(context.Background(), "short-lived")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Rooms() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ch.Close())
	require.Eventually(t, func() bool { return hub.Rooms() == 0 && hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRelayRejectsInvalidRoom(t *testing.T) {
	_, url := startRelay(t)

	_, err := signaling.NewRelayTransport(wsURL(url)).Dial(context.Background(), "not a room")
	require.ErrorIs(t, err, signaling.ErrUnavailable)
}

func TestRelayDropsMalformedFrames(t *testing.T) {
	hub, url := startRelay(t)

	a := dial(t, url, "room")
	b := dial(t, url, "room")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	// a message without a type is not relayed; the next one is
	require.NoError(t, a.Send(context.Background(), &signaling.Message{From: "a"}))
	msg, err := signaling.NewMessage(signaling.TypeParticipantLeft, signaling.Broadcast, nil)
	require.NoError(t, err)
	msg.From = "a"
	require.NoError(t, a.Send(context.Background(), msg))

	assert.Equal(t, signaling.TypeParticipantLeft, receive(t, b).Type)
}

func TestHealth(t *testing.T) {
	hub, url := startRelay(t)
	dial(t, url, "room")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Rooms   int    `json:"rooms"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Rooms)
	assert.Equal(t, 1, body.Clients)
}

func TestSessionsOverRelay(t *testing.T) {
	_, url := startRelay(t)
	transport := signaling.NewRelayTransport(wsURL(url))

	received := make(chan *signaling.Message, 1)
	a := signaling.NewSession(signaling.Options{RoomID: "team-sync", SelfID: "a", Transports: []signaling.Transport{transport}})
	b := signaling.NewSession(signaling.Options{
		RoomID:     "team-sync",
		SelfID:     "b",
		Transports: []signaling.Transport{transport},
		OnMessage: func(m *signaling.Message) {
			select {
			case received <- m:
			default:
			}
		},
	})
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, b.Connect(context.Background()))
	defer a.Close()
	defer b.Close()
	assert.Equal(t, signaling.TransportRelay, a.Transport())

	// b may not be registered with the hub yet; resend until it is
	deadline := time.After(2 * time.Second)
	for {
		msg, err := signaling.NewMessage(signaling.TypeAnswer, "b", signaling.AnswerPayload{})
		require.NoError(t, err)
		require.NoError(t, a.Send(msg))
		select {
		case got := <-received:
			assert.Equal(t, "a", got.From)
			assert.Equal(t, signaling.TypeAnswer, got.Type)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("answer not delivered")
		}
	}
}

func TestServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, ln, zerolog.Nop()) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ch, err := signaling.NewRelayTransport(wsURL(url)).Dial(context.Background(), "room")
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("Serve did not return")
	}

	// the hub closed the websocket
	select {
	case _, ok := <-ch.Messages():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected")
	}
}
