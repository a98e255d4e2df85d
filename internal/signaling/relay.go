package signaling

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/warpmeet/internal/dns"
	"github.com/BioHazard786/warpmeet/internal/version"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// RelayTransport exchanges messages through the websocket room relay.
type RelayTransport struct {
	serverURL string
	dialer    *websocket.Dialer
}

// NewRelayTransport creates a transport for the relay at serverURL
// (e.g. wss://warpmeet.qzz.io/ws).
func NewRelayTransport(serverURL string) *RelayTransport {
	return &RelayTransport{
		serverURL: serverURL,
		dialer: &websocket.Dialer{
			NetDialContext:   dns.DialContext,
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (t *RelayTransport) Name() string { return TransportRelay }

// Dial joins roomID on the relay. A completed websocket handshake is the
// connectivity probe.
func (t *RelayTransport) Dial(ctx context.Context, roomID string) (Channel, error) {
	u, err := url.Parse(t.serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("%w: relay: %v", ErrUnavailable, err)
	}

	c := &relayChannel{
		conn:     conn,
		incoming: make(chan *Message, 64),
		outgoing: make(chan *Message, 64),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

type relayChannel struct {
	conn     *websocket.Conn
	incoming chan *Message
	outgoing chan *Message
	done     chan struct{}
	once     sync.Once
}

// readPump reads messages from the websocket until it fails or is closed.
func (c *relayChannel) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued messages and sends periodic pings.
func (c *relayChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued so a closing participant's last
// messages reach the relay.
func (c *relayChannel) flush() {
	for {
		select {
		case message := <-c.outgoing:
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *relayChannel) Send(ctx context.Context, msg *Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *relayChannel) Messages() <-chan *Message {
	return c.incoming
}

func (c *relayChannel) Close() error {
	c.shutdown()
	return nil
}

func (c *relayChannel) shutdown() {
	c.once.Do(func() { close(c.done) })
}
