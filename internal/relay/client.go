package relay

import (
	"encoding/json"
	"time"

	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP with many candidates

	sendBuffer = 256
)

// Client is a single websocket connection joined to one room.
type Client struct {
	ID     string
	RoomID string

	hub  *Hub
	conn *websocket.Conn

	// send is a buffered channel of outbound frames, drained by writePump.
	send chan []byte
}

func newClient(hub *Hub, conn *websocket.Conn, id, roomID string) *Client {
	return &Client{
		ID:     id,
		RoomID: roomID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
}

// readPump pumps frames from the websocket connection to the hub.
//
// There is at most one reader on a connection: all reads happen on this
// goroutine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("client_id", c.ID).Msg("read failed")
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.hub.logger.Debug().Str("client_id", c.ID).Msg("dropping malformed frame")
			continue
		}

		c.hub.forward(&envelope{client: c, data: data, msgType: msg.Type, to: msg.To})
	}
}

// writePump pumps frames from the hub to the websocket connection and
// keeps it alive with pings.
//
// There is at most one writer on a connection: all writes happen on this
// goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug().Err(err).Str("client_id", c.ID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
