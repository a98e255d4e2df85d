// Package relay is the websocket server clients use as their preferred
// signaling transport. It knows nothing about room semantics: every frame
// a client sends is forwarded to the other clients connected with the
// same room id.
package relay

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Hub owns every room and client. All state is managed by Run.
type Hub struct {
	rooms map[string]*room

	registerCh   chan *Client
	unregisterCh chan *Client
	broadcastCh  chan *envelope
	quit         chan struct{}
	done         chan struct{}

	roomCount   atomic.Int64
	clientCount atomic.Int64

	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:        make(map[string]*room),
		registerCh:   make(chan *Client),
		unregisterCh: make(chan *Client),
		broadcastCh:  make(chan *envelope, 256),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger,
	}
}

// Run is the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			for _, r := range h.rooms {
				for c := range r.clients {
					h.drop(r, c)
				}
			}
			return

		case c := <-h.registerCh:
			r, ok := h.rooms[c.RoomID]
			if !ok {
				r = newRoom(c.RoomID)
				h.rooms[c.RoomID] = r
				h.roomCount.Add(1)
				h.logger.Info().Str("room", r.id).Msg("room opened")
			}
			r.add(c)
			h.clientCount.Add(1)
			h.logger.Info().Str("client_id", c.ID).Str("room", r.id).Int("clients", len(r.clients)).Msg("client joined")

		case c := <-h.unregisterCh:
			if r, ok := h.rooms[c.RoomID]; ok {
				h.drop(r, c)
			}

		case env := <-h.broadcastCh:
			r, ok := h.rooms[env.client.RoomID]
			if !ok {
				continue
			}
			h.logger.Debug().
				Str("room", r.id).
				Str("client_id", env.client.ID).
				Str("type", env.msgType).
				Str("to", env.to).
				Msg("relaying")

			for _, slow := range r.forward(env.client, env.data) {
				h.logger.Warn().Str("client_id", slow.ID).Str("room", r.id).Msg("client too slow, disconnecting")
				h.drop(r, slow)
			}
		}
	}
}

// drop removes c from r, closes its send channel and deletes r once it is
// empty.
func (h *Hub) drop(r *room, c *Client) {
	if !r.remove(c) {
		return
	}
	close(c.send)
	h.clientCount.Add(-1)
	h.logger.Info().Str("client_id", c.ID).Str("room", r.id).Msg("client left")

	if r.empty() {
		delete(h.rooms, r.id)
		h.roomCount.Add(-1)
		h.logger.Info().Str("room", r.id).Msg("room closed")
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.registerCh <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.quit:
	}
}

func (h *Hub) forward(env *envelope) {
	select {
	case h.broadcastCh <- env:
	case <-h.quit:
	}
}

// Stop disconnects every client and waits for Run to return.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}

// Rooms returns the number of open rooms.
func (h *Hub) Rooms() int { return int(h.roomCount.Load()) }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.clientCount.Load()) }
