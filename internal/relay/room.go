package relay

// room is the set of clients connected with the same room id. It is owned
// by the hub's loop.
type room struct {
	id      string
	clients map[*Client]struct{}
}

func newRoom(id string) *room {
	return &room{id: id, clients: make(map[*Client]struct{})}
}

func (r *room) add(c *Client) {
	r.clients[c] = struct{}{}
}

func (r *room) remove(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return true
}

func (r *room) empty() bool {
	return len(r.clients) == 0
}

// forward queues data on every client except the sender and returns the
// clients whose send buffer was full.
func (r *room) forward(from *Client, data []byte) []*Client {
	var slow []*Client
	for c := range r.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	return slow
}
