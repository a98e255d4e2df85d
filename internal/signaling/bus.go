package signaling

import (
	"context"
	"sync"
)

const busBuffer = 256

// Bus is an in-process broadcast transport. Channels dialed on the same
// Bus and room see each other's messages. Delivery never blocks the
// sender: a subscriber whose buffer is full misses the message.
type Bus struct {
	mu    sync.RWMutex
	rooms map[string]map[*busChannel]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{rooms: make(map[string]map[*busChannel]struct{})}
}

func (b *Bus) Name() string { return TransportBus }

func (b *Bus) Dial(ctx context.Context, roomID string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &busChannel{
		bus:      b,
		roomID:   roomID,
		incoming: make(chan *Message, busBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[*busChannel]struct{})
		b.rooms[roomID] = members
	}
	members[c] = struct{}{}
	return c, nil
}

func (b *Bus) publish(from *busChannel, msg *Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.rooms[from.roomID][from]; !ok {
		return ErrChannelClosed
	}

	for c := range b.rooms[from.roomID] {
		if c == from {
			continue
		}
		m := *msg
		select {
		case c.incoming <- &m:
		default:
		}
	}
	return nil
}

func (b *Bus) leave(c *busChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[c.roomID]
	if !ok {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	close(c.incoming)
	if len(members) == 0 {
		delete(b.rooms, c.roomID)
	}
}

type busChannel struct {
	bus      *Bus
	roomID   string
	incoming chan *Message
}

func (c *busChannel) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.bus.publish(c, msg)
}

func (c *busChannel) Messages() <-chan *Message {
	return c.incoming
}

func (c *busChannel) Close() error {
	c.bus.leave(c)
	return nil
}
