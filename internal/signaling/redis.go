package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BioHazard786/warpmeet/internal/dns"
	"github.com/redis/go-redis/v9"
)

// RedisTransport broadcasts room messages over redis pub/sub.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport creates a transport for the redis server at addr.
// No connection is made until Dial.
func NewRedisTransport(addr, password string) *RedisTransport {
	return &RedisTransport{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			Dialer:   dns.DialContext,
		}),
	}
}

func (t *RedisTransport) Name() string { return TransportRedis }

func roomChannel(roomID string) string {
	return "warpmeet:room:" + roomID + ":signaling"
}

// Dial pings the server and subscribes to the room's pub/sub channel.
func (t *RedisTransport) Dial(ctx context.Context, roomID string) (Channel, error) {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis: %v", ErrUnavailable, err)
	}

	name := roomChannel(roomID)
	sub := t.client.Subscribe(ctx, name)
	// Wait for the subscription confirmation so nothing published after
	// Dial returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("%w: redis subscribe: %v", ErrUnavailable, err)
	}

	c := &redisChannel{
		client:   t.client,
		sub:      sub,
		name:     name,
		incoming: make(chan *Message, 64),
		done:     make(chan struct{}),
	}
	go c.receive()
	return c, nil
}

// Close releases the redis connection pool.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisChannel struct {
	client   *redis.Client
	sub      *redis.PubSub
	name     string
	incoming chan *Message
	done     chan struct{}
	once     sync.Once
}

func (c *redisChannel) receive() {
	defer close(c.incoming)

	for {
		select {
		case rm, ok := <-c.sub.Channel():
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(rm.Payload), &msg); err != nil {
				continue
			}
			select {
			case c.incoming <- &msg:
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *redisChannel) Send(ctx context.Context, msg *Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.client.Publish(ctx, c.name, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (c *redisChannel) Messages() <-chan *Message {
	return c.incoming
}

func (c *redisChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.sub.Close()
	})
	return err
}
