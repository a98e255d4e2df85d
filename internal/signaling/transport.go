package signaling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/warpmeet/internal/config"
)

// Transport opens best-effort message channels scoped to a room.
type Transport interface {
	// Name identifies the transport in logs and configuration.
	Name() string

	// Dial opens a channel for roomID. Networked transports probe their
	// backend before returning, so a nil error means the channel is usable.
	Dial(ctx context.Context, roomID string) (Channel, error)
}

// Channel is an open room channel. Messages may be lost, duplicated or
// reordered. The Messages channel is closed when the channel fails or is
// closed.
type Channel interface {
	Send(ctx context.Context, msg *Message) error
	Messages() <-chan *Message
	Close() error
}

// Transport names accepted in configuration.
const (
	TransportRelay = "relay"
	TransportRedis = "redis"
	TransportBus   = "bus"
	TransportStore = "store"
)

// processBus connects rooms opened within the same process.
var processBus = NewBus()

// NewTransports builds the ranked transport list named by cfg.Transports.
// The redis transport is skipped when no address is configured.
func NewTransports(cfg *config.Config, logger *slog.Logger) ([]Transport, error) {
	var transports []Transport
	for _, name := range cfg.Transports {
		switch name {
		case TransportRelay:
			transports = append(transports, NewRelayTransport(cfg.WebSocketURL))
		case TransportRedis:
			if cfg.RedisAddr == "" {
				logger.Debug("redis transport skipped, no address configured")
				continue
			}
			transports = append(transports, NewRedisTransport(cfg.RedisAddr, cfg.RedisPassword))
		case TransportBus:
			transports = append(transports, processBus)
		case TransportStore:
			transports = append(transports, NewStoreTransport(cfg.StoreDir, cfg.PollInterval))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
		}
	}
	if len(transports) == 0 {
		return nil, ErrNoTransport
	}
	return transports, nil
}
