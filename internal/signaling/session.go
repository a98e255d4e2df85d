package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// maxSendFailures consecutive failed sends mark a channel as failed.
	maxSendFailures = 3

	sendQueueSize = 256
	sendTimeout   = 5 * time.Second
	flushTimeout  = 2 * time.Second
)

// State is the connectivity of a Session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	// StateUnavailable is reported once the reconnect attempts are
	// exhausted. The session keeps retrying at the capped interval.
	StateUnavailable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateUnavailable:
		return "unavailable"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	RoomID string
	SelfID string

	// Transports in preference order.
	Transports []Transport

	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	// OnMessage receives every message that passes the filters. It is
	// called from the session's goroutine and must not block.
	OnMessage func(*Message)

	// OnState reports connectivity changes with the active transport name.
	OnState func(state State, transport string)

	Logger *slog.Logger
}

// Session carries signaling messages for one participant of a room over
// the best available transport. It drops messages sent by the local
// participant, messages addressed to someone else and messages that are
// not newer than the last one processed from the same sender.
type Session struct {
	opts   Options
	logger *slog.Logger

	outgoing chan *Message

	tsMu   sync.Mutex
	lastTS int64

	// floor is the newest timestamp processed per sender; owned by run.
	floor map[string]int64

	transport atomic.Value // string

	ctx     context.Context
	cancel  context.CancelFunc
	closing chan struct{}
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

// NewSession creates a session. Nothing is dialed until Connect.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.OnMessage == nil {
		opts.OnMessage = func(*Message) {}
	}
	if opts.OnState == nil {
		opts.OnState = func(State, string) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts,
		logger:   logger.With("room", opts.RoomID),
		outgoing: make(chan *Message, sendQueueSize),
		floor:    make(map[string]int64),
		ctx:      ctx,
		cancel:   cancel,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.transport.Store("")
	return s
}

// Connect dials the first available transport in preference order. If
// none is reachable the error is returned, and the session keeps
// reconnecting in the background until Close. Messages sent in the
// meantime are queued.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(s.opts.Transports) == 0 {
		return ErrNoTransport
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.opts.OnState(StateConnecting, "")
	ch, idx, err := s.dialFrom(ctx, 0)

	go s.run(ch, idx)

	if err != nil {
		return err
	}
	return nil
}

// Send stamps msg with the local id and a fresh timestamp and queues it
// for delivery. It never blocks.
func (s *Session) Send(msg *Message) error {
	if s.closed.Load() {
		return ErrClosed
	}

	msg.From = s.opts.SelfID
	msg.Timestamp = s.nextTimestamp()

	select {
	case s.outgoing <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Transport returns the name of the active transport, or "" while
// reconnecting.
func (s *Session) Transport() string {
	return s.transport.Load().(string)
}

// Close flushes queued messages on a best-effort basis, closes the active
// channel and stops reconnecting.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.closing)

	if s.started.Load() {
		select {
		case <-s.done:
		case <-time.After(flushTimeout + time.Second):
			s.cancel()
			<-s.done
		}
	}
	s.cancel()

	var errs []error
	for _, t := range s.opts.Transports {
		if c, ok := t.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	s.opts.OnState(StateClosed, "")
	return errors.Join(errs...)
}

// nextTimestamp returns the current time in milliseconds, forced to be
// strictly greater than the previous one.
func (s *Session) nextTimestamp() int64 {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()

	ts := time.Now().UnixMilli()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// dialFrom tries every transport once, starting at index start and
// wrapping around.
func (s *Session) dialFrom(ctx context.Context, start int) (Channel, int, error) {
	n := len(s.opts.Transports)
	var errs []error
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		t := s.opts.Transports[idx]

		dialCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		ch, err := t.Dial(dialCtx, s.opts.RoomID)
		cancel()
		if err != nil {
			s.logger.Debug("transport unavailable", "transport", t.Name(), "error", err)
			errs = append(errs, err)
			continue
		}

		s.transport.Store(t.Name())
		s.logger.Info("signaling connected", "transport", t.Name())
		s.opts.OnState(StateConnected, t.Name())
		return ch, idx, nil
	}
	return nil, -1, fmt.Errorf("%w: %w", ErrNoTransport, errors.Join(errs...))
}

func (s *Session) run(ch Channel, idx int) {
	defer close(s.done)

	var carry *Message
	for {
		if ch == nil {
			ch, idx = s.reconnect()
			if ch == nil {
				return
			}
		}

		var err error
		carry, err = s.pump(ch, carry)
		ch.Close()
		if err == nil {
			return
		}

		failed := s.opts.Transports[idx].Name()
		s.logger.Warn("signaling channel failed", "transport", failed, "error", err)
		s.transport.Store("")
		s.opts.OnState(StateReconnecting, failed)

		// Fall back to the next transport in rank without replaying history.
		ch, idx, err = s.dialFrom(s.ctx, idx+1)
		if err != nil {
			ch = nil
		}
	}
}

// reconnect retries the whole ranked list with exponential backoff until a
// channel opens or the session closes. After ReconnectAttempts failures
// StateUnavailable is reported once and retries continue at the cap.
func (s *Session) reconnect() (Channel, int) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconnectBase
	b.MaxInterval = s.opts.ReconnectMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(b.NextBackOff())
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-timer.C:
		case <-s.closing:
			return nil, -1
		}

		ch, idx, err := s.dialFrom(s.ctx, 0)
		if err == nil {
			return ch, idx
		}

		if attempt == s.opts.ReconnectAttempts {
			s.logger.Error("signaling unavailable", "attempts", attempt, "error", err)
			s.opts.OnState(StateUnavailable, "")
		}
		timer.Reset(b.NextBackOff())
	}
}

// pump moves messages between the queue and ch. It returns nil when the
// session is closing and an error when ch has failed, together with the
// message that could not be sent.
func (s *Session) pump(ch Channel, carry *Message) (*Message, error) {
	if carry != nil {
		if err := s.sendWithRetry(ch, carry); err != nil {
			return carry, err
		}
	}

	for {
		select {
		case msg, ok := <-ch.Messages():
			if !ok {
				return nil, ErrChannelClosed
			}
			s.deliver(msg)

		case msg := <-s.outgoing:
			if err := s.sendWithRetry(ch, msg); err != nil {
				return msg, err
			}

		case <-s.closing:
			s.flush(ch)
			return nil, nil
		}
	}
}

func (s *Session) sendWithRetry(ch Channel, msg *Message) error {
	var err error
	for i := 0; i < maxSendFailures; i++ {
		ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
		err = ch.Send(ctx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrChannelClosed) {
			break
		}
		s.logger.Debug("send failed", "type", msg.Type, "attempt", i+1, "error", err)
	}
	return fmt.Errorf("send %s: %w", msg.Type, err)
}

func (s *Session) flush(ch Channel) {
	deadline := time.Now().Add(flushTimeout)
	for time.Now().Before(deadline) {
		select {
		case msg := <-s.outgoing:
			ctx, cancel := context.WithDeadline(s.ctx, deadline)
			err := ch.Send(ctx, msg)
			cancel()
			if err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) deliver(msg *Message) {
	if msg == nil || msg.From == "" || msg.From == s.opts.SelfID {
		return
	}
	if !msg.Addressed(s.opts.SelfID) {
		return
	}
	if msg.Timestamp <= s.floor[msg.From] {
		s.logger.Debug("dropping stale message", "type", msg.Type, "from", msg.From, "timestamp", msg.Timestamp)
		return
	}
	s.floor[msg.From] = msg.Timestamp
	s.opts.OnMessage(msg)
}
