package signaling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	storeMaxMessages = 100
	storeMaxAge      = 24 * time.Hour
)

// StoreTransport is the local-only fallback. Each room is a msgpack file
// in dir holding the most recent messages, and channels poll it for
// entries they have not seen yet.
type StoreTransport struct {
	dir      string
	interval time.Duration
}

// NewStoreTransport creates a store under dir polled every interval.
func NewStoreTransport(dir string, interval time.Duration) *StoreTransport {
	return &StoreTransport{dir: dir, interval: interval}
}

func (t *StoreTransport) Name() string { return TransportStore }

// Dial starts polling from the current end of the log; older entries are
// not replayed.
func (t *StoreTransport) Dial(ctx context.Context, roomID string) (Channel, error) {
	if err := os.MkdirAll(t.dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: store: %v", ErrUnavailable, err)
	}

	path := filepath.Join(t.dir, roomID+".msgpack")
	log, err := readStoreLog(path)
	if errors.Is(err, errCorruptLog) {
		// The next write replaces it.
		log = &storeLog{}
	} else if err != nil {
		return nil, fmt.Errorf("%w: store: %v", ErrUnavailable, err)
	}

	c := &storeChannel{
		path:     path,
		interval: t.interval,
		lastSeq:  log.NextSeq,
		incoming: make(chan *Message, 64),
		done:     make(chan struct{}),
	}
	go c.poll()
	return c, nil
}

type storeEntry struct {
	Seq     uint64  `msgpack:"seq"`
	Stored  int64   `msgpack:"stored"`
	Message Message `msgpack:"message"`
}

type storeLog struct {
	NextSeq uint64       `msgpack:"next_seq"`
	Entries []storeEntry `msgpack:"entries"`
}

var errCorruptLog = errors.New("corrupt store log")

// storeLocks serializes writers to the same file within this process.
var storeLocks sync.Map

func lockFor(path string) *sync.Mutex {
	mu, _ := storeLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func readStoreLog(path string) (*storeLog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &storeLog{}, nil
	}
	if err != nil {
		return nil, err
	}

	var log storeLog
	if err := msgpack.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errCorruptLog, filepath.Base(path), err)
	}
	return &log, nil
}

// appendStoreLog adds msg, prunes old entries and rewrites the file
// atomically.
func appendStoreLog(path string, msg *Message) error {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	log, err := readStoreLog(path)
	if err != nil {
		// A corrupt log is replaced rather than blocking the room. The
		// sequence restarts above anything the old log could have held
		// so pollers already past it keep reading.
		log = &storeLog{NextSeq: uint64(now.UnixNano())}
	}
	log.NextSeq++
	log.Entries = append(log.Entries, storeEntry{
		Seq:     log.NextSeq,
		Stored:  now.UnixMilli(),
		Message: *msg,
	})

	cutoff := now.Add(-storeMaxAge).UnixMilli()
	kept := log.Entries[:0]
	for _, e := range log.Entries {
		if e.Stored >= cutoff {
			kept = append(kept, e)
		}
	}
	if len(kept) > storeMaxMessages {
		kept = kept[len(kept)-storeMaxMessages:]
	}
	log.Entries = kept

	data, err := msgpack.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode store log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".store-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type storeChannel struct {
	path     string
	interval time.Duration
	lastSeq  uint64
	incoming chan *Message
	done     chan struct{}
	once     sync.Once
}

func (c *storeChannel) poll() {
	defer close(c.incoming)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		log, err := readStoreLog(c.path)
		if err != nil {
			continue
		}
		if log.NextSeq < c.lastSeq {
			// The file was removed and started over.
			c.lastSeq = 0
		}
		for _, e := range log.Entries {
			if e.Seq <= c.lastSeq {
				continue
			}
			c.lastSeq = e.Seq
			msg := e.Message
			select {
			case c.incoming <- &msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *storeChannel) Send(ctx context.Context, msg *Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := appendStoreLog(c.path, msg); err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	return nil
}

func (c *storeChannel) Messages() <-chan *Message {
	return c.incoming
}

func (c *storeChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
