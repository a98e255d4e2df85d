// Package media holds the local media source shared by every peer
// session: one audio track, an optional video track and the provider
// that acquires and releases them.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrPermissionDenied   = errors.New("media: permission denied")
	ErrVideoUnavailable   = errors.New("media: no video device")
	ErrDisplayUnavailable = errors.New("media: screen capture unavailable")
)

// Constraints selects which kinds of media to capture.
type Constraints struct {
	Audio bool
	Video bool
}

// Provider acquires capture sources. Release must be safe to call more
// than once.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) (*Source, error)
	AcquireDisplay(ctx context.Context) (*Source, error)
	Release(src *Source)
}

// Track is an outgoing track whose enabled flag is shared by every
// session it is attached to. Samples written while disabled are dropped,
// so muting never needs renegotiation.
type Track struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func newTrack(t *webrtc.TrackLocalStaticSample) *Track {
	track := &Track{TrackLocalStaticSample: t}
	track.enabled.Store(true)
	return track
}

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// WriteSample forwards s to every bound session unless the track is
// disabled.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(s)
}

// Source is a handle on captured media. Video is nil for audio-only
// sources and Audio is nil for display sources.
type Source struct {
	ID      string
	Audio   *Track
	Video   *Track
	Display bool

	ended    chan struct{}
	endOnce  sync.Once
	released atomic.Bool
}

func newSource(id string, audio, video *Track, display bool) *Source {
	return &Source{
		ID:      id,
		Audio:   audio,
		Video:   video,
		Display: display,
		ended:   make(chan struct{}),
	}
}

// Tracks returns the non-nil tracks, audio first.
func (s *Source) Tracks() []*Track {
	var tracks []*Track
	if s.Audio != nil {
		tracks = append(tracks, s.Audio)
	}
	if s.Video != nil {
		tracks = append(tracks, s.Video)
	}
	return tracks
}

// Ended is closed when capture stops on its own, e.g. the user stops
// sharing the screen from the system picker.
func (s *Source) Ended() <-chan struct{} { return s.ended }

// End marks the source as ended.
func (s *Source) End() {
	s.endOnce.Do(func() { close(s.ended) })
}

// Released reports whether the provider has released the source.
func (s *Source) Released() bool { return s.released.Load() }
