package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// SampleOptions restricts what a SampleProvider can capture.
type SampleOptions struct {
	// NoVideo makes video capture fail, as on a machine without a camera.
	NoVideo bool
	// Deny makes every capture fail.
	Deny bool
	// NoDisplay makes screen capture fail.
	NoDisplay bool
}

// SampleProvider hands out sample-fed pion tracks (opus audio, VP8
// video). Whatever produces the encoded frames writes them with
// Track.WriteSample.
type SampleProvider struct {
	opts SampleOptions

	mu     sync.Mutex
	active map[string]*Source
}

func NewSampleProvider(opts SampleOptions) *SampleProvider {
	return &SampleProvider{opts: opts, active: make(map[string]*Source)}
}

func (p *SampleProvider) Acquire(ctx context.Context, c Constraints) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.opts.Deny {
		return nil, ErrPermissionDenied
	}
	if c.Video && p.opts.NoVideo {
		return nil, ErrVideoUnavailable
	}

	streamID := "warpmeet-" + uuid.NewString()

	var audio, video *Track
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID,
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		audio = newTrack(t)
	}
	if c.Video {
		t, err := newVideoTrack("video", streamID)
		if err != nil {
			return nil, err
		}
		video = t
	}

	src := newSource(streamID, audio, video, false)
	p.track(src)
	return src, nil
}

func (p *SampleProvider) AcquireDisplay(ctx context.Context) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.opts.Deny || p.opts.NoDisplay {
		return nil, ErrDisplayUnavailable
	}

	streamID := "warpmeet-screen-" + uuid.NewString()
	video, err := newVideoTrack("screen", streamID)
	if err != nil {
		return nil, err
	}

	src := newSource(streamID, nil, video, true)
	p.track(src)
	return src, nil
}

func (p *SampleProvider) Release(src *Source) {
	if src == nil || !src.released.CompareAndSwap(false, true) {
		return
	}
	src.End()

	p.mu.Lock()
	delete(p.active, src.ID)
	p.mu.Unlock()
}

// Active returns the number of acquired sources not yet released.
func (p *SampleProvider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *SampleProvider) track(src *Source) {
	p.mu.Lock()
	p.active[src.ID] = src
	p.mu.Unlock()
}

func newVideoTrack(id, streamID string) (*Track, error) {
	t, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", id, err)
	}
	return newTrack(t), nil
}
