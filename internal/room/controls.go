package room

import (
	"context"

	"github.com/BioHazard786/warpmeet/internal/media"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// ToggleAudio flips the local audio flag and announces it. Sessions are
// untouched: the shared track drops samples while disabled.
func (o *Orchestrator) ToggleAudio() (bool, error) {
	var enabled bool
	err := o.exec(func() error {
		if o.source == nil {
			return NewError("toggle audio", ErrNotJoined)
		}
		o.audioEnabled = !o.audioEnabled
		if o.source.Audio != nil {
			o.source.Audio.SetEnabled(o.audioEnabled)
		}
		o.broadcastMediaState()
		enabled = o.audioEnabled
		return nil
	})
	return enabled, err
}

// ToggleVideo flips the local video flag and announces it.
func (o *Orchestrator) ToggleVideo() (bool, error) {
	var enabled bool
	err := o.exec(func() error {
		if o.source == nil {
			return NewError("toggle video", ErrNotJoined)
		}
		if o.source.Video == nil && !o.sharing {
			return NewError("toggle video", ErrVideoUnavailable)
		}
		o.videoEnabled = !o.videoEnabled
		if o.source.Video != nil {
			o.source.Video.SetEnabled(o.videoEnabled)
		}
		if o.display != nil {
			o.display.Video.SetEnabled(o.videoEnabled)
		}
		o.broadcastMediaState()
		enabled = o.videoEnabled
		return nil
	})
	return enabled, err
}

// ToggleScreenShare switches the outgoing video between the camera and a
// screen capture on every open session, without renegotiating. It
// returns whether sharing is now on.
func (o *Orchestrator) ToggleScreenShare(ctx context.Context) (bool, error) {
	var sharing bool
	err := o.exec(func() error {
		if o.source == nil {
			return NewError("screen share", ErrNotJoined)
		}
		sharing = o.sharing
		if sharing {
			o.stopScreenShare()
		}
		return nil
	})
	if err != nil || sharing {
		return false, err
	}

	display, err := o.cfg.Provider.AcquireDisplay(ctx)
	if err != nil {
		return false, WrapError("screen share", err, "display capture")
	}

	err = o.exec(func() error {
		if o.source == nil || o.sharing {
			o.cfg.Provider.Release(display)
			return NewError("screen share", ErrNotJoined)
		}
		o.display = display
		o.sharing = true
		o.replaceVideo(display.Video)
		go o.watchDisplay(display)
		return nil
	})
	return err == nil, err
}

// watchDisplay restores the camera when capture ends on its own.
func (o *Orchestrator) watchDisplay(display *media.Source) {
	<-display.Ended()
	o.post(func() {
		if o.display == display {
			o.logger.Info("screen share ended")
			o.stopScreenShare()
		}
	})
}

func (o *Orchestrator) stopScreenShare() {
	if !o.sharing {
		return
	}
	var camera webrtc.TrackLocal
	if o.source != nil && o.source.Video != nil {
		camera = o.source.Video
	}
	o.replaceVideo(camera)

	display := o.display
	o.display = nil
	o.sharing = false
	o.cfg.Provider.Release(display)
}

// replaceVideo swaps the outgoing video on every session. A failure on
// one session does not stop the others.
func (o *Orchestrator) replaceVideo(track webrtc.TrackLocal) {
	for id, s := range o.sessions {
		if err := s.ReplaceVideoTrack(track); err != nil {
			o.logger.Warn("replace video track failed", "peer", id, "error", err)
		}
	}
}

func (o *Orchestrator) broadcastMediaState() {
	o.listener.MediaStateChanged(o.selfID, o.audioEnabled, o.videoEnabled)
	if o.phase != phaseWaiting && o.phase != phaseInRoom {
		return
	}
	o.send(signaling.TypeMediaStateChanged, signaling.Broadcast, signaling.MediaStatePayload{
		ParticipantID:  o.selfID,
		IsAudioEnabled: o.audioEnabled,
		IsVideoEnabled: o.videoEnabled,
	})
}
