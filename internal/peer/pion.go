package peer

import (
	"fmt"
	"net"
	"strings"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PionFactory creates pion peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory registers the default codecs and interceptors and
// derives the ICE configuration from cfg.
func NewPionFactory(cfg *config.Config) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry)),
		config: ICEConfiguration(cfg, ShouldForceRelay()),
	}, nil
}

// ICEConfiguration builds the ICE server list. Relay-only policy is used
// when TURN is configured and either forceRelay or cfg.ForceRelay is set.
func ICEConfiguration(cfg *config.Config, forceRelay bool) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || forceRelay) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

func (f *PionFactory) NewConnection(remoteID string) (Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection for %s: %w", remoteID, err)
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) (TrackSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// RTCP must be read for interceptors like NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		fn(candidate.ToJSON())
	})
}

func (c *pionConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(fn)
}

// OnTrack reports remote tracks. The terminal console has nothing to
// render, so RTP is read and discarded to keep the receive buffers moving.
func (c *pionConnection) OnTrack(fn func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(RemoteTrack{ID: track.ID(), StreamID: track.StreamID(), Kind: track.Kind()})
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}

// ShouldForceRelay reports whether this machine looks like it sits behind
// a VPN or carrier-grade NAT, where direct paths rarely work.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if tunnelInterface(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && cgnatBlock.Contains(ipnet.IP) {
				return true
			}
		}
	}
	return false
}

// cgnatBlock is 100.64.0.0/10, used by carrier NAT, Tailscale and WARP.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func tunnelInterface(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}
