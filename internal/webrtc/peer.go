// Package webrtc binds the negotiation machine to pion: it creates
// PeerConnections with the configured ICE servers and captures the local
// audio/video stream.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/util"
)

var (
	_ negotiation.Engine      = (*Engine)(nil)
	_ negotiation.Peer        = (*peer)(nil)
	_ negotiation.RemoteTrack = (*webrtc.TrackRemote)(nil)
)

// Engine creates pion PeerConnections sharing one API instance.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewEngine builds an API with the default codecs and interceptors and
// pion's logs routed to the application logger.
func NewEngine(iceServers []webrtc.ICEServer) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

// NewPeer creates a PeerConnection and wires its callbacks to events.
func (e *Engine) NewPeer(events negotiation.PeerEvents) (negotiation.Peer, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || events.OnICECandidate == nil {
			return
		}
		events.OnICECandidate(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if events.OnTrack != nil {
			events.OnTrack(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if events.OnConnectionStateChange != nil {
			events.OnConnectionStateChange(state)
		}
	})

	return &peer{pc: pc}, nil
}

// peer adapts *webrtc.PeerConnection to negotiation.Peer.
type peer struct {
	pc *webrtc.PeerConnection
}

func (p *peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// Drain RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *peer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *peer) Close() error {
	return p.pc.Close()
}
