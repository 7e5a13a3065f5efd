package negotiation

import (
	"github.com/pion/webrtc/v4"
)

// Peer is one native peer connection as seen by the machine. The machine is
// its only user.
type Peer interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerEvents are the callbacks a Peer fires from engine goroutines.
type PeerEvents struct {
	// OnICECandidate fires for every gathered local candidate. The end of
	// gathering is not reported.
	OnICECandidate func(candidate webrtc.ICECandidateInit)

	// OnTrack fires when a remote track starts arriving.
	OnTrack func(track RemoteTrack)

	// OnConnectionStateChange fires on every peer connection state change.
	OnConnectionStateChange func(state webrtc.PeerConnectionState)
}

// Engine creates peer connections.
type Engine interface {
	NewPeer(events PeerEvents) (Peer, error)
}

// RemoteTrack is the part of a remote track the machine needs to forward it.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// LocalStream is a captured set of local tracks. The session controller owns
// it; the machine only attaches its tracks to new peer connections.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
}
