package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/signaling"
)

// Compile-time interface checks.
var (
	_ Engine      = (*fakeEngine)(nil)
	_ Peer        = (*fakePeer)(nil)
	_ RemoteTrack = fakeTrack{}
)

// fakeEngine hands out fakePeers and records creation/close order.
type fakeEngine struct {
	mu      sync.Mutex
	peers   []*fakePeer
	log     []string
	failNew error

	// offerGate, when set, blocks CreateOffer until it is closed.
	offerGate chan struct{}
}

func (e *fakeEngine) NewPeer(events PeerEvents) (Peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failNew != nil {
		return nil, e.failNew
	}
	p := &fakePeer{engine: e, id: len(e.peers) + 1, events: events}
	e.peers = append(e.peers, p)
	e.log = append(e.log, fmt.Sprintf("new#%d", p.id))
	return p, nil
}

func (e *fakeEngine) record(entry string) {
	e.mu.Lock()
	e.log = append(e.log, entry)
	e.mu.Unlock()
}

func (e *fakeEngine) history() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func (e *fakeEngine) peer(i int) *fakePeer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.peers) {
		return nil
	}
	return e.peers[i]
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

// live returns the number of peers that have not been closed.
func (e *fakeEngine) live() int {
	e.mu.Lock()
	peers := append([]*fakePeer(nil), e.peers...)
	e.mu.Unlock()

	n := 0
	for _, p := range peers {
		if p.closeCount() == 0 {
			n++
		}
	}
	return n
}

// fakePeer mimics the ordering rules of a real peer connection: candidates
// and answers require a remote description.
type fakePeer struct {
	engine *fakeEngine
	id     int
	events PeerEvents

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closes     int
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	if gate := p.engine.offerGate; gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closes > 0 {
		return webrtc.SessionDescription{}, errors.New("peer closed")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.id)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote description")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.id)}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &desc
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if desc.SDP == "garbage" {
		return errors.New("unparseable sdp")
	}
	p.remote = &desc
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.engine.record(fmt.Sprintf("close#%d", p.id))
	return nil
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePeer) applied() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) descriptions() (local, remote *webrtc.SessionDescription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local, p.remote
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t fakeTrack) ID() string                { return t.id }
func (t fakeTrack) StreamID() string          { return "remote" }
func (t fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

// fakeStream is a local stream with one real audio track.
type fakeStream struct {
	tracks []webrtc.TrackLocal
}

func newFakeStream(t *testing.T) *fakeStream {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample failed: %v", err)
	}
	return &fakeStream{tracks: []webrtc.TrackLocal{audio}}
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return s.tracks }

// recordingSender captures every message the machine emits.
type recordingSender struct {
	ch  chan signaling.Message
	err error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan signaling.Message, 64)}
}

func (s *recordingSender) Send(msg signaling.Message) error {
	if s.err != nil {
		return s.err
	}
	s.ch <- msg
	return nil
}

func expectMessage(t *testing.T, s *recordingSender, want signaling.Type) signaling.Message {
	t.Helper()
	select {
	case msg := <-s.ch:
		if msg.Type() != want {
			t.Fatalf("expected %s, got %s (%+v)", want, msg.Type(), msg)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
	return nil
}

func expectNoMessage(t *testing.T, s *recordingSender) {
	t.Helper()
	select {
	case msg := <-s.ch:
		t.Fatalf("unexpected message: %s (%+v)", msg.Type(), msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func candidate(n int) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d 5000 typ host", n, n),
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

// newJoiningMachine returns a machine that has local media and is waiting
// in StateJoining.
func newJoiningMachine(t *testing.T, engine *fakeEngine) (*Machine, *recordingSender) {
	t.Helper()

	s := newRecordingSender()
	m := New(engine, s)
	t.Cleanup(func() { m.Close() })

	if err := m.BeginMediaAcquisition(); err != nil {
		t.Fatalf("BeginMediaAcquisition failed: %v", err)
	}
	if err := m.MediaAcquired(newFakeStream(t)); err != nil {
		t.Fatalf("MediaAcquired failed: %v", err)
	}
	if got := m.State(); got != StateJoining {
		t.Fatalf("expected joining, got %s", got)
	}
	return m, s
}
