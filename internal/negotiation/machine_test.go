package negotiation

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/signaling"
)

func TestOffererEmitsExactlyOneOffer(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}

	offer := expectMessage(t, s, signaling.TypeOffer).(signaling.Offer)
	if offer.SDP != "offer-1" {
		t.Errorf("unexpected offer sdp %q", offer.SDP)
	}

	// A second ready in the same attempt is rejected.
	if err := m.OnReady(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for repeated ready, got %v", err)
	}
	expectNoMessage(t, s)

	if m.State() != StateNegotiating || m.Role() != RoleOfferer {
		t.Errorf("expected negotiating/offerer, got %s/%s", m.State(), m.Role())
	}

	local, _ := engine.peer(0).descriptions()
	if local == nil || local.SDP != "offer-1" {
		t.Errorf("offer not stored as local description: %+v", local)
	}
	if got := len(engine.peer(0).tracks); got != 1 {
		t.Errorf("expected local track attached, got %d tracks", got)
	}
}

func TestReadyOnlyValidWhileJoining(t *testing.T) {
	s := newRecordingSender()
	m := New(&fakeEngine{}, s)
	defer m.Close()

	if err := m.OnReady(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before media, got %v", err)
	}
	expectNoMessage(t, s)
}

func TestAnswererRespondsToOffer(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "remote-offer"}); err != nil {
		t.Fatalf("OnRemoteMessage(offer) failed: %v", err)
	}

	answer := expectMessage(t, s, signaling.TypeAnswer).(signaling.Answer)
	if answer.SDP != "answer-1" {
		t.Errorf("unexpected answer sdp %q", answer.SDP)
	}

	local, remote := engine.peer(0).descriptions()
	if remote == nil || remote.Type != webrtc.SDPTypeOffer || remote.SDP != "remote-offer" {
		t.Errorf("offer not applied as remote description: %+v", remote)
	}
	if local == nil || local.SDP != "answer-1" {
		t.Errorf("answer not stored as local description: %+v", local)
	}
	if m.Role() != RoleAnswerer {
		t.Errorf("expected answerer, got %s", m.Role())
	}
	expectNoMessage(t, s)
}

func TestAnswerRequiresPendingOffer(t *testing.T) {
	engine := &fakeEngine{}

	t.Run("no handle", func(t *testing.T) {
		m, _ := newJoiningMachine(t, engine)
		if err := m.OnRemoteMessage(signaling.Answer{SDP: "x"}); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		if m.State() != StateJoining {
			t.Errorf("invalid answer should not change state, got %s", m.State())
		}
	})

	t.Run("answerer", func(t *testing.T) {
		m, s := newJoiningMachine(t, &fakeEngine{})
		if err := m.OnRemoteMessage(signaling.Offer{SDP: "o"}); err != nil {
			t.Fatalf("offer failed: %v", err)
		}
		expectMessage(t, s, signaling.TypeAnswer)
		if err := m.OnRemoteMessage(signaling.Answer{SDP: "x"}); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("answer applied once", func(t *testing.T) {
		m, s := newJoiningMachine(t, &fakeEngine{})
		if err := m.OnReady(); err != nil {
			t.Fatalf("OnReady failed: %v", err)
		}
		expectMessage(t, s, signaling.TypeOffer)
		if err := m.OnRemoteMessage(signaling.Answer{SDP: "a"}); err != nil {
			t.Fatalf("first answer failed: %v", err)
		}
		if err := m.OnRemoteMessage(signaling.Answer{SDP: "a"}); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState for second answer, got %v", err)
		}
	})
}

func TestCandidateBeforeOfferIsBuffered(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	early := candidate(1)
	if err := m.OnRemoteMessage(signaling.Candidate{Init: early}); err != nil {
		t.Fatalf("early candidate failed: %v", err)
	}
	if engine.count() != 0 {
		t.Fatal("a candidate must not create a peer connection")
	}

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "o"}); err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)

	got := engine.peer(0).applied()
	if len(got) != 1 || got[0].Candidate != early.Candidate {
		t.Fatalf("buffered candidate not applied after offer: %+v", got)
	}
}

func TestCandidateBeforeAnswerIsBuffered(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)

	if err := m.OnRemoteMessage(signaling.Candidate{Init: candidate(7)}); err != nil {
		t.Fatalf("candidate before answer failed: %v", err)
	}
	if n := len(engine.peer(0).applied()); n != 0 {
		t.Fatalf("candidate applied before remote description: %d", n)
	}

	if err := m.OnRemoteMessage(signaling.Answer{SDP: "a"}); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if n := len(engine.peer(0).applied()); n != 1 {
		t.Fatalf("expected buffered candidate applied after answer, got %d", n)
	}
}

func TestDuplicateCandidateIsNoop(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "o"}); err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)

	c := candidate(3)
	for i := 0; i < 2; i++ {
		if err := m.OnRemoteMessage(signaling.Candidate{Init: c}); err != nil {
			t.Fatalf("application %d failed: %v", i+1, err)
		}
	}

	if n := len(engine.peer(0).applied()); n != 1 {
		t.Fatalf("expected one applied candidate, got %d", n)
	}
	if m.State() != StateNegotiating {
		t.Errorf("state changed by duplicate candidate: %s", m.State())
	}
}

func TestDuplicateOfferIsNoop(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "same-offer"}); err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	answer := expectMessage(t, s, signaling.TypeAnswer).(signaling.Answer)
	if answer.SDP != "answer-1" {
		t.Fatalf("unexpected answer %q", answer.SDP)
	}

	if err := m.OnRemoteMessage(signaling.Candidate{Init: candidate(1)}); err != nil {
		t.Fatalf("candidate failed: %v", err)
	}

	// Redelivered offer.
	if err := m.OnRemoteMessage(signaling.Offer{SDP: "same-offer"}); err != nil {
		t.Fatalf("repeated offer failed: %v", err)
	}
	expectNoMessage(t, s)

	if n := engine.count(); n != 1 {
		t.Fatalf("repeated offer created a new connection: %d total", n)
	}
	if engine.peer(0).closeCount() != 0 {
		t.Fatal("repeated offer closed the current connection")
	}
	if n := len(engine.peer(0).applied()); n != 1 {
		t.Fatalf("applied candidates lost: got %d", n)
	}
	if m.State() != StateNegotiating || m.Role() != RoleAnswerer {
		t.Errorf("expected negotiating/answerer, got %s/%s", m.State(), m.Role())
	}

	// A different offer is still a renegotiation.
	if err := m.OnRemoteMessage(signaling.Offer{SDP: "other-offer"}); err != nil {
		t.Fatalf("new offer failed: %v", err)
	}
	if answer := expectMessage(t, s, signaling.TypeAnswer).(signaling.Answer); answer.SDP != "answer-2" {
		t.Fatalf("expected answer from a new connection, got %q", answer.SDP)
	}
}

func TestRenegotiationReplacesHandle(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "first"}); err != nil {
		t.Fatalf("first offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "second"}); err != nil {
		t.Fatalf("second offer failed: %v", err)
	}
	answer := expectMessage(t, s, signaling.TypeAnswer).(signaling.Answer)
	if answer.SDP != "answer-2" {
		t.Errorf("answer should come from the new connection, got %q", answer.SDP)
	}

	want := []string{"new#1", "close#1", "new#2"}
	if got := engine.history(); !reflect.DeepEqual(got, want) {
		t.Fatalf("handle lifecycle: got %v, want %v", got, want)
	}
	if live := engine.live(); live != 1 {
		t.Fatalf("expected exactly one live handle, got %d", live)
	}

	_, remote := engine.peer(1).descriptions()
	if remote == nil || remote.SDP != "second" {
		t.Errorf("second offer not applied to the new handle: %+v", remote)
	}
	_, oldRemote := engine.peer(0).descriptions()
	if oldRemote == nil || oldRemote.SDP != "first" {
		t.Errorf("old handle was mutated after replacement: %+v", oldRemote)
	}
}

func TestRenegotiationFromConnectedState(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "first"}); err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)

	engine.peer(0).events.OnTrack(fakeTrack{id: "v", kind: webrtc.RTPCodecTypeVideo})
	waitFor(t, "connected", func() bool { return m.State() == StateConnected })

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "again"}); err != nil {
		t.Fatalf("renegotiation offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)

	if m.State() != StateNegotiating {
		t.Errorf("expected negotiating after renegotiation, got %s", m.State())
	}
	if engine.peer(0).closeCount() != 1 || engine.live() != 1 {
		t.Errorf("old handle not released exactly once")
	}
}

func TestStaleCompletionsAreDropped(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "first"}); err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)
	old := engine.peer(0)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "second"}); err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)

	// Callbacks from the replaced connection must not leak through.
	old.events.OnICECandidate(candidate(9))
	old.events.OnTrack(fakeTrack{id: "old", kind: webrtc.RTPCodecTypeAudio})
	old.events.OnConnectionStateChange(webrtc.PeerConnectionStateFailed)

	expectNoMessage(t, s)
	if m.State() != StateNegotiating {
		t.Fatalf("stale callbacks changed state to %s", m.State())
	}
}

func TestLocalCandidatesSentExactlyOnce(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)

	p := engine.peer(0)
	p.events.OnICECandidate(candidate(1))
	p.events.OnICECandidate(candidate(2))
	p.events.OnICECandidate(candidate(1))

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		c := expectMessage(t, s, signaling.TypeCandidate).(signaling.Candidate)
		seen[c.Init.Candidate]++
	}
	expectNoMessage(t, s)

	if len(seen) != 2 {
		t.Fatalf("expected two distinct candidates, got %v", seen)
	}

	if err := m.OnICECandidateDiscovered(candidate(3)); err != nil {
		t.Fatalf("OnICECandidateDiscovered failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeCandidate)
}

func TestLocalCandidateSendFailureCloses(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)

	s.err = errors.New("relay hiccup")
	if err := m.OnICECandidateDiscovered(candidate(7)); err == nil {
		t.Fatal("expected an error when the candidate cannot be sent")
	}

	<-m.Done()
	if m.State() != StateClosed {
		t.Fatalf("expected closed after candidate send failure, got %s", m.State())
	}
	if m.Err() == nil {
		t.Fatal("expected the send failure to be recorded")
	}
	if engine.peer(0).closeCount() != 1 {
		t.Error("handle not released after candidate send failure")
	}
}

func TestLocalCandidateFromEngineSendFailureCloses(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)

	s.err = errors.New("relay hiccup")
	engine.peer(0).events.OnICECandidate(candidate(7))

	waitFor(t, "closed", func() bool { return m.State() == StateClosed })
	if m.Err() == nil {
		t.Fatal("expected the send failure to be recorded")
	}
}

func TestRemoteTrackConnects(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	var mu sync.Mutex
	var tracks []RemoteTrack
	m.OnRemoteTrack(func(tr RemoteTrack) {
		mu.Lock()
		tracks = append(tracks, tr)
		mu.Unlock()
	})

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)
	if err := m.OnRemoteMessage(signaling.Answer{SDP: "a"}); err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	engine.peer(0).events.OnTrack(fakeTrack{id: "video", kind: webrtc.RTPCodecTypeVideo})
	waitFor(t, "connected", func() bool { return m.State() == StateConnected })

	mu.Lock()
	defer mu.Unlock()
	if len(tracks) != 1 || tracks[0].ID() != "video" {
		t.Fatalf("remote track not forwarded: %v", tracks)
	}
}

func TestConnectionFailureCloses(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)

	engine.peer(0).events.OnConnectionStateChange(webrtc.PeerConnectionStateFailed)
	<-m.Done()

	if !errors.Is(m.Err(), ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", m.Err())
	}
	if engine.peer(0).closeCount() != 1 {
		t.Errorf("failed connection not released")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)

	if err := m.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if n := engine.peer(0).closeCount(); n != 1 {
		t.Fatalf("expected one release, got %d", n)
	}
	if m.State() != StateClosed || m.Err() != nil {
		t.Errorf("expected clean close, got %s / %v", m.State(), m.Err())
	}
	if err := m.OnRemoteMessage(signaling.Offer{SDP: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestCloseBeforeAnyHandle(t *testing.T) {
	m := New(&fakeEngine{}, newRecordingSender())

	if err := m.Close(); err != nil {
		t.Fatalf("Close from idle failed: %v", err)
	}
	<-m.Done()
	if m.State() != StateClosed {
		t.Fatalf("expected closed, got %s", m.State())
	}
}

func TestCloseWhileOfferPending(t *testing.T) {
	gate := make(chan struct{})
	engine := &fakeEngine{offerGate: gate}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	close(gate) // the offer completes after close
	expectNoMessage(t, s)

	if n := engine.peer(0).closeCount(); n != 1 {
		t.Fatalf("expected one release, got %d", n)
	}
}

func TestMediaAcquiredAfterClose(t *testing.T) {
	m := New(&fakeEngine{}, newRecordingSender())
	if err := m.BeginMediaAcquisition(); err != nil {
		t.Fatalf("BeginMediaAcquisition failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := m.MediaAcquired(newFakeStream(t)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for late capture, got %v", err)
	}
}

func TestMediaFailureClosesWithoutSending(t *testing.T) {
	engine := &fakeEngine{}
	s := newRecordingSender()
	m := New(engine, s)

	if err := m.BeginMediaAcquisition(); err != nil {
		t.Fatalf("BeginMediaAcquisition failed: %v", err)
	}
	err := m.MediaFailed(errors.New("permission denied"))
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("expected ErrMediaAcquisition, got %v", err)
	}

	<-m.Done()
	if !errors.Is(m.Err(), ErrMediaAcquisition) {
		t.Errorf("Err() = %v", m.Err())
	}
	if err := m.OnReady(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if engine.count() != 0 {
		t.Error("no peer connection may be created without local media")
	}
	expectNoMessage(t, s)
}

func TestPeerCreationFailureCloses(t *testing.T) {
	engine := &fakeEngine{failNew: errors.New("out of ports")}
	m, s := newJoiningMachine(t, engine)

	err := m.OnReady()
	if !errors.Is(err, ErrPeerConnectionCreation) {
		t.Fatalf("expected ErrPeerConnectionCreation, got %v", err)
	}
	<-m.Done()
	if m.State() != StateClosed {
		t.Errorf("expected closed, got %s", m.State())
	}
	expectNoMessage(t, s)
}

func TestBadRemoteOfferFails(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "garbage"}); err == nil {
		t.Fatal("expected error for unparseable offer")
	}
	<-m.Done()
	if engine.peer(0).closeCount() != 1 {
		t.Error("handle not released after failure")
	}
	expectNoMessage(t, s)
}

func TestSendFailureCloses(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)
	s.err = errors.New("relay gone")

	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}
	<-m.Done()
	if m.Err() == nil {
		t.Fatal("expected a recorded error after send failure")
	}
}

func TestPeerLeftReturnsToJoining(t *testing.T) {
	engine := &fakeEngine{}
	m, s := newJoiningMachine(t, engine)

	if err := m.OnRemoteMessage(signaling.Offer{SDP: "o"}); err != nil {
		t.Fatalf("offer failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeAnswer)

	if err := m.OnPeerLeft(); err != nil {
		t.Fatalf("OnPeerLeft failed: %v", err)
	}
	if m.State() != StateJoining || m.Role() != RoleNone {
		t.Fatalf("expected joining/none, got %s/%s", m.State(), m.Role())
	}
	if engine.live() != 0 {
		t.Fatal("handle not released on peer leave")
	}

	// The next participant to join makes this side the offerer.
	if err := m.OnReady(); err != nil {
		t.Fatalf("OnReady after leave failed: %v", err)
	}
	expectMessage(t, s, signaling.TypeOffer)
}

func TestStateObserverSeesTransitions(t *testing.T) {
	engine := &fakeEngine{}
	s := newRecordingSender()
	m := New(engine, s)
	defer m.Close()

	var mu sync.Mutex
	var got []State
	m.OnStateChange(func(tr Transition) {
		mu.Lock()
		got = append(got, tr.To)
		mu.Unlock()
	})

	if err := m.BeginMediaAcquisition(); err != nil {
		t.Fatal(err)
	}
	if err := m.MediaAcquired(newFakeStream(t)); err != nil {
		t.Fatal(err)
	}
	if err := m.OnReady(); err != nil {
		t.Fatal(err)
	}
	expectMessage(t, s, signaling.TypeOffer)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	want := []State{StateAwaitingLocalMedia, StateJoining, StateNegotiating, StateClosed}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("transitions: got %v, want %v", got, want)
	}
}

// linkedSender encodes each message, hands it to a pump goroutine and
// records its type.
type linkedSender struct {
	id  signaling.Identity
	out chan protocol.Envelope

	mu   sync.Mutex
	sent []signaling.Type
}

func (s *linkedSender) Send(msg signaling.Message) error {
	env, err := signaling.Encode(s.id, msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg.Type())
	s.mu.Unlock()
	s.out <- env
	return nil
}

func (s *linkedSender) types() []signaling.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]signaling.Type(nil), s.sent...)
}

// pump delivers envelopes to m without blocking the sending machine.
func pump(t *testing.T, in <-chan protocol.Envelope, m *Machine) {
	go func() {
		for env := range in {
			msg, err := signaling.Decode(env)
			if err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if err := m.OnRemoteMessage(msg); err != nil && !errors.Is(err, ErrClosed) {
				t.Errorf("deliver %s: %v", msg.Type(), err)
			}
		}
	}()
}

func TestTwoMachinesExchangeOneOfferAndAnswer(t *testing.T) {
	aliceOut := make(chan protocol.Envelope, 16)
	bobOut := make(chan protocol.Envelope, 16)
	alice := &linkedSender{id: signaling.Identity{Username: "alice", Room: "r"}, out: aliceOut}
	bob := &linkedSender{id: signaling.Identity{Username: "bob", Room: "r"}, out: bobOut}

	aliceEngine, bobEngine := &fakeEngine{}, &fakeEngine{}
	a := New(aliceEngine, alice)
	b := New(bobEngine, bob)
	defer func() {
		a.Close()
		b.Close()
		close(aliceOut)
		close(bobOut)
	}()

	for _, m := range []*Machine{a, b} {
		if err := m.BeginMediaAcquisition(); err != nil {
			t.Fatal(err)
		}
		if err := m.MediaAcquired(newFakeStream(t)); err != nil {
			t.Fatal(err)
		}
	}

	pump(t, aliceOut, b)
	pump(t, bobOut, a)

	// Bob joined second, so the relay signals ready to alice.
	if err := a.OnReady(); err != nil {
		t.Fatalf("OnReady failed: %v", err)
	}

	waitFor(t, "answer applied", func() bool {
		p := aliceEngine.peer(0)
		if p == nil {
			return false
		}
		_, remote := p.descriptions()
		return remote != nil
	})

	// Trickled candidates cross once the descriptions are in place.
	aliceEngine.peer(0).events.OnICECandidate(candidate(1))
	waitFor(t, "candidate applied", func() bool {
		p := bobEngine.peer(0)
		return p != nil && len(p.applied()) == 1
	})

	if got := alice.types(); !reflect.DeepEqual(got, []signaling.Type{signaling.TypeOffer, signaling.TypeCandidate}) {
		t.Errorf("alice sent %v", got)
	}
	if got := bob.types(); !reflect.DeepEqual(got, []signaling.Type{signaling.TypeAnswer}) {
		t.Errorf("bob sent %v", got)
	}
	if a.Role() != RoleOfferer || b.Role() != RoleAnswerer {
		t.Errorf("roles: alice %s, bob %s", a.Role(), b.Role())
	}
	if aliceEngine.count() != 1 || bobEngine.count() != 1 {
		t.Errorf("expected one connection per side, got %d/%d", aliceEngine.count(), bobEngine.count())
	}
}
