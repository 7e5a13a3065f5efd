// Package negotiation implements the offer/answer/candidate state machine
// that brings one call session from "joined a room" to a connected peer
// connection.
//
// A Machine processes every operation on a single run goroutine. Public
// operations submit an event and wait for it to be handled; engine callbacks
// and description-generation completions are posted without waiting. A
// completion that targets a peer connection which has been replaced or
// closed in the meantime is dropped.
package negotiation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/util"
)

// Sender emits a signaling message to the remote participant.
type Sender interface {
	Send(msg signaling.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg signaling.Message) error

// Send implements Sender.
func (f SenderFunc) Send(msg signaling.Message) error { return f(msg) }

// handle is one live peer connection plus the negotiation bookkeeping that
// belongs to it. A new handle is created for every negotiation attempt.
type handle struct {
	epoch        uint64
	peer         Peer
	remoteSet    bool   // a remote description has been applied
	offerSDP     string // answerer: SDP of the offer this handle answers
	offerPending bool   // offerer: local offer applied, answer not yet received
}

// Machine owns the peer connection of one call session.
type Machine struct {
	engine Engine
	sender Sender

	inbox *mailbox
	done  chan struct{}

	// Owned by the run goroutine.
	state     State
	role      Role
	stream    LocalStream
	handle    *handle
	epoch     uint64
	remote    *candidateBook
	sentLocal map[uint64]struct{}

	mu       sync.RWMutex
	snapshot State
	snapRole Role
	reason   error
	onState  []func(Transition)
	onTrack  func(RemoteTrack)
}

// New creates a Machine in StateIdle. Peer connections are created through
// engine; outgoing messages go through sender. Close must eventually be
// called to release the run goroutine.
func New(engine Engine, sender Sender) *Machine {
	m := &Machine{
		engine:    engine,
		sender:    sender,
		inbox:     newMailbox(),
		done:      make(chan struct{}),
		remote:    newCandidateBook(),
		sentLocal: make(map[uint64]struct{}),
	}
	go m.run()
	return m
}

// ---------------------------------------------------------------------------
// Observers and accessors
// ---------------------------------------------------------------------------

// OnStateChange registers fn to be called after every state transition.
// Observers run on the machine goroutine and must not call back into the
// machine synchronously.
func (m *Machine) OnStateChange(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// OnRemoteTrack registers fn to receive remote tracks. The machine does not
// keep the track after handing it over.
func (m *Machine) OnRemoteTrack(fn func(RemoteTrack)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrack = fn
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Role returns the role of the current negotiation attempt.
func (m *Machine) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapRole
}

// Err returns the reason the machine closed, or nil if it closed normally
// or is still running.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Done is closed once the machine has reached StateClosed and stopped
// processing events.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// BeginMediaAcquisition moves Idle → AwaitingLocalMedia.
func (m *Machine) BeginMediaAcquisition() error {
	return m.call(m.beginMediaAcquisition)
}

// MediaAcquired attaches the captured stream and moves to Joining. It
// returns ErrClosed when the machine closed while capture was outstanding;
// the stream then stays with the caller.
func (m *Machine) MediaAcquired(stream LocalStream) error {
	return m.call(func() error { return m.mediaAcquired(stream) })
}

// MediaFailed closes the machine with ErrMediaAcquisition wrapping cause.
func (m *Machine) MediaFailed(cause error) error {
	return m.call(func() error { return m.mediaFailed(cause) })
}

// OnReady handles the relay's ready signal: this side becomes the offerer.
func (m *Machine) OnReady() error {
	return m.call(m.ready)
}

// OnRemoteMessage handles one decoded signaling message from the remote
// participant.
func (m *Machine) OnRemoteMessage(msg signaling.Message) error {
	return m.call(func() error { return m.remoteMessage(msg) })
}

// OnICECandidateDiscovered emits a local candidate of the current peer
// connection. The engine callbacks use the same path.
func (m *Machine) OnICECandidateDiscovered(c webrtc.ICECandidateInit) error {
	return m.call(func() error {
		if m.handle == nil {
			return m.invalid("local candidate")
		}
		return m.localCandidate(m.handle, c)
	})
}

// OnPeerLeft handles the remote participant leaving the room: the current
// peer connection is released and the machine waits for a new ready or offer.
func (m *Machine) OnPeerLeft() error {
	return m.call(m.peerLeft)
}

// Close releases the peer connection and moves to StateClosed. It is safe to
// call from any state and any number of times.
func (m *Machine) Close() error {
	err := m.call(func() error {
		m.shutdown(nil)
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

func (m *Machine) run() {
	defer close(m.done)

	for {
		<-m.inbox.signal

		for _, ev := range m.inbox.drain() {
			if m.state == StateClosed {
				ev.reject()
				continue
			}
			ev.resolve(ev.fn())
		}

		if m.state == StateClosed {
			for _, ev := range m.inbox.close() {
				ev.reject()
			}
			return
		}
	}
}

// call submits fn and waits for its result.
func (m *Machine) call(fn func() error) error {
	reply := make(chan error, 1)
	if !m.inbox.push(event{fn: fn, reply: reply}) {
		return ErrClosed
	}
	return <-reply
}

// post submits fn without waiting. Posts after close are dropped.
func (m *Machine) post(fn func() error) {
	m.inbox.push(event{fn: fn})
}

// ---------------------------------------------------------------------------
// Handlers (run goroutine only)
// ---------------------------------------------------------------------------

func (m *Machine) beginMediaAcquisition() error {
	if m.state != StateIdle {
		return m.invalid("begin media acquisition")
	}
	m.transition(StateAwaitingLocalMedia, nil)
	return nil
}

func (m *Machine) mediaAcquired(stream LocalStream) error {
	if m.state != StateAwaitingLocalMedia {
		return m.invalid("attach local media")
	}
	if stream == nil {
		return m.mediaFailed(errors.New("no stream"))
	}
	m.stream = stream
	m.transition(StateJoining, nil)
	return nil
}

func (m *Machine) mediaFailed(cause error) error {
	err := fmt.Errorf("%w: %w", ErrMediaAcquisition, cause)
	m.shutdown(err)
	return err
}

func (m *Machine) ready() error {
	if m.state != StateJoining {
		return m.invalid("ready")
	}

	h, err := m.replaceHandle()
	if err != nil {
		m.shutdown(err)
		return err
	}

	m.setRole(RoleOfferer)
	m.transition(StateNegotiating, nil)

	go func() {
		desc, err := h.peer.CreateOffer()
		m.post(func() error { return m.offerCreated(h, desc, err) })
	}()
	return nil
}

func (m *Machine) offerCreated(h *handle, desc webrtc.SessionDescription, err error) error {
	if m.handle != h {
		return m.stale(h, "offer completion")
	}
	if err != nil {
		return m.fail(fmt.Errorf("create offer: %w", err))
	}
	if err := h.peer.SetLocalDescription(desc); err != nil {
		return m.fail(fmt.Errorf("set local offer: %w", err))
	}
	h.offerPending = true

	if err := m.sender.Send(signaling.Offer{SDP: desc.SDP}); err != nil {
		return m.fail(fmt.Errorf("send offer: %w", err))
	}
	util.Stats.AddOffer()
	util.LogInfo("offer sent (connection #%d)", h.epoch)
	return nil
}

func (m *Machine) remoteMessage(msg signaling.Message) error {
	switch msg := msg.(type) {
	case signaling.Offer:
		return m.remoteOffer(msg)
	case signaling.Answer:
		return m.remoteAnswer(msg)
	case signaling.Candidate:
		return m.remoteCandidate(msg.Init)
	default:
		return fmt.Errorf("%w: unsupported message %T", signaling.ErrMalformedMessage, msg)
	}
}

func (m *Machine) remoteOffer(msg signaling.Offer) error {
	switch m.state {
	case StateJoining, StateNegotiating, StateConnected:
	default:
		return m.invalid("offer")
	}

	// The relay delivers at least once; a repeat of the offer this handle
	// already answered is not a new attempt.
	if h := m.handle; h != nil && h.remoteSet && m.role == RoleAnswerer && h.offerSDP == msg.SDP {
		util.LogDebug("duplicate offer for connection #%d ignored", h.epoch)
		return nil
	}

	if m.handle != nil {
		util.LogInfo("renegotiating: replacing connection #%d", m.handle.epoch)
	}

	h, err := m.replaceHandle()
	if err != nil {
		m.shutdown(err)
		return err
	}

	m.setRole(RoleAnswerer)
	m.transition(StateNegotiating, nil)

	desc, _ := signaling.SessionDescription(msg)
	if err := h.peer.SetRemoteDescription(desc); err != nil {
		return m.fail(fmt.Errorf("apply remote offer: %w", err))
	}
	h.remoteSet = true
	h.offerSDP = msg.SDP
	if err := m.flushCandidates(h); err != nil {
		util.LogWarning("%v", err)
	}

	go func() {
		desc, err := h.peer.CreateAnswer()
		m.post(func() error { return m.answerCreated(h, desc, err) })
	}()
	return nil
}

func (m *Machine) answerCreated(h *handle, desc webrtc.SessionDescription, err error) error {
	if m.handle != h {
		return m.stale(h, "answer completion")
	}
	if err != nil {
		return m.fail(fmt.Errorf("create answer: %w", err))
	}
	if err := h.peer.SetLocalDescription(desc); err != nil {
		return m.fail(fmt.Errorf("set local answer: %w", err))
	}

	if err := m.sender.Send(signaling.Answer{SDP: desc.SDP}); err != nil {
		return m.fail(fmt.Errorf("send answer: %w", err))
	}
	util.Stats.AddAnswer()
	util.LogInfo("answer sent (connection #%d)", h.epoch)
	return nil
}

func (m *Machine) remoteAnswer(msg signaling.Answer) error {
	h := m.handle
	if m.role != RoleOfferer || h == nil || !h.offerPending {
		return m.invalid("answer")
	}

	desc, _ := signaling.SessionDescription(msg)
	if err := h.peer.SetRemoteDescription(desc); err != nil {
		return m.fail(fmt.Errorf("apply remote answer: %w", err))
	}
	h.offerPending = false
	h.remoteSet = true
	util.LogInfo("answer applied (connection #%d)", h.epoch)

	if err := m.flushCandidates(h); err != nil {
		util.LogWarning("%v", err)
	}
	return nil
}

func (m *Machine) remoteCandidate(c webrtc.ICECandidateInit) error {
	if !m.remote.add(c) {
		util.LogDebug("duplicate remote candidate ignored")
		return nil
	}
	util.Stats.AddCandidateRecv()

	h := m.handle
	if h == nil || !h.remoteSet {
		util.LogDebug("buffering remote candidate (%d pending)", m.remote.buffered())
		return nil
	}
	return m.flushCandidates(h)
}

// flushCandidates applies every buffered remote candidate to h.
func (m *Machine) flushCandidates(h *handle) error {
	var errs []error
	for _, c := range m.remote.take() {
		if err := h.peer.AddICECandidate(c); err != nil {
			errs = append(errs, fmt.Errorf("add remote candidate %q: %w", c.Candidate, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Machine) localCandidate(h *handle, c webrtc.ICECandidateInit) error {
	if m.handle != h {
		return m.stale(h, "local candidate")
	}

	key := util.CandidateKey(c)
	if _, ok := m.sentLocal[key]; ok {
		return nil
	}

	if err := m.sender.Send(signaling.Candidate{Init: c}); err != nil {
		return m.fail(fmt.Errorf("send candidate: %w", err))
	}
	m.sentLocal[key] = struct{}{}
	util.Stats.AddCandidateSent()
	return nil
}

func (m *Machine) remoteTrack(h *handle, track RemoteTrack) error {
	if m.handle != h {
		return m.stale(h, "remote track")
	}

	util.LogInfo("remote %s track %s arrived", track.Kind(), track.ID())

	m.mu.RLock()
	fn := m.onTrack
	m.mu.RUnlock()
	if fn != nil {
		fn(track)
	}

	if m.state == StateNegotiating {
		m.transition(StateConnected, nil)
	}
	return nil
}

func (m *Machine) connectionState(h *handle, state webrtc.PeerConnectionState) error {
	if m.handle != h {
		return m.stale(h, "connection state")
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		util.LogSuccess("peer connection #%d established", h.epoch)
	case webrtc.PeerConnectionStateDisconnected:
		util.LogWarning("peer connection #%d disconnected", h.epoch)
	case webrtc.PeerConnectionStateFailed:
		return m.fail(fmt.Errorf("%w (connection #%d)", ErrConnectionFailed, h.epoch))
	default:
		util.LogDebug("peer connection #%d state: %s", h.epoch, state)
	}
	return nil
}

func (m *Machine) peerLeft() error {
	switch m.state {
	case StateJoining:
		return nil
	case StateNegotiating, StateConnected:
	default:
		return m.invalid("peer left")
	}

	m.releaseHandle()
	m.remote.reset()
	m.setRole(RoleNone)
	m.transition(StateJoining, nil)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers (run goroutine only)
// ---------------------------------------------------------------------------

// replaceHandle closes the current peer connection, if any, and creates the
// next one with the local tracks attached. The old connection is always
// closed before the new one exists.
func (m *Machine) replaceHandle() (*handle, error) {
	if m.stream == nil {
		return nil, fmt.Errorf("%w: no local stream attached", ErrMediaAcquisition)
	}

	if m.handle != nil {
		m.releaseHandle()
		m.remote.reset()
	}

	m.epoch++
	h := &handle{epoch: m.epoch}

	peer, err := m.engine.NewPeer(PeerEvents{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			m.post(func() error { return m.localCandidate(h, c) })
		},
		OnTrack: func(track RemoteTrack) {
			m.post(func() error { return m.remoteTrack(h, track) })
		},
		OnConnectionStateChange: func(state webrtc.PeerConnectionState) {
			m.post(func() error { return m.connectionState(h, state) })
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPeerConnectionCreation, err)
	}

	for _, track := range m.stream.Tracks() {
		if err := peer.AddTrack(track); err != nil {
			_ = peer.Close()
			return nil, fmt.Errorf("%w: add %s track: %w", ErrPeerConnectionCreation, track.Kind(), err)
		}
	}

	h.peer = peer
	m.handle = h
	m.sentLocal = make(map[uint64]struct{})
	util.LogDebug("created peer connection #%d", h.epoch)
	return h, nil
}

// releaseHandle closes and forgets the current peer connection.
func (m *Machine) releaseHandle() {
	h := m.handle
	if h == nil {
		return
	}
	m.handle = nil

	if err := h.peer.Close(); err != nil {
		util.LogWarning("close peer connection #%d: %v", h.epoch, err)
	}
	util.LogDebug("released peer connection #%d", h.epoch)
}

// fail closes the machine with err and returns it.
func (m *Machine) fail(err error) error {
	m.shutdown(err)
	return err
}

// shutdown releases everything the machine owns and moves to StateClosed.
// The local stream is left to its owner.
func (m *Machine) shutdown(reason error) {
	if m.state == StateClosed {
		return
	}

	m.releaseHandle()
	m.remote.reset()
	m.stream = nil
	m.transition(StateClosed, reason)

	if reason != nil {
		util.LogError("negotiation closed: %v", reason)
	} else {
		util.LogDebug("negotiation closed")
	}
}

func (m *Machine) setRole(r Role) {
	m.role = r
	m.mu.Lock()
	m.snapRole = r
	m.mu.Unlock()
}

func (m *Machine) transition(to State, err error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to

	m.mu.Lock()
	m.snapshot = to
	if err != nil && m.reason == nil {
		m.reason = err
	}
	observers := m.onState
	m.mu.Unlock()

	util.LogDebug("negotiation: %s → %s (role %s)", from, to, m.role)

	t := Transition{From: from, To: to, Role: m.role, Err: err}
	for _, fn := range observers {
		fn(t)
	}
}

func (m *Machine) invalid(op string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, m.state)
}

func (m *Machine) stale(h *handle, what string) error {
	util.LogDebug("dropping %s for replaced connection #%d", what, h.epoch)
	return fmt.Errorf("%w: %s for connection #%d", ErrStaleHandle, what, h.epoch)
}
