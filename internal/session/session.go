// Package session runs one call: it captures local media, joins the room on
// the relay, feeds relay events into the negotiation machine and tears it
// all down again on exit.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/transport"
	"github.com/1ureka/roomcall/internal/util"
)

// ErrRelayClosed is returned by Run when the relay connection ends without a
// recorded error.
var ErrRelayClosed = errors.New("relay connection closed")

// Channel is the relay connection of one session. *transport.Transport
// implements it.
type Channel interface {
	Join(ctx context.Context, room, username string) error
	Emit(ctx context.Context, env protocol.Envelope) error
	Events() <-chan transport.Event
	Err() error
	Close() error
}

// Dialer opens a Channel to the relay at url.
type Dialer func(ctx context.Context, url string) (Channel, error)

// DialRelay is the Dialer backed by the WebSocket transport.
func DialRelay(ctx context.Context, url string) (Channel, error) {
	t, err := transport.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Stream is a captured local stream the controller owns and stops on exit.
type Stream interface {
	negotiation.LocalStream
	Stop()
}

// Capturer acquires the local stream.
type Capturer func(ctx context.Context) (Stream, error)

// Presenter receives what a user interface would render. Its methods are
// called from the negotiation goroutine and must not block.
type Presenter interface {
	Joined(id signaling.Identity)
	StateChanged(t negotiation.Transition)
	RemoteTrack(track negotiation.RemoteTrack)
}

// History records the outcome of each session.
type History interface {
	Start(id signaling.Identity) (string, error)
	Finish(recordID string, role negotiation.Role, state negotiation.State, cause error) error
}

// Options configure a Controller. Identity, RelayURL, Dial, Capture and
// Engine are required.
type Options struct {
	Identity signaling.Identity
	RelayURL string

	Dial    Dialer
	Capture Capturer
	Engine  negotiation.Engine

	Presenter Presenter // optional
	History   History   // optional
}

// Controller runs a single call session.
type Controller struct {
	opts Options
}

// New validates opts and returns a Controller.
func New(opts Options) (*Controller, error) {
	switch {
	case opts.Identity.Username == "":
		return nil, errors.New("session: username is required")
	case opts.Identity.Room == "":
		return nil, errors.New("session: room is required")
	case opts.RelayURL == "":
		return nil, errors.New("session: relay url is required")
	case opts.Dial == nil || opts.Capture == nil || opts.Engine == nil:
		return nil, errors.New("session: dialer, capturer and engine are required")
	}
	return &Controller{opts: opts}, nil
}

// relaySender emits the machine's messages on the session's channel. The
// channel is attached once the relay is dialed; nothing is sent before.
type relaySender struct {
	ctx context.Context
	id  signaling.Identity

	mu sync.Mutex
	ch Channel
}

func (s *relaySender) attach(ch Channel) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
}

func (s *relaySender) Send(msg signaling.Message) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("send %s: %w", msg.Type(), ErrRelayClosed)
	}

	env, err := signaling.Encode(s.id, msg)
	if err != nil {
		return err
	}
	return ch.Emit(s.ctx, env)
}

// Run executes the session until ctx is cancelled (hangup), the machine
// closes on a fatal error, or the relay connection ends. A hangup returns
// nil.
func (c *Controller) Run(ctx context.Context) (err error) {
	id := c.opts.Identity

	recordID := c.startHistory()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sender := &relaySender{ctx: ctx, id: id}
	m := negotiation.New(c.opts.Engine, sender)

	if p := c.opts.Presenter; p != nil {
		m.OnStateChange(p.StateChanged)
		m.OnRemoteTrack(p.RemoteTrack)
	}

	var (
		stream Stream
		ch     Channel
	)
	defer func() {
		// Machine first, so nothing reaches the relay once teardown starts.
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if ch != nil {
			_ = ch.Close()
		}
		if stream != nil {
			stream.Stop()
		}
		c.finishHistory(recordID, m, err)
	}()

	// ── 1. Local media ────────────────────────────────────────────────
	if err := m.BeginMediaAcquisition(); err != nil {
		return err
	}
	stream, err = c.opts.Capture(ctx)
	if err != nil {
		stream = nil
		return m.MediaFailed(err)
	}
	if err := m.MediaAcquired(stream); err != nil {
		return err
	}

	// ── 2. Relay ──────────────────────────────────────────────────────
	ch, err = c.opts.Dial(ctx, c.opts.RelayURL)
	if err != nil {
		ch = nil
		return err
	}
	sender.attach(ch)

	if err := ch.Join(ctx, id.Room, id.Username); err != nil {
		return fmt.Errorf("join room %q: %w", id.Room, err)
	}
	util.LogInfo("joined room %q as %q", id.Room, id.Username)
	if p := c.opts.Presenter; p != nil {
		p.Joined(id)
	}

	// ── 3. Event loop ─────────────────────────────────────────────────
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			util.LogInfo("hanging up")
			return nil

		case <-m.Done():
			return m.Err()

		case ev, ok := <-events:
			if !ok {
				if rerr := ch.Err(); rerr != nil {
					return rerr
				}
				return ErrRelayClosed
			}
			c.dispatch(m, ev)
		}
	}
}

// dispatch feeds one relay event into the machine. Errors that leave the
// machine running are logged and dropped; fatal ones surface via m.Done.
func (c *Controller) dispatch(m *negotiation.Machine, ev transport.Event) {
	var err error

	switch ev.Kind {
	case transport.EventReady:
		util.LogInfo("%s joined the room", peerName(ev.Peer))
		err = m.OnReady()

	case transport.EventLeave:
		util.LogInfo("%s left the room", peerName(ev.Peer))
		err = m.OnPeerLeft()

	case transport.EventData:
		if ev.Envelope.Room != "" && ev.Envelope.Room != c.opts.Identity.Room {
			util.LogWarning("dropping message for room %q", ev.Envelope.Room)
			util.Stats.AddDropped()
			return
		}

		msg, derr := signaling.Decode(ev.Envelope)
		if derr != nil {
			util.LogWarning("dropping message from %s: %v", peerName(protocol.Peer{Username: ev.Envelope.Username}), derr)
			util.Stats.AddDropped()
			return
		}
		util.LogDebug("received %s from %s", msg.Type(), ev.Envelope.Username)
		err = m.OnRemoteMessage(msg)
	}

	switch {
	case err == nil, errors.Is(err, negotiation.ErrClosed):
	case errors.Is(err, negotiation.ErrInvalidState), errors.Is(err, negotiation.ErrStaleHandle):
		util.LogWarning("ignored %s event: %v", ev.Kind, err)
		util.Stats.AddDropped()
	default:
		util.LogWarning("%s event: %v", ev.Kind, err)
	}
}

func (c *Controller) startHistory() string {
	if c.opts.History == nil {
		return ""
	}
	recordID, err := c.opts.History.Start(c.opts.Identity)
	if err != nil {
		util.LogWarning("call history unavailable: %v", err)
		return ""
	}
	return recordID
}

func (c *Controller) finishHistory(recordID string, m *negotiation.Machine, cause error) {
	if c.opts.History == nil || recordID == "" {
		return
	}
	if err := c.opts.History.Finish(recordID, m.Role(), m.State(), cause); err != nil {
		util.LogWarning("record call history: %v", err)
	}
}

func peerName(p protocol.Peer) string {
	if p.Username == "" {
		return "a participant"
	}
	return fmt.Sprintf("%q", p.Username)
}
