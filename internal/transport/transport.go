// Package transport implements the client side of the relay channel: one
// WebSocket per call session, carrying join/ready/data/leave frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/util"
)

// ErrClosed is returned by Join and Emit once the transport is shut down.
var ErrClosed = errors.New("transport closed")

const (
	handshakeTimeout = 10 * time.Second
	eventBufferSize  = 64
)

// EventKind identifies an inbound relay event.
type EventKind int

const (
	EventReady EventKind = iota + 1 // a second participant joined the room
	EventData                       // a signaling envelope from another participant
	EventLeave                      // another participant disconnected
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventData:
		return "data"
	case EventLeave:
		return "leave"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one inbound relay event. Peer is set for ready and leave,
// Envelope for data.
type Event struct {
	Kind     EventKind
	Peer     protocol.Peer
	Envelope protocol.Envelope
}

// Transport wraps a single WebSocket connection to the relay. Outbound frames
// go through a single-writer sender goroutine; inbound frames are decoded by
// a reader goroutine and delivered on Events in arrival order.
//
// Its lifecycle is governed by the context passed to Dial and by Close.
type Transport struct {
	conn   *websocket.Conn
	sender *sender
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to the relay at url. The transport stays open until ctx is
// cancelled, Close is called, or the connection fails.
func Dial(ctx context.Context, url string) (*Transport, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	return newTransport(ctx, conn), nil
}

func newTransport(ctx context.Context, conn *websocket.Conn) *Transport {
	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		conn:   conn,
		events: make(chan Event, eventBufferSize),
		ctx:    tCtx,
		cancel: tCancel,
	}

	t.sender = newSender(tCtx, conn, t.fail)
	go t.readLoop()

	// Parent cancellation tears down the socket so the reader unblocks.
	go func() {
		<-tCtx.Done()
		t.conn.Close()
	}()

	return t
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Events returns the inbound event stream. It is closed when the reader
// goroutine exits.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Done returns a channel that is closed when the transport is shut down.
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Err returns the error that shut the transport down, or nil if it was
// closed deliberately.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close sends a close frame and releases the connection. Safe to call
// multiple times.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

// fail records the first error and shuts the transport down. Errors that
// surface after a deliberate Close are not recorded.
func (t *Transport) fail(err error) {
	if t.ctx.Err() != nil {
		return
	}
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.cancel()
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Join asks the relay to add this connection to room under username.
func (t *Transport) Join(ctx context.Context, room, username string) error {
	frame, err := protocol.Encode(protocol.EventJoin, protocol.Join{Username: username, Room: room})
	if err != nil {
		return err
	}
	return t.sender.send(ctx, frame)
}

// Emit broadcasts env to the other participants of the joined room.
func (t *Transport) Emit(ctx context.Context, env protocol.Envelope) error {
	frame, err := protocol.Encode(protocol.EventData, env)
	if err != nil {
		return err
	}
	return t.sender.send(ctx, frame)
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (t *Transport) readLoop() {
	defer close(t.events)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.fail(fmt.Errorf("read from relay: %w", err))
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("dropping relay frame: %v", err)
			util.Stats.AddDropped()
			continue
		}

		var ev Event
		switch f.Event {
		case protocol.EventReady:
			ev.Kind = EventReady
			_ = f.Unmarshal(&ev.Peer) // ready may come without data

		case protocol.EventLeave:
			ev.Kind = EventLeave
			_ = f.Unmarshal(&ev.Peer)

		case protocol.EventData:
			ev.Kind = EventData
			if err := f.Unmarshal(&ev.Envelope); err != nil {
				util.LogWarning("dropping data frame: %v", err)
				util.Stats.AddDropped()
				continue
			}

		case protocol.EventError:
			var e protocol.Error
			_ = f.Unmarshal(&e)
			util.LogWarning("relay rejected a frame: %s", e.Message)
			continue

		default:
			util.LogDebug("ignoring relay event %q", f.Event)
			continue
		}

		select {
		case t.events <- ev:
		case <-t.ctx.Done():
			return
		}
	}
}
