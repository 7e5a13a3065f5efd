package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64 // outgoing frame channel capacity
)

// sender is a goroutine-based frame writer that serializes all writes to a
// single WebSocket connection and keeps it alive with periodic pings.
type sender struct {
	ctx   context.Context
	inbox chan []byte
}

// newSender creates a sender and starts the background loop. The loop exits
// when ctx is cancelled or a write fails; write failures are reported via
// onError.
func newSender(ctx context.Context, conn *websocket.Conn, onError func(error)) *sender {
	s := &sender{
		ctx:   ctx,
		inbox: make(chan []byte, sendBufferSize),
	}

	go s.loop(conn, onError)

	return s
}

// loop is the single-writer goroutine.
func (s *sender) loop(conn *websocket.Conn, onError func(error)) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.inbox:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				onError(fmt.Errorf("write to relay: %w", err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				onError(fmt.Errorf("ping relay: %w", err))
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}

// send enqueues a frame for transmission. It blocks while the buffer is full
// and fails once the transport or ctx is done.
func (s *sender) send(ctx context.Context, frame []byte) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.inbox <- frame:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
