package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/util"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
)

// client is one WebSocket connection to the relay. room and username are
// guarded by the hub's lock.
type client struct {
	id   string
	hub  *hub
	conn *websocket.Conn
	send chan []byte

	room     string
	username string

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, h *hub, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue queues frame for the write pump. A client whose buffer is full is
// too slow to keep up with signaling and is disconnected.
func (c *client) enqueue(frame []byte) {
	select {
	case <-c.done:
	case c.send <- frame:
	default:
		util.LogWarning("peer %s send buffer full, disconnecting", c.id)
		c.shutdown()
	}
}

func (c *client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) fail(message string) {
	frame, err := protocol.Encode(protocol.EventError, protocol.Error{Message: message})
	if err == nil {
		c.enqueue(frame)
	}
}

// readPump handles inbound frames until the connection drops, then removes
// the client from its room.
func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.shutdown()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("peer %s read error: %v", c.id, err)
			}
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			c.fail(err.Error())
			continue
		}

		switch f.Event {
		case protocol.EventJoin:
			var j protocol.Join
			if err := f.Unmarshal(&j); err != nil || j.Room == "" {
				c.fail("join requires a room")
				continue
			}
			if err := c.hub.join(c, j.Room, j.Username); err != nil {
				c.fail(err.Error())
			}

		case protocol.EventData:
			var env protocol.Envelope
			if err := f.Unmarshal(&env); err != nil {
				c.fail("data requires an envelope")
				continue
			}
			if err := c.hub.broadcast(c, data); err != nil {
				c.fail(err.Error())
			}

		default:
			c.fail("unsupported event " + string(f.Event))
		}
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				util.LogDebug("peer %s write error: %v", c.id, err)
				c.shutdown()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
