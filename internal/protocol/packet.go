// Package protocol defines the event frames exchanged with the relay.
package protocol

import "encoding/json"

// Event identifies the kind of relay frame.
type Event string

const (
	EventJoin  Event = "join"  // client → relay: enter a room
	EventReady Event = "ready" // relay → client: a second participant joined
	EventData  Event = "data"  // both ways: a signaling envelope
	EventLeave Event = "leave" // relay → client: a participant disconnected
	EventError Event = "error" // relay → client: the previous frame was rejected
)

// Frame is the JSON structure written to the WebSocket in both directions.
type Frame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Join is the payload of a join frame.
type Join struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// Peer is the payload of ready and leave frames: the participant that
// joined or left.
type Peer struct {
	Username string `json:"username"`
}

// Envelope is the payload of a data frame. Data holds one signaling message.
type Envelope struct {
	Username string          `json:"username"`
	Room     string          `json:"room"`
	Data     json.RawMessage `json:"data"`
}

// Error is the payload of an error frame.
type Error struct {
	Message string `json:"message"`
}
