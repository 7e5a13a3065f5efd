package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/util"
)

// DefaultMaxPeers is the room capacity: a call has exactly two participants.
const DefaultMaxPeers = 2

var (
	errRoomFull      = errors.New("room is full")
	errAlreadyJoined = errors.New("already joined a room")
	errNotJoined     = errors.New("join a room first")
)

// room is the set of clients that joined under one name.
type room struct {
	name  string
	peers map[string]*client
}

// hub owns every room of a relay.
type hub struct {
	presence Presence
	maxPeers int

	mu    sync.Mutex
	rooms map[string]*room
}

func newHub(presence Presence, maxPeers int) *hub {
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}
	return &hub{
		presence: presence,
		maxPeers: maxPeers,
		rooms:    make(map[string]*room),
	}
}

// join adds c to the named room and sends ready to every member that was
// already there.
func (h *hub) join(c *client, name, username string) error {
	h.mu.Lock()
	if c.room != "" {
		h.mu.Unlock()
		return errAlreadyJoined
	}

	r, ok := h.rooms[name]
	if !ok {
		r = &room{name: name, peers: make(map[string]*client)}
		h.rooms[name] = r
		util.LogDebug("created room %q", name)
	}
	if len(r.peers) >= h.maxPeers {
		h.mu.Unlock()
		return errRoomFull
	}

	c.room = name
	c.username = username
	r.peers[c.id] = c
	others := r.othersLocked(c.id)
	h.mu.Unlock()

	h.updatePresence(func(ctx context.Context) error {
		return h.presence.Add(ctx, name, c.id, username)
	})
	util.LogInfo("%q joined room %q (%d/%d)", username, name, len(others)+1, h.maxPeers)

	if len(others) > 0 {
		frame, err := protocol.Encode(protocol.EventReady, protocol.Peer{Username: username})
		if err != nil {
			return err
		}
		for _, o := range others {
			o.enqueue(frame)
		}
	}
	return nil
}

// broadcast sends frame to every member of c's room except c.
func (h *hub) broadcast(c *client, frame []byte) error {
	h.mu.Lock()
	r, ok := h.rooms[c.room]
	if c.room == "" || !ok {
		h.mu.Unlock()
		return errNotJoined
	}
	others := r.othersLocked(c.id)
	h.mu.Unlock()

	for _, o := range others {
		o.enqueue(frame)
	}
	return nil
}

// leave removes c from its room, drops the room when empty, and tells the
// remaining members.
func (h *hub) leave(c *client) {
	h.mu.Lock()
	name := c.room
	r, ok := h.rooms[name]
	if name == "" || !ok {
		h.mu.Unlock()
		return
	}
	delete(r.peers, c.id)
	if len(r.peers) == 0 {
		delete(h.rooms, name)
		util.LogDebug("removed empty room %q", name)
	}
	others := r.othersLocked(c.id)
	h.mu.Unlock()

	h.updatePresence(func(ctx context.Context) error {
		return h.presence.Remove(ctx, name, c.id)
	})
	util.LogInfo("%q left room %q", c.username, name)

	frame, err := protocol.Encode(protocol.EventLeave, protocol.Peer{Username: c.username})
	if err != nil {
		return
	}
	for _, o := range others {
		o.enqueue(frame)
	}
}

// size returns the number of clients in the named room.
func (h *hub) size(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[name]; ok {
		return len(r.peers)
	}
	return 0
}

func (h *hub) updatePresence(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		util.LogWarning("presence update failed: %v", err)
	}
}

func (r *room) othersLocked(id string) []*client {
	others := make([]*client, 0, len(r.peers))
	for pid, p := range r.peers {
		if pid != id {
			others = append(others, p)
		}
	}
	return others
}
