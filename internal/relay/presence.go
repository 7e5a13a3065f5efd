package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 24 * time.Hour

// Presence tracks who is in which room. The in-memory implementation serves a
// single relay; the Redis one lets several relay instances share the view.
type Presence interface {
	Add(ctx context.Context, room, peerID, username string) error
	Remove(ctx context.Context, room, peerID string) error
	Members(ctx context.Context, room string) ([]string, error)
	Close() error
}

// ---------------------------------------------------------------------------
// In-memory
// ---------------------------------------------------------------------------

type memoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[string]string // room → peerID → username
}

// NewMemoryPresence returns a process-local Presence.
func NewMemoryPresence() Presence {
	return &memoryPresence{rooms: make(map[string]map[string]string)}
}

func (p *memoryPresence) Add(_ context.Context, room, peerID, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	peers, ok := p.rooms[room]
	if !ok {
		peers = make(map[string]string)
		p.rooms[room] = peers
	}
	peers[peerID] = username
	return nil
}

func (p *memoryPresence) Remove(_ context.Context, room, peerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	peers := p.rooms[room]
	delete(peers, peerID)
	if len(peers) == 0 {
		delete(p.rooms, room)
	}
	return nil
}

func (p *memoryPresence) Members(_ context.Context, room string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.rooms[room]))
	for _, name := range p.rooms[room] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *memoryPresence) Close() error { return nil }

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

type redisPresence struct {
	client *redis.Client
}

// NewRedisPresence connects to the Redis server at addr and verifies it
// with a PING.
func NewRedisPresence(ctx context.Context, addr string) (Presence, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &redisPresence{client: client}, nil
}

func peersKey(room string) string { return "room:" + room + ":peers" }
func namesKey(room string) string { return "room:" + room + ":names" }

func (p *redisPresence) Add(ctx context.Context, room, peerID, username string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, peersKey(room), peerID)
		pipe.HSet(ctx, namesKey(room), peerID, username)
		pipe.Expire(ctx, peersKey(room), presenceTTL)
		pipe.Expire(ctx, namesKey(room), presenceTTL)
		return nil
	})
	return err
}

func (p *redisPresence) Remove(ctx context.Context, room, peerID string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, peersKey(room), peerID)
		pipe.HDel(ctx, namesKey(room), peerID)
		return nil
	})
	return err
}

func (p *redisPresence) Members(ctx context.Context, room string) ([]string, error) {
	ids, err := p.client.SMembers(ctx, peersKey(room)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{}, nil
	}

	vals, err := p.client.HMGet(ctx, namesKey(room), ids...).Result()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *redisPresence) Close() error {
	return p.client.Close()
}
