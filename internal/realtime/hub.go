package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sendBuffer = 64

// Transport is the write side of one live duplex connection. The websocket
// implementation lives in the server package; tests substitute their own.
type Transport interface {
	WriteEvent(ctx context.Context, ev Event) error
	Close() error
}

// Client is one live connection bound to exactly one user identity.
type Client struct {
	UserID string

	hub       *Hub
	transport Transport
	send      chan Event

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Done is closed when the client has been evicted.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Hub maps user identities to their live connections. It is the only shared
// mutable structure of the realtime layer; construct one per process with
// NewHub and pass it by reference.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	presence *Presence
}

// NewHub initializes an empty connection registry.
func NewHub() *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
	h.presence = newPresence(h)
	return h
}

// Presence returns the tracker derived from registry membership.
func (h *Hub) Presence() *Presence {
	return h.presence
}

// Admit registers a connection under userID and starts its write pump.
// The new client immediately receives the current presence snapshot; when
// this is the identity's first connection an online delta is broadcast.
func (h *Hub) Admit(userID string, t Transport) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		UserID:    userID,
		hub:       h,
		transport: t,
		send:      make(chan Event, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}

	h.mu.Lock()
	set := h.clients[userID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	first := len(set) == 1
	h.mu.Unlock()

	go c.writeLoop()

	if first {
		h.presence.onIdentityOnline(userID)
	}
	c.enqueue(Event{Type: EventPresenceSnapshot, Data: PresenceSnapshot{UserIDs: h.presence.Snapshot()}})
	return c
}

// Evict removes the client from the registry, then tears down its transport.
// Removal happens before close so no dispatch reaches a dead channel. Safe to
// call multiple times and from write-failure paths.
func (h *Hub) Evict(c *Client) {
	c.once.Do(func() {
		h.mu.Lock()
		last := false
		if set, ok := h.clients[c.UserID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.UserID)
				last = true
			}
		}
		h.mu.Unlock()

		c.cancel()
		_ = c.transport.Close()

		if last {
			h.presence.onIdentityOffline(c.UserID)
		}
	})
}

// ConnectionsFor returns a snapshot of the identity's live connections.
// An offline identity yields an empty slice, never an error.
func (h *Hub) ConnectionsFor(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[userID]
	res := make([]*Client, 0, len(set))
	for c := range set {
		res = append(res, c)
	}
	return res
}

// ConnectionCount reports how many live connections an identity owns.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) allClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := make([]*Client, 0)
	for _, set := range h.clients {
		for c := range set {
			res = append(res, c)
		}
	}
	return res
}

// Send queues an event for this connection only. Used for per-connection
// feedback such as malformed inbound frames.
func (c *Client) Send(ev Event) {
	c.enqueue(ev)
}

// enqueue hands the event to the client's write pump. A full buffer means a
// stalled consumer; the client is evicted rather than blocking siblings.
func (c *Client) enqueue(ev Event) {
	select {
	case c.send <- ev:
	case <-c.ctx.Done():
	default:
		slog.Warn("client send buffer full, evicting", "user_id", c.UserID)
		go c.hub.Evict(c)
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := c.transport.WriteEvent(writeCtx, ev)
			cancel()
			if err != nil {
				slog.Debug("client write failed, evicting", "user_id", c.UserID, "err", err)
				c.hub.Evict(c)
				return
			}
		}
	}
}
