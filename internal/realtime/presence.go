package realtime

import (
	"sort"
	"sync"
)

// Presence tracks the set of identities with at least one live connection.
// It is mutated only by the hub's 0<->1 connection-count transitions;
// intermediate counts (second tab opening, one of two tabs closing) do not
// re-broadcast.
type Presence struct {
	hub *Hub

	mu     sync.RWMutex
	online map[string]struct{}
}

func newPresence(h *Hub) *Presence {
	return &Presence{
		hub:    h,
		online: make(map[string]struct{}),
	}
}

// Snapshot returns the sorted online set, served to newly admitted
// connections so they can render presence without waiting for deltas.
func (p *Presence) Snapshot() []string {
	p.mu.RLock()
	res := make([]string, 0, len(p.online))
	for id := range p.online {
		res = append(res, id)
	}
	p.mu.RUnlock()
	sort.Strings(res)
	return res
}

// Online reports whether the identity currently has a live connection.
func (p *Presence) Online(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

func (p *Presence) onIdentityOnline(userID string) {
	p.mu.Lock()
	p.online[userID] = struct{}{}
	p.mu.Unlock()
	p.broadcast(userID, true)
}

func (p *Presence) onIdentityOffline(userID string) {
	p.mu.Lock()
	delete(p.online, userID)
	p.mu.Unlock()
	p.broadcast(userID, false)
}

// broadcast pushes a presence delta to every connected identity. Presence is
// global: any viewer may be watching any partner's online dot. Delivery is
// per-connection isolated; a failing connection is evicted by its own write
// pump without aborting the rest.
func (p *Presence) broadcast(userID string, online bool) {
	ev := Event{Type: EventPresenceDelta, Data: PresenceDelta{UserID: userID, Online: online}}
	for _, c := range p.hub.allClients() {
		c.enqueue(ev)
	}
}
