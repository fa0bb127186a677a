package realtime

import (
	"context"
	"log/slog"
	"time"
)

// EventPublisher mirrors dispatched events to an external transport. It is
// the extension point for fanning out across multiple server processes.
type EventPublisher interface {
	Publish(ctx context.Context, userID string, ev Event) error
}

// Dispatcher pushes events to every live connection of a recipient.
// Push is best-effort: offline recipients receive nothing and reconcile
// over the fetch path.
type Dispatcher struct {
	hub    *Hub
	bridge EventPublisher
}

// NewDispatcher builds a dispatcher over the hub. bridge may be nil.
func NewDispatcher(hub *Hub, bridge EventPublisher) *Dispatcher {
	return &Dispatcher{hub: hub, bridge: bridge}
}

// Dispatch writes the event to each of the recipient's live connections.
// Per-connection failures evict that connection only; no queuing or retry
// happens for offline identities.
func (d *Dispatcher) Dispatch(userID string, ev Event) {
	for _, c := range d.hub.ConnectionsFor(userID) {
		c.enqueue(ev)
	}
	if d.bridge != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := d.bridge.Publish(ctx, userID, ev); err != nil {
			slog.Warn("event bridge publish failed", "user_id", userID, "type", ev.Type, "err", err)
		}
	}
}
