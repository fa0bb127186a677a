package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"motorbay/internal/realtime"
	"motorbay/pkg/store"
)

// captureTransport records events written to one fake connection.
type captureTransport struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (c *captureTransport) WriteEvent(_ context.Context, ev realtime.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureTransport) Close() error { return nil }

func (c *captureTransport) byType(typ string) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []realtime.Event
	for _, ev := range c.events {
		if ev.Type == typ {
			res = append(res, ev)
		}
	}
	return res
}

func waitEvents(t *testing.T, tr *captureTransport, typ string, n int) []realtime.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := tr.byType(typ); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d %s events, have %d", n, typ, len(tr.byType(typ)))
	return nil
}

func assertNoEvents(t *testing.T, tr *captureTransport, typ string) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	if evs := tr.byType(typ); len(evs) != 0 {
		t.Fatalf("expected no %s events, got %d", typ, len(evs))
	}
}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *realtime.Hub) {
	t.Helper()
	mem := store.NewMemoryStore()
	hub := realtime.NewHub()
	a, err := New(Config{
		Store:      mem,
		Markers:    mem,
		Dispatcher: realtime.NewDispatcher(hub, nil),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mem, hub
}

func connect(hub *realtime.Hub, userID string) *captureTransport {
	tr := &captureTransport{}
	hub.Admit(userID, tr)
	return tr
}
