package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport records written events and can be told to fail writes.
type fakeTransport struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) WriteEvent(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write to dead connection")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) snapshot() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func (f *fakeTransport) deltas() []PresenceDelta {
	var res []PresenceDelta
	for _, ev := range f.snapshot() {
		if ev.Type == EventPresenceDelta {
			res = append(res, ev.Data.(PresenceDelta))
		}
	}
	return res
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}

func TestPresenceBroadcastsOnlyOnEdgeTransitions(t *testing.T) {
	hub := NewHub()

	trB := newFakeTransport()
	hub.Admit("buyer-1", trB)
	waitFor(t, func() bool { return len(trB.deltas()) == 1 }, "own online delta")

	// second and third connection for the same identity: 1->2->3, no deltas
	hub.Admit("buyer-1", newFakeTransport())
	second := hub.Admit("buyer-1", newFakeTransport())

	trD := newFakeTransport()
	hub.Admit("dealer-1", trD)
	waitFor(t, func() bool { return len(trB.deltas()) == 2 }, "dealer online delta")

	got := trB.deltas()
	if got[0].UserID != "buyer-1" || !got[0].Online {
		t.Fatalf("first delta should be buyer-1 online, got %+v", got[0])
	}
	if got[1].UserID != "dealer-1" || !got[1].Online {
		t.Fatalf("second delta should be dealer-1 online, got %+v", got[1])
	}

	// 3->2: no offline delta
	hub.Evict(second)
	waitFor(t, func() bool { return hub.ConnectionCount("buyer-1") == 2 }, "eviction")
	if len(trB.deltas()) != 2 {
		t.Fatalf("intermediate count change must not broadcast, got %d deltas", len(trB.deltas()))
	}

	// 1->0 for the dealer: offline delta
	for _, c := range hub.ConnectionsFor("dealer-1") {
		hub.Evict(c)
	}
	waitFor(t, func() bool { return len(trB.deltas()) == 3 }, "dealer offline delta")
	last := trB.deltas()[2]
	if last.UserID != "dealer-1" || last.Online {
		t.Fatalf("expected dealer-1 offline delta, got %+v", last)
	}
}

func TestAdmitSendsPresenceSnapshot(t *testing.T) {
	hub := NewHub()
	hub.Admit("dealer-1", newFakeTransport())
	hub.Admit("buyer-2", newFakeTransport())

	tr := newFakeTransport()
	hub.Admit("buyer-1", tr)
	waitFor(t, func() bool {
		for _, ev := range tr.snapshot() {
			if ev.Type == EventPresenceSnapshot {
				return true
			}
		}
		return false
	}, "presence snapshot")

	var snap PresenceSnapshot
	for _, ev := range tr.snapshot() {
		if ev.Type == EventPresenceSnapshot {
			snap = ev.Data.(PresenceSnapshot)
		}
	}
	want := []string{"buyer-1", "buyer-2", "dealer-1"}
	if len(snap.UserIDs) != len(want) {
		t.Fatalf("unexpected snapshot: %v", snap.UserIDs)
	}
	for i, id := range want {
		if snap.UserIDs[i] != id {
			t.Fatalf("snapshot not sorted: %v", snap.UserIDs)
		}
	}
}

func TestConnectionsForOfflineIdentity(t *testing.T) {
	hub := NewHub()
	conns := hub.ConnectionsFor("nobody")
	if conns == nil || len(conns) != 0 {
		t.Fatalf("expected empty slice for offline identity, got %v", conns)
	}
}

func TestWriteFailureEvictsConnection(t *testing.T) {
	hub := NewHub()
	bad := newFakeTransport()
	bad.fail = true
	c := hub.Admit("buyer-1", bad)

	// the presence snapshot write fails, which must evict the client
	waitFor(t, func() bool { return hub.ConnectionCount("buyer-1") == 0 }, "eviction after write failure")
	waitFor(t, func() bool {
		bad.mu.Lock()
		defer bad.mu.Unlock()
		return bad.closed
	}, "transport close")
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client context not cancelled")
	}
	if hub.Presence().Online("buyer-1") {
		t.Fatalf("identity must drop out of presence set")
	}
}

func TestEvictIsIdempotent(t *testing.T) {
	hub := NewHub()
	tr := newFakeTransport()
	c := hub.Admit("buyer-1", tr)
	hub.Evict(c)
	hub.Evict(c)
	if hub.ConnectionCount("buyer-1") != 0 {
		t.Fatalf("expected no connections left")
	}
}
