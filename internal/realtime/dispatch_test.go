package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestDispatchReachesAllConnections(t *testing.T) {
	hub := NewHub()
	d := NewDispatcher(hub, nil)

	tr1 := newFakeTransport()
	tr2 := newFakeTransport()
	hub.Admit("dealer-1", tr1)
	hub.Admit("dealer-1", tr2)

	d.Dispatch("dealer-1", Event{Type: EventMessageNew, Data: "payload"})

	for _, tr := range []*fakeTransport{tr1, tr2} {
		waitFor(t, func() bool {
			for _, ev := range tr.snapshot() {
				if ev.Type == EventMessageNew {
					return true
				}
			}
			return false
		}, "message delivery")
	}
}

func TestDispatchIsolatesFailingConnection(t *testing.T) {
	hub := NewHub()
	d := NewDispatcher(hub, nil)

	good := newFakeTransport()
	hub.Admit("dealer-1", good)
	waitFor(t, func() bool { return len(good.snapshot()) > 0 }, "good connection ready")

	bad := newFakeTransport()
	hub.Admit("dealer-1", bad)
	waitFor(t, func() bool { return hub.ConnectionCount("dealer-1") == 2 }, "both admitted")
	bad.mu.Lock()
	bad.fail = true
	bad.mu.Unlock()

	d.Dispatch("dealer-1", Event{Type: EventWorkflowUpdated, Data: WorkflowUpdate{RequestID: "r1", Status: "accepted"}})

	waitFor(t, func() bool {
		for _, ev := range good.snapshot() {
			if ev.Type == EventWorkflowUpdated {
				return true
			}
		}
		return false
	}, "delivery to healthy sibling")
	waitFor(t, func() bool { return hub.ConnectionCount("dealer-1") == 1 }, "failing connection evicted")
}

func TestDispatchToOfflineIdentityIsNoop(t *testing.T) {
	hub := NewHub()
	d := NewDispatcher(hub, nil)
	// must not panic or queue anything
	d.Dispatch("offline-user", Event{Type: EventMessageNew})
}

func TestDispatchMirrorsToBridge(t *testing.T) {
	hub := NewHub()
	pub := &recordingPublisher{}
	d := NewDispatcher(hub, pub)

	d.Dispatch("dealer-1", Event{Type: EventMessageNew, Data: "x"})
	if pub.count() != 1 {
		t.Fatalf("expected bridge publish, got %d", pub.count())
	}
}

func TestDispatchSurvivesBridgeFailure(t *testing.T) {
	hub := NewHub()
	tr := newFakeTransport()
	hub.Admit("dealer-1", tr)
	d := NewDispatcher(hub, &recordingPublisher{err: errors.New("broker down")})

	d.Dispatch("dealer-1", Event{Type: EventMessageNew, Data: "x"})
	waitFor(t, func() bool {
		for _, ev := range tr.snapshot() {
			if ev.Type == EventMessageNew {
				return true
			}
		}
		return false
	}, "delivery despite bridge failure")
}
