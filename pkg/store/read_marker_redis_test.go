package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisReadMarkerRoundTrip(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisReadMarkerStore(redis.Addr(), "")

	if _, ok, err := s.LastRead("buyer-1", "dealer-1"); err != nil || ok {
		t.Fatalf("expected no marker, got ok=%v err=%v", ok, err)
	}

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if err := s.MarkRead("buyer-1", "dealer-1", at); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	got, ok, err := s.LastRead("buyer-1", "dealer-1")
	if err != nil || !ok {
		t.Fatalf("last read: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("unexpected marker time: %v", got)
	}

	// markers are directional
	if _, ok, _ := s.LastRead("dealer-1", "buyer-1"); ok {
		t.Fatalf("expected reverse direction to be unset")
	}
}

func TestRedisReadMarkerClear(t *testing.T) {
	redis := miniredis.RunT(t)
	s := NewRedisReadMarkerStore(redis.Addr(), "")

	if err := s.MarkRead("buyer-2", "dealer-2", time.Now().UTC()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := s.ClearMarker("buyer-2", "dealer-2"); err != nil {
		t.Fatalf("clear marker: %v", err)
	}
	if _, ok, _ := s.LastRead("buyer-2", "dealer-2"); ok {
		t.Fatalf("expected marker cleared")
	}
	// clearing a missing marker is a no-op
	if err := s.ClearMarker("buyer-2", "dealer-2"); err != nil {
		t.Fatalf("clear missing marker: %v", err)
	}
}
