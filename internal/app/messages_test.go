package app

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"motorbay/internal/realtime"
	"motorbay/pkg/domain"
)

func TestSendFansOutToBothParticipants(t *testing.T) {
	a, _, hub := newTestApp(t)
	buyerTab1 := connect(hub, "buyer-1")
	buyerTab2 := connect(hub, "buyer-1")
	dealer := connect(hub, "dealer-1")

	msg, err := a.Send("buyer-1", "dealer-1", "is the car still available?", nil, "corr-42")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Fatalf("expected server-assigned id and timestamp: %+v", msg)
	}
	if msg.CorrelationToken != "corr-42" {
		t.Fatalf("correlation token not echoed: %+v", msg)
	}

	// sender included, so every buyer tab stays in sync
	for _, tr := range []*captureTransport{buyerTab1, buyerTab2, dealer} {
		evs := waitEvents(t, tr, realtime.EventMessageNew, 1)
		got := evs[0].Data.(domain.Message)
		if got.ID != msg.ID || got.Text != msg.Text {
			t.Fatalf("unexpected fan-out payload: %+v", got)
		}
	}
}

func TestSendValidation(t *testing.T) {
	a, _, _ := newTestApp(t)

	if _, err := a.Send("buyer-1", "buyer-1", "hi", nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("self-send must fail validation, got %v", err)
	}
	if _, err := a.Send("buyer-1", "dealer-1", "   ", nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty payload must fail validation, got %v", err)
	}
	if _, err := a.Send("", "dealer-1", "hi", nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing sender must fail validation, got %v", err)
	}

	// attachment-only messages are valid
	att := &domain.Attachment{StorageKey: "attachments/a1", ContentType: "image/jpeg"}
	if _, err := a.Send("buyer-1", "dealer-1", "", att, ""); err != nil {
		t.Fatalf("attachment-only send: %v", err)
	}
}

func TestSendToOfflineReceiver(t *testing.T) {
	a, _, _ := newTestApp(t)

	msg, err := a.Send("buyer-1", "dealer-1", "hi", nil, "")
	if err != nil {
		t.Fatalf("send with offline receiver must succeed: %v", err)
	}

	// the dealer reconciles over the fetch path
	msgs, err := a.Fetch("dealer-1", "buyer-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID || msgs[0].Text != "hi" {
		t.Fatalf("expected the sent message on fetch, got %v", msgs)
	}
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	a, mem, hub := newTestApp(t)
	dealer := connect(hub, "dealer-1")

	msg, err := a.Send("buyer-1", "dealer-1", "typo", nil, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := a.DeleteMessage("dealer-1", msg.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("receiver delete must be forbidden, got %v", err)
	}
	if err := a.DeleteMessage("buyer-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := a.DeleteMessage("buyer-1", msg.ID); err != nil {
		t.Fatalf("sender delete: %v", err)
	}
	if _, ok, _ := mem.GetMessage(msg.ID); ok {
		t.Fatalf("message must be gone from the store")
	}
	evs := waitEvents(t, dealer, realtime.EventMessageDeleted, 1)
	if evs[0].Data.(realtime.MessageDeleted).MessageID != msg.ID {
		t.Fatalf("unexpected deletion event: %+v", evs[0])
	}
}

func TestDeleteConversationIsOneSided(t *testing.T) {
	a, _, hub := newTestApp(t)
	partner := connect(hub, "dealer-1")
	waitEvents(t, partner, realtime.EventPresenceSnapshot, 1)

	if _, err := a.Send("buyer-1", "dealer-1", "one", nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.Send("dealer-1", "buyer-1", "two", nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := a.DeleteConversation("buyer-1", "dealer-1"); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	msgs, _ := a.Fetch("buyer-1", "dealer-1")
	if len(msgs) != 0 {
		t.Fatalf("expected cleared thread, got %d messages", len(msgs))
	}
	// the partner is intentionally not notified
	assertNoEvents(t, partner, realtime.EventMessageDeleted)
}

func TestConversationsUnreadCounts(t *testing.T) {
	a, _, _ := newTestApp(t)

	if _, err := a.Send("dealer-1", "buyer-1", "your test drive is ready", nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.Send("dealer-1", "buyer-1", "see you at 10", nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	summaries, err := a.Conversations("buyer-1")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.PartnerID != "dealer-1" || s.UnreadCount != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.LastMessage == nil || s.LastMessage.Text != "see you at 10" {
		t.Fatalf("unexpected last message: %+v", s.LastMessage)
	}

	// fetching the thread advances the read marker
	if _, err := a.Fetch("buyer-1", "dealer-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	summaries, _ = a.Conversations("buyer-1")
	if summaries[0].UnreadCount != 0 {
		t.Fatalf("expected unread reset after fetch, got %d", summaries[0].UnreadCount)
	}
}

func TestConcurrentSendsDeliverInSameOrderToBothSides(t *testing.T) {
	a, _, hub := newTestApp(t)
	buyer := connect(hub, "buyer-1")
	dealer := connect(hub, "dealer-1")

	const perSide = 10
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perSide; i++ {
			if _, err := a.Send("buyer-1", "dealer-1", fmt.Sprintf("buyer %d", i), nil, ""); err != nil {
				t.Errorf("buyer send: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perSide; i++ {
			if _, err := a.Send("dealer-1", "buyer-1", fmt.Sprintf("dealer %d", i), nil, ""); err != nil {
				t.Errorf("dealer send: %v", err)
			}
		}
	}()
	wg.Wait()

	buyerEvs := waitEvents(t, buyer, realtime.EventMessageNew, 2*perSide)
	dealerEvs := waitEvents(t, dealer, realtime.EventMessageNew, 2*perSide)
	for i := range buyerEvs {
		b := buyerEvs[i].Data.(domain.Message)
		d := dealerEvs[i].Data.(domain.Message)
		if b.ID != d.ID {
			t.Fatalf("delivery order diverged at %d: %s vs %s", i, b.ID, d.ID)
		}
	}
}
