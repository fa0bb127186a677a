package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"motorbay/internal/realtime"
	"motorbay/pkg/domain"
)

// Send validates, persists and fans out one chat message. Both participants'
// live connections receive the canonical message, the sender included so
// multi-device senders stay in sync. The returned message carries the
// server-assigned ID and timestamp; the correlation token is echoed back so
// clients can reconcile an optimistic placeholder.
func (a *App) Send(senderID, receiverID, text string, attachment *domain.Attachment, correlationToken string) (domain.Message, error) {
	senderID = strings.TrimSpace(senderID)
	receiverID = strings.TrimSpace(receiverID)
	text = strings.TrimSpace(text)
	if senderID == "" || receiverID == "" {
		return domain.Message{}, fmt.Errorf("%w: sender and receiver required", ErrValidation)
	}
	if senderID == receiverID {
		return domain.Message{}, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}
	if text == "" && attachment == nil {
		return domain.Message{}, fmt.Errorf("%w: text or attachment required", ErrValidation)
	}

	key := domain.NewConversationKey(senderID, receiverID)
	lock := a.lockConversation(key)
	lock.Lock()
	defer lock.Unlock()

	msg := domain.Message{
		ID:               uuid.NewString(),
		SenderID:         senderID,
		ReceiverID:       receiverID,
		Text:             text,
		Attachment:       attachment,
		CorrelationToken: correlationToken,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.store.InsertMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", ErrStoreUnavailable)
	}

	ev := realtime.Event{Type: realtime.EventMessageNew, Data: msg}
	a.dispatcher.Dispatch(receiverID, ev)
	a.dispatcher.Dispatch(senderID, ev)
	return msg, nil
}

// Fetch returns the thread between viewer and partner ordered by createdAt
// ascending with a stable ID tie-break, and advances the viewer's read
// marker so the unread count resets.
func (a *App) Fetch(viewerID, partnerID string) ([]domain.Message, error) {
	viewerID = strings.TrimSpace(viewerID)
	partnerID = strings.TrimSpace(partnerID)
	if viewerID == "" || partnerID == "" {
		return nil, fmt.Errorf("%w: viewer and partner required", ErrValidation)
	}
	msgs, err := a.store.QueryConversation(viewerID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", ErrStoreUnavailable)
	}
	if err := a.markers.MarkRead(viewerID, partnerID, time.Now().UTC()); err != nil {
		// markers are advisory; a stale one only inflates an unread count
		slog.Warn("mark read failed", "viewer", viewerID, "partner", partnerID, "err", err)
	}
	return msgs, nil
}

// DeleteMessage removes a single message. Only the original sender may
// delete. The live event is dispatched strictly after the persisted
// deletion so a reconnecting client cannot re-fetch the message it already
// removed locally.
func (a *App) DeleteMessage(actorID, messageID string) error {
	actorID = strings.TrimSpace(actorID)
	messageID = strings.TrimSpace(messageID)
	if actorID == "" || messageID == "" {
		return fmt.Errorf("%w: actor and message ID required", ErrValidation)
	}
	msg, ok, err := a.store.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", ErrStoreUnavailable)
	}
	if !ok {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if msg.SenderID != actorID {
		return fmt.Errorf("%w: only the sender may delete a message", ErrForbidden)
	}
	if err := a.store.DeleteMessage(messageID); err != nil {
		return fmt.Errorf("delete message: %w", ErrStoreUnavailable)
	}

	ev := realtime.Event{Type: realtime.EventMessageDeleted, Data: realtime.MessageDeleted{MessageID: messageID}}
	a.dispatcher.Dispatch(msg.SenderID, ev)
	a.dispatcher.Dispatch(msg.ReceiverID, ev)
	return nil
}

// DeleteConversation clears the whole thread between the actor and a partner.
// This is a one-sided viewer action: the partner is intentionally not
// notified. See the product decision recorded in DESIGN.md before making
// this two-sided.
func (a *App) DeleteConversation(actorID, partnerID string) error {
	actorID = strings.TrimSpace(actorID)
	partnerID = strings.TrimSpace(partnerID)
	if actorID == "" || partnerID == "" {
		return fmt.Errorf("%w: actor and partner required", ErrValidation)
	}
	if err := a.store.DeleteConversation(actorID, partnerID); err != nil {
		return fmt.Errorf("delete conversation: %w", ErrStoreUnavailable)
	}
	if err := a.markers.ClearMarker(actorID, partnerID); err != nil {
		slog.Warn("clear read marker failed", "viewer", actorID, "partner", partnerID, "err", err)
	}
	return nil
}

// Conversations projects the viewer's thread list: partner, last message and
// unread count derived from the read marker. Nothing here is stored; it is
// recomputed per call.
func (a *App) Conversations(viewerID string) ([]domain.ConversationSummary, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return nil, fmt.Errorf("%w: viewer required", ErrValidation)
	}
	partners, err := a.store.ListConversationPartners(viewerID)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", ErrStoreUnavailable)
	}
	res := make([]domain.ConversationSummary, 0, len(partners))
	for _, partnerID := range partners {
		summary := domain.ConversationSummary{PartnerID: partnerID}
		if last, ok, err := a.store.LastMessage(viewerID, partnerID); err == nil && ok {
			msg := last
			summary.LastMessage = &msg
		}
		lastRead, _, err := a.markers.LastRead(viewerID, partnerID)
		if err != nil {
			slog.Warn("last read lookup failed", "viewer", viewerID, "partner", partnerID, "err", err)
		}
		unread, err := a.store.CountMessagesAfter(partnerID, viewerID, lastRead)
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", ErrStoreUnavailable)
		}
		summary.UnreadCount = unread
		res = append(res, summary)
	}
	return res, nil
}
