package store

import (
	"sort"
	"sync"
	"time"

	"motorbay/pkg/domain"
)

// MemoryStore keeps messages and requests in-process. It backs tests and
// local development runs without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]domain.Message // conversation key -> messages
	byID     map[string]string           // message ID -> conversation key
	requests map[string]domain.TestDriveRequest
	markers  map[string]time.Time // viewer:partner -> last read
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]domain.Message),
		byID:     make(map[string]string),
		requests: make(map[string]domain.TestDriveRequest),
		markers:  make(map[string]time.Time),
	}
}

// InsertMessage records a message.
func (m *MemoryStore) InsertMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := msg.Key().String()
	m.messages[key] = append(m.messages[key], msg)
	m.byID[msg.ID] = key
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.byID[id]
	if !ok {
		return domain.Message{}, false, nil
	}
	for _, msg := range m.messages[key] {
		if msg.ID == id {
			return msg, true, nil
		}
	}
	return domain.Message{}, false, nil
}

// QueryConversation returns the thread ordered by createdAt asc, ID tie-break.
func (m *MemoryStore) QueryConversation(a, b string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := domain.NewConversationKey(a, b).String()
	msgs := append([]domain.Message(nil), m.messages[key]...)
	sortMessages(msgs)
	return msgs, nil
}

// LastMessage returns the newest message of the thread.
func (m *MemoryStore) LastMessage(a, b string) (domain.Message, bool, error) {
	msgs, err := m.QueryConversation(a, b)
	if err != nil || len(msgs) == 0 {
		return domain.Message{}, false, err
	}
	return msgs[len(msgs)-1], true, nil
}

// CountMessagesAfter counts messages from sender to receiver newer than after.
func (m *MemoryStore) CountMessagesAfter(senderID, receiverID string, after time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := domain.NewConversationKey(senderID, receiverID).String()
	count := 0
	for _, msg := range m.messages[key] {
		if msg.SenderID == senderID && msg.ReceiverID == receiverID && msg.CreatedAt.After(after) {
			count++
		}
	}
	return count, nil
}

// DeleteMessage removes a single message.
func (m *MemoryStore) DeleteMessage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[id]
	if !ok {
		return nil
	}
	msgs := m.messages[key]
	filtered := msgs[:0]
	for _, msg := range msgs {
		if msg.ID != id {
			filtered = append(filtered, msg)
		}
	}
	m.messages[key] = filtered
	delete(m.byID, id)
	return nil
}

// DeleteConversation removes the whole thread between a and b.
func (m *MemoryStore) DeleteConversation(a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.NewConversationKey(a, b).String()
	for _, msg := range m.messages[key] {
		delete(m.byID, msg.ID)
	}
	delete(m.messages, key)
	return nil
}

// ListConversationPartners returns partners of viewer, most recent thread first.
func (m *MemoryStore) ListConversationPartners(viewerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type threadHead struct {
		partner string
		last    time.Time
	}
	heads := make([]threadHead, 0)
	for _, msgs := range m.messages {
		if len(msgs) == 0 {
			continue
		}
		sorted := append([]domain.Message(nil), msgs...)
		sortMessages(sorted)
		last := sorted[len(sorted)-1]
		if last.SenderID != viewerID && last.ReceiverID != viewerID {
			continue
		}
		heads = append(heads, threadHead{partner: last.Partner(viewerID), last: last.CreatedAt})
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].last.After(heads[j].last) })
	partners := make([]string, 0, len(heads))
	for _, h := range heads {
		partners = append(partners, h.partner)
	}
	return partners, nil
}

// InsertRequest records a new request.
func (m *MemoryStore) InsertRequest(req domain.TestDriveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

// GetRequest retrieves a request by ID.
func (m *MemoryStore) GetRequest(id string) (domain.TestDriveRequest, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	return req, ok, nil
}

// CompareAndSetStatus atomically moves a request from expected to next.
func (m *MemoryStore) CompareAndSetStatus(id string, expected, next domain.RequestStatus, extra StatusExtra) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.Status != expected {
		return false, nil
	}
	req.Status = next
	if extra.RejectionReason != "" {
		req.RejectionReason = extra.RejectionReason
	}
	req.UpdatedAt = time.Now().UTC()
	m.requests[id] = req
	return true, nil
}

// QueryPendingCountFor counts pending requests addressed to a dealer.
func (m *MemoryStore) QueryPendingCountFor(dealerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, req := range m.requests {
		if req.DealerID == dealerID && req.Status == domain.StatusPending {
			count++
		}
	}
	return count, nil
}

// ListRequestsFor returns requests where userID holds the given role, newest first.
func (m *MemoryStore) ListRequestsFor(userID string, role domain.ActorRole) ([]domain.TestDriveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.TestDriveRequest, 0)
	for _, req := range m.requests {
		if (role == domain.RoleBuyer && req.BuyerID == userID) ||
			(role == domain.RoleDealer && req.DealerID == userID) {
			res = append(res, req)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// MarkRead stores the viewer's last-read point for a partner thread.
func (m *MemoryStore) MarkRead(viewerID, partnerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[viewerID+":"+partnerID] = at
	return nil
}

// LastRead returns the viewer's last-read point for a partner thread.
func (m *MemoryStore) LastRead(viewerID, partnerID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.markers[viewerID+":"+partnerID]
	return at, ok, nil
}

// ClearMarker removes the viewer's last-read point for a partner thread.
func (m *MemoryStore) ClearMarker(viewerID, partnerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, viewerID+":"+partnerID)
	return nil
}

func sortMessages(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
