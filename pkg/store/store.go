package store

import (
	"time"

	"motorbay/pkg/domain"
)

// StatusExtra carries optional fields written together with a status change.
type StatusExtra struct {
	RejectionReason string
}

// Store defines persistence operations for messages and test-drive requests.
type Store interface {
	// messages
	InsertMessage(msg domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	QueryConversation(a, b string) ([]domain.Message, error)
	LastMessage(a, b string) (domain.Message, bool, error)
	CountMessagesAfter(senderID, receiverID string, after time.Time) (int, error)
	DeleteMessage(id string) error
	DeleteConversation(a, b string) error
	ListConversationPartners(viewerID string) ([]string, error)

	// test-drive requests
	InsertRequest(req domain.TestDriveRequest) error
	GetRequest(id string) (domain.TestDriveRequest, bool, error)
	CompareAndSetStatus(id string, expected, next domain.RequestStatus, extra StatusExtra) (bool, error)
	QueryPendingCountFor(dealerID string) (int, error)
	ListRequestsFor(userID string, role domain.ActorRole) ([]domain.TestDriveRequest, error)
}

// ReadMarkerStore tracks the per-viewer last-read point of a conversation.
// Unread counts are derived from it at read time.
type ReadMarkerStore interface {
	MarkRead(viewerID, partnerID string, at time.Time) error
	LastRead(viewerID, partnerID string) (time.Time, bool, error)
	ClearMarker(viewerID, partnerID string) error
}
