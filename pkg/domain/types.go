package domain

import "time"

type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusAccepted   RequestStatus = "accepted"
	StatusRejected   RequestStatus = "rejected"
	StatusInProgress RequestStatus = "in-progress"
	StatusCompleted  RequestStatus = "completed"
	StatusCancelled  RequestStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type ActorRole string

const (
	RoleBuyer  ActorRole = "buyer"
	RoleDealer ActorRole = "dealer"
)

type TransitionEvent string

const (
	EventAccept   TransitionEvent = "accept"
	EventReject   TransitionEvent = "reject"
	EventCancel   TransitionEvent = "cancel"
	EventStart    TransitionEvent = "start"
	EventComplete TransitionEvent = "complete"
)

// ConversationKey identifies one chat thread independent of who is
// sender and who is receiver.
type ConversationKey struct {
	Low  string
	High string
}

// NewConversationKey builds the order-independent key for two user IDs.
func NewConversationKey(a, b string) ConversationKey {
	if a > b {
		a, b = b, a
	}
	return ConversationKey{Low: a, High: b}
}

// String renders the key in its stored form, e.g. "u1:u2".
func (k ConversationKey) String() string {
	return k.Low + ":" + k.High
}

type Attachment struct {
	StorageKey  string `json:"storageKey"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

// Message is immutable once created. At least one of Text/Attachment is set.
type Message struct {
	ID               string      `json:"id"`
	SenderID         string      `json:"senderId"`
	ReceiverID       string      `json:"receiverId"`
	Text             string      `json:"text,omitempty"`
	Attachment       *Attachment `json:"attachment,omitempty"`
	CorrelationToken string      `json:"correlationToken,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// Key returns the conversation key for the message's participant pair.
func (m Message) Key() ConversationKey {
	return NewConversationKey(m.SenderID, m.ReceiverID)
}

// Partner returns the other participant from viewer's perspective.
func (m Message) Partner(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationSummary is a read-time projection, never stored.
type ConversationSummary struct {
	PartnerID   string   `json:"partnerId"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}

// TestDriveRequest is never deleted; it only reaches a terminal status.
type TestDriveRequest struct {
	ID              string        `json:"id"`
	CarID           string        `json:"carId"`
	BuyerID         string        `json:"buyerId"`
	DealerID        string        `json:"dealerId"`
	RequestedDate   string        `json:"requestedDate"`
	RequestedTime   string        `json:"requestedTime"`
	Status          RequestStatus `json:"status"`
	RejectionReason string        `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Counterpart returns the identity to notify after actorID changed the request.
func (r TestDriveRequest) Counterpart(actorID string) string {
	if actorID == r.BuyerID {
		return r.DealerID
	}
	return r.BuyerID
}
