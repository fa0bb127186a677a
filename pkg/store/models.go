package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type MessageModel struct {
	ID               string `gorm:"primaryKey"`
	ConversationKey  string `gorm:"not null;index"`
	SenderID         string `gorm:"not null;index"`
	ReceiverID       string `gorm:"not null;index"`
	Text             string `gorm:"type:text"`
	Attachment       datatypes.JSON
	CorrelationToken string
	CreatedAt        time.Time `gorm:"not null;index"`
}

type TestDriveRequestModel struct {
	ID              string `gorm:"primaryKey"`
	CarID           string `gorm:"not null;index"`
	BuyerID         string `gorm:"not null;index"`
	DealerID        string `gorm:"not null;index"`
	RequestedDate   string `gorm:"not null"`
	RequestedTime   string `gorm:"not null"`
	Status          string `gorm:"not null;index"`
	RejectionReason string
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}
