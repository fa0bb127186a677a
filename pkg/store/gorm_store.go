package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"motorbay/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&MessageModel{}, &TestDriveRequestModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// InsertMessage records a message.
func (s *GormStore) InsertMessage(msg domain.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetMessage retrieves a message by ID.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	msg, err := messageFromModel(model)
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

// QueryConversation returns the thread between a and b ordered by
// created_at ascending with a stable ID tie-break.
func (s *GormStore) QueryConversation(a, b string) ([]domain.Message, error) {
	var models []MessageModel
	key := domain.NewConversationKey(a, b).String()
	if err := s.db.Where("conversation_key = ?", key).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, nil
}

// LastMessage returns the newest message of the thread between a and b.
func (s *GormStore) LastMessage(a, b string) (domain.Message, bool, error) {
	var model MessageModel
	key := domain.NewConversationKey(a, b).String()
	if err := s.db.Where("conversation_key = ?", key).
		Order("created_at DESC, id DESC").
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	msg, err := messageFromModel(model)
	if err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

// CountMessagesAfter counts messages from sender to receiver newer than after.
func (s *GormStore) CountMessagesAfter(senderID, receiverID string, after time.Time) (int, error) {
	var count int64
	if err := s.db.Model(&MessageModel{}).
		Where("sender_id = ? AND receiver_id = ? AND created_at > ?", senderID, receiverID, after).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// DeleteMessage removes a single message.
func (s *GormStore) DeleteMessage(id string) error {
	return s.db.Delete(&MessageModel{}, "id = ?", id).Error
}

// DeleteConversation removes every message of the thread between a and b.
func (s *GormStore) DeleteConversation(a, b string) error {
	key := domain.NewConversationKey(a, b).String()
	return s.db.Delete(&MessageModel{}, "conversation_key = ?", key).Error
}

// ListConversationPartners returns the distinct identities the viewer has a
// thread with, most recent thread first.
func (s *GormStore) ListConversationPartners(viewerID string) ([]string, error) {
	var rows []struct {
		SenderID   string
		ReceiverID string
	}
	if err := s.db.Model(&MessageModel{}).
		Select("sender_id, receiver_id").
		Where("sender_id = ? OR receiver_id = ?", viewerID, viewerID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	partners := make([]string, 0)
	for _, row := range rows {
		partner := row.SenderID
		if partner == viewerID {
			partner = row.ReceiverID
		}
		if _, ok := seen[partner]; ok {
			continue
		}
		seen[partner] = struct{}{}
		partners = append(partners, partner)
	}
	return partners, nil
}

// InsertRequest records a new test-drive request.
func (s *GormStore) InsertRequest(req domain.TestDriveRequest) error {
	model := requestToModel(req)
	return s.db.Create(&model).Error
}

// GetRequest retrieves a request by ID.
func (s *GormStore) GetRequest(id string) (domain.TestDriveRequest, bool, error) {
	var model TestDriveRequestModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.TestDriveRequest{}, false, nil
		}
		return domain.TestDriveRequest{}, false, err
	}
	return requestFromModel(model), true, nil
}

// CompareAndSetStatus atomically moves a request from expected to next.
// Returns false when another writer changed the status first.
func (s *GormStore) CompareAndSetStatus(id string, expected, next domain.RequestStatus, extra StatusExtra) (bool, error) {
	updates := map[string]any{
		"status":     string(next),
		"updated_at": time.Now().UTC(),
	}
	if extra.RejectionReason != "" {
		updates["rejection_reason"] = extra.RejectionReason
	}
	tx := s.db.Model(&TestDriveRequestModel{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// QueryPendingCountFor counts pending requests addressed to a dealer.
func (s *GormStore) QueryPendingCountFor(dealerID string) (int, error) {
	var count int64
	if err := s.db.Model(&TestDriveRequestModel{}).
		Where("dealer_id = ? AND status = ?", dealerID, string(domain.StatusPending)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListRequestsFor returns requests where userID holds the given role,
// newest first.
func (s *GormStore) ListRequestsFor(userID string, role domain.ActorRole) ([]domain.TestDriveRequest, error) {
	column := "buyer_id"
	if role == domain.RoleDealer {
		column = "dealer_id"
	}
	var models []TestDriveRequestModel
	if err := s.db.Where(column+" = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.TestDriveRequest, 0, len(models))
	for _, m := range models {
		res = append(res, requestFromModel(m))
	}
	return res, nil
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	model := MessageModel{
		ID:               msg.ID,
		ConversationKey:  msg.Key().String(),
		SenderID:         msg.SenderID,
		ReceiverID:       msg.ReceiverID,
		Text:             msg.Text,
		CorrelationToken: msg.CorrelationToken,
		CreatedAt:        msg.CreatedAt,
	}
	if msg.Attachment != nil {
		raw, err := json.Marshal(msg.Attachment)
		if err != nil {
			return MessageModel{}, fmt.Errorf("encode attachment: %w", err)
		}
		model.Attachment = raw
	}
	return model, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	msg := domain.Message{
		ID:               m.ID,
		SenderID:         m.SenderID,
		ReceiverID:       m.ReceiverID,
		Text:             m.Text,
		CorrelationToken: m.CorrelationToken,
		CreatedAt:        m.CreatedAt,
	}
	if len(m.Attachment) > 0 {
		var att domain.Attachment
		if err := json.Unmarshal(m.Attachment, &att); err != nil {
			return domain.Message{}, fmt.Errorf("decode attachment: %w", err)
		}
		msg.Attachment = &att
	}
	return msg, nil
}

func requestToModel(r domain.TestDriveRequest) TestDriveRequestModel {
	return TestDriveRequestModel{
		ID:              r.ID,
		CarID:           r.CarID,
		BuyerID:         r.BuyerID,
		DealerID:        r.DealerID,
		RequestedDate:   r.RequestedDate,
		RequestedTime:   r.RequestedTime,
		Status:          string(r.Status),
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func requestFromModel(m TestDriveRequestModel) domain.TestDriveRequest {
	return domain.TestDriveRequest{
		ID:              m.ID,
		CarID:           m.CarID,
		BuyerID:         m.BuyerID,
		DealerID:        m.DealerID,
		RequestedDate:   m.RequestedDate,
		RequestedTime:   m.RequestedTime,
		Status:          domain.RequestStatus(m.Status),
		RejectionReason: m.RejectionReason,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
