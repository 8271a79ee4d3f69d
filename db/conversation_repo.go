package db

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uninest/chatcore/models"
	"gorm.io/gorm"
)

// ConversationRepository is the conversation index: it resolves participant
// pairs to their single conversation and keeps the denormalized summary and
// unread counters consistent.
type ConversationRepository interface {
	GetOrCreate(userA, userB, listingID string) (*models.Conversation, error)
	GetByID(id uuid.UUID) (*models.Conversation, error)
	ListForUser(userID string) ([]models.Conversation, error)
	ApplyNewMessage(conversationID uuid.UUID, msg *models.Message) error
	UpdateLastMessageStatus(conversationID, messageID uuid.UUID, status models.DeliveryStatus) error
	DecrementUnread(conversationID uuid.UUID, userID string) error
	TotalUnread(userID string) (int64, error)
}

type conversationRepo struct {
	DB *gorm.DB
}

// NewConversationRepo creates a new instance of ConversationRepository
func NewConversationRepo(db *GormDB) ConversationRepository {
	return &conversationRepo{db.DB}
}

// GetOrCreate finds the conversation for the unordered pair, creating it on
// first contact. The unique index on the canonical pair resolves concurrent
// first messages: the loser of the insert race re-reads the winner's row.
func (r *conversationRepo) GetOrCreate(userA, userB, listingID string) (*models.Conversation, error) {
	a, b := models.PairKey(userA, userB)

	var conversation models.Conversation
	err := r.DB.Where("participant_a = ? AND participant_b = ?", a, b).First(&conversation).Error
	if err == nil {
		return &conversation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "failed to look up conversation")
	}

	conversation = models.Conversation{
		ID:           uuid.New(),
		ParticipantA: a,
		ParticipantB: b,
		ListingID:    listingID,
	}
	err = r.DB.Create(&conversation).Error
	if err == nil {
		return &conversation, nil
	}
	if !isUniqueViolation(err) {
		return nil, errors.Wrap(err, "failed to create conversation")
	}

	// Lost the first-contact race; the other side's row is authoritative.
	if err := r.DB.Where("participant_a = ? AND participant_b = ?", a, b).First(&conversation).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load conversation after insert race")
	}
	return &conversation, nil
}

func (r *conversationRepo) GetByID(id uuid.UUID) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := r.DB.Where("id = ?", id).First(&conversation).Error; err != nil {
		return nil, err
	}
	return &conversation, nil
}

// ListForUser returns the user's conversations, most recently active first,
// ties broken by id for a stable order.
func (r *conversationRepo) ListForUser(userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.DB.
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST, id ASC").
		Find(&conversations).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	return conversations, nil
}

// ApplyNewMessage refreshes the last-message snapshot and bumps the
// recipient's unread counter in one guarded UPDATE. The last_message_id
// guard makes retries of the same message no-ops, and the last_message_at
// guard extends that to out-of-order retries: timestamps are strictly
// increasing within a conversation, so a stale re-apply of an older message
// can neither double-increment the badge nor regress the snapshot.
func (r *conversationRepo) ApplyNewMessage(conversationID uuid.UUID, msg *models.Message) error {
	a, _ := models.PairKey(msg.SenderID, msg.RecipientID)
	unreadColumn := "unread_b"
	if msg.RecipientID == a {
		unreadColumn = "unread_a"
	}

	err := r.DB.Model(&models.Conversation{}).
		Where("id = ? AND (last_message_id IS NULL OR last_message_id <> ?) AND (last_message_at IS NULL OR last_message_at < ?)",
			conversationID, msg.ID, msg.CreatedAt).
		Updates(map[string]interface{}{
			"last_message_id":        msg.ID,
			"last_message_text":      msg.Content,
			"last_message_sender_id": msg.SenderID,
			"last_message_status":    msg.Status,
			"last_message_at":        msg.CreatedAt,
			unreadColumn:             gorm.Expr(unreadColumn + " + 1"),
			"updated_at":             time.Now(),
		}).Error
	if err != nil {
		return errors.Wrap(err, "failed to apply new message to conversation")
	}
	return nil
}

// UpdateLastMessageStatus refreshes the snapshot's status field. Guarded by
// the message id so a transition landing after a newer message has replaced
// the snapshot is a no-op.
func (r *conversationRepo) UpdateLastMessageStatus(conversationID, messageID uuid.UUID, status models.DeliveryStatus) error {
	err := r.DB.Model(&models.Conversation{}).
		Where("id = ? AND last_message_id = ?", conversationID, messageID).
		UpdateColumn("last_message_status", status).Error
	if err != nil {
		return errors.Wrap(err, "failed to update last message status")
	}
	return nil
}

// DecrementUnread drops the reader's unread counter by one for a single
// per-message read, guarded so the counter never goes negative.
func (r *conversationRepo) DecrementUnread(conversationID uuid.UUID, userID string) error {
	conversation, err := r.GetByID(conversationID)
	if err != nil {
		return err
	}
	column := conversation.UnreadColumn(userID)
	err = r.DB.Model(&models.Conversation{}).
		Where("id = ? AND "+column+" > 0", conversationID).
		UpdateColumn(column, gorm.Expr(column+" - 1")).Error
	if err != nil {
		return errors.Wrap(err, "failed to decrement unread count")
	}
	return nil
}

// TotalUnread sums the user's unread counters across all conversations for
// the global badge.
func (r *conversationRepo) TotalUnread(userID string) (int64, error) {
	var total int64
	err := r.DB.Model(&models.Conversation{}).
		Select("COALESCE(SUM(CASE WHEN participant_a = ? THEN unread_a ELSE unread_b END), 0)", userID).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum unread counts")
	}
	return total, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
