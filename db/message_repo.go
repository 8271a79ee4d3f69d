package db

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/uninest/chatcore/models"
	"gorm.io/gorm"
)

// ErrEmptyContent rejects messages with no visible text.
var ErrEmptyContent = errors.New("message content must not be empty")

// MessageRepository is the durable, ordered message log and the only
// authority for delivery status.
type MessageRepository interface {
	Append(conversationID uuid.UUID, senderID, recipientID, content string) (*models.Message, error)
	GetByID(id uuid.UUID) (*models.Message, error)
	ListByConversation(conversationID uuid.UUID, limit, offset int) ([]models.Message, error)
	UpdateStatus(messageID uuid.UUID, next models.DeliveryStatus, readAt *time.Time) (bool, error)
	MarkConversationRead(conversation *models.Conversation, readerID string, readAt time.Time) ([]uuid.UUID, error)
}

type messageRepo struct {
	DB *gorm.DB

	// Per-conversation append locks serialize timestamp assignment so
	// created_at stays strictly increasing within one conversation.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewMessageRepo creates a new instance of MessageRepository
func NewMessageRepo(db *GormDB) MessageRepository {
	return &messageRepo{
		DB:    db.DB,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *messageRepo) conversationLock(conversationID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[conversationID] = lock
	}
	return lock
}

// Append persists a new message in status sent. The server assigns the
// timestamp: strictly greater than the conversation's previous message even
// when the wall clock stalls or skews, which is what keeps rendering order
// equal to send order.
func (r *messageRepo) Append(conversationID uuid.UUID, senderID, recipientID, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	lock := r.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	var last models.Message
	createdAt := time.Now()
	err := r.DB.
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(1).
		First(&last).Error
	if err == nil && !createdAt.After(last.CreatedAt) {
		createdAt = last.CreatedAt.Add(time.Microsecond)
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "failed to read conversation tail")
	}

	message := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		Status:         models.StatusSent,
		CreatedAt:      createdAt,
	}
	if err := r.DB.Create(&message).Error; err != nil {
		return nil, errors.Wrap(err, "failed to append message")
	}
	return &message, nil
}

func (r *messageRepo) GetByID(id uuid.UUID) (*models.Message, error) {
	var message models.Message
	if err := r.DB.Where("id = ?", id).First(&message).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

// ListByConversation pages through the log in ascending send order.
func (r *messageRepo) ListByConversation(conversationID uuid.UUID, limit, offset int) ([]models.Message, error) {
	query := r.DB.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var messages []models.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	return messages, nil
}

// UpdateStatus advances a message's status if the transition is legal from
// the row's current status. Illegal, duplicate or unknown-id updates are
// silent no-ops so late and repeated acknowledgements are absorbed safely.
// Returns whether a row actually changed.
func (r *messageRepo) UpdateStatus(messageID uuid.UUID, next models.DeliveryStatus, readAt *time.Time) (bool, error) {
	predecessors := models.StatusPredecessors(next)
	if len(predecessors) == 0 {
		return false, nil
	}

	updates := map[string]interface{}{"status": next}
	if next == models.StatusRead {
		updates["read_at"] = readAt
	}

	result := r.DB.Model(&models.Message{}).
		Where("id = ? AND status IN ?", messageID, predecessors).
		Updates(updates)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to update message status")
	}
	return result.RowsAffected > 0, nil
}

// MarkConversationRead advances every message addressed to the reader that
// is still below read, and resets the reader's unread counter in the same
// transaction. Either both happen or neither, so the badge count can never
// drift from the message statuses. Returns the ids of messages that moved.
func (r *messageRepo) MarkConversationRead(conversation *models.Conversation, readerID string, readAt time.Time) ([]uuid.UUID, error) {
	var updated []uuid.UUID

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var pending []models.Message
		err := tx.
			Select("id").
			Where("conversation_id = ? AND recipient_id = ? AND status <> ?",
				conversation.ID, readerID, models.StatusRead).
			Find(&pending).Error
		if err != nil {
			return errors.Wrap(err, "failed to find unread messages")
		}

		if len(pending) > 0 {
			ids := make([]uuid.UUID, 0, len(pending))
			for _, m := range pending {
				ids = append(ids, m.ID)
			}
			err = tx.Model(&models.Message{}).
				Where("id IN ?", ids).
				Updates(map[string]interface{}{
					"status":  models.StatusRead,
					"read_at": readAt,
				}).Error
			if err != nil {
				return errors.Wrap(err, "failed to mark messages read")
			}
			updated = ids

			// Keep the denormalized snapshot in step when the newest
			// message was one of those just read.
			err = tx.Model(&models.Conversation{}).
				Where("id = ? AND last_message_sender_id <> ?", conversation.ID, readerID).
				UpdateColumn("last_message_status", models.StatusRead).Error
			if err != nil {
				return errors.Wrap(err, "failed to refresh last message snapshot")
			}
		}

		err = tx.Model(&models.Conversation{}).
			Where("id = ?", conversation.ID).
			UpdateColumn(conversation.UnreadColumn(readerID), 0).Error
		if err != nil {
			return errors.Wrap(err, "failed to reset unread count")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
