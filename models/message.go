package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single immutable entry in a conversation's log. CreatedAt is
// server-assigned and strictly increasing within a conversation, so messages
// render in send order even when client clocks disagree. Status only ever
// moves forward through the delivery lifecycle.
type Message struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SenderID       string         `gorm:"size:64;not null" json:"sender_id"`
	RecipientID    string         `gorm:"size:64;not null;index" json:"recipient_id"`
	Content        string         `gorm:"not null" json:"content"`
	Status         DeliveryStatus `gorm:"size:16;not null;default:sent" json:"status"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
}

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Content     string `json:"content" binding:"required"`
	ListingID   string `json:"listing_id"`
}
