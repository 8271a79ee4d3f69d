package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is the single thread between two users, optionally scoped to a
// listing. Participants are stored in canonical order (ParticipantA <
// ParticipantB) so the unique index doubles as the atomic find-or-insert key:
// two concurrent first messages between the same pair land on the same row.
type Conversation struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantA string    `gorm:"size:64;not null;uniqueIndex:idx_conversation_pair,priority:1" json:"participant_a"`
	ParticipantB string    `gorm:"size:64;not null;uniqueIndex:idx_conversation_pair,priority:2" json:"participant_b"`

	// ListingID records which listing the first contact concerned. It is
	// set at creation, immutable, and not part of the conversation's
	// identity: one pair of users gets one conversation.
	ListingID string `gorm:"size:64" json:"listing_id,omitempty"`

	// Denormalized snapshot of the newest message for list rendering.
	// LastMessageID doubles as the dedup key for ApplyNewMessage.
	LastMessageID       *uuid.UUID     `gorm:"type:uuid" json:"-"`
	LastMessageText     string         `json:"last_message_text"`
	LastMessageSenderID string         `gorm:"size:64" json:"last_message_sender_id"`
	LastMessageStatus   DeliveryStatus `gorm:"size:16" json:"last_message_status"`
	LastMessageAt       *time.Time     `gorm:"index" json:"last_message_at"`

	// Per-participant unread counters, only ever mutated by single atomic
	// SQL expressions to survive concurrent sends and reads.
	UnreadA int `gorm:"not null;default:0" json:"-"`
	UnreadB int `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PairKey returns the canonical ordering of two participant ids. The same
// unordered pair always maps to the same (a, b) tuple.
func PairKey(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// Other returns the participant opposite to userID. It returns an empty
// string when userID is not a participant.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	default:
		return ""
	}
}

// UnreadFor returns the unread counter belonging to userID.
func (c *Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.ParticipantA:
		return c.UnreadA
	case c.ParticipantB:
		return c.UnreadB
	default:
		return 0
	}
}

// UnreadColumn maps userID to the column holding its unread counter.
// Repositories use it to build single-expression counter updates.
func (c *Conversation) UnreadColumn(userID string) string {
	if userID == c.ParticipantA {
		return "unread_a"
	}
	return "unread_b"
}

// LastMessage is the denormalized snapshot shape returned to clients.
type LastMessage struct {
	Text      string         `json:"text"`
	SenderID  string         `json:"sender_id"`
	Status    DeliveryStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConversationSummary is the viewer-relative projection used by the
// conversation list endpoint and the redis cache.
type ConversationSummary struct {
	ID          uuid.UUID    `json:"id"`
	RecipientID string       `json:"recipient_id"`
	ListingID   string       `json:"listing_id,omitempty"`
	LastMessage *LastMessage `json:"last_message"`
	UnreadCount int          `json:"unread_count"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Summarize projects the conversation from the point of view of viewerID.
func (c *Conversation) Summarize(viewerID string) ConversationSummary {
	summary := ConversationSummary{
		ID:          c.ID,
		RecipientID: c.Other(viewerID),
		ListingID:   c.ListingID,
		UnreadCount: c.UnreadFor(viewerID),
		UpdatedAt:   c.UpdatedAt,
	}
	if c.LastMessageID != nil && c.LastMessageAt != nil {
		summary.LastMessage = &LastMessage{
			Text:      c.LastMessageText,
			SenderID:  c.LastMessageSenderID,
			Status:    c.LastMessageStatus,
			CreatedAt: *c.LastMessageAt,
		}
	}
	return summary
}
