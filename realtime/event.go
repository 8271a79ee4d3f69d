package realtime

import (
	"github.com/google/uuid"
	"github.com/uninest/chatcore/models"
)

// Server-to-client event types.
const (
	EventNewMessage    = "new_message"
	EventStatusChanged = "status_changed"
	EventTyping        = "user_typing"
	EventStopTyping    = "user_stopped_typing"
)

// Client-to-server frame types.
const (
	FrameDelivered  = "message_delivered"
	FrameTyping     = "typing"
	FrameStopTyping = "stop_typing"
)

// Event is a push notification to a connected client. The channel is purely
// a latency optimization: clients reconcile against the durable store, so a
// dropped event is recovered on the next fetch.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StatusChange is the payload of a status_changed event. Either MessageID
// (single message advanced) or ConversationID (whole conversation read) is
// set.
type StatusChange struct {
	MessageID      *uuid.UUID            `json:"message_id,omitempty"`
	ConversationID *uuid.UUID            `json:"conversation_id,omitempty"`
	Status         models.DeliveryStatus `json:"status"`
	ReadBy         string                `json:"read_by,omitempty"`
}

// TypingNotice tells a participant that the other side started or stopped
// typing in a conversation.
type TypingNotice struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         string    `json:"user_id"`
}

// ClientFrame is the envelope for frames the client sends over the socket:
// delivery acknowledgements and typing notices.
type ClientFrame struct {
	Type           string    `json:"type"`
	MessageID      uuid.UUID `json:"message_id,omitempty"`
	ConversationID uuid.UUID `json:"conversation_id,omitempty"`
}

// NewMessageEvent wraps a freshly appended message for the recipient.
func NewMessageEvent(msg *models.Message) Event {
	return Event{Type: EventNewMessage, Data: msg}
}

// MessageStatusEvent notifies a sender that one message advanced.
func MessageStatusEvent(messageID uuid.UUID, status models.DeliveryStatus) Event {
	return Event{Type: EventStatusChanged, Data: StatusChange{MessageID: &messageID, Status: status}}
}

// ConversationReadEvent notifies a sender that the whole conversation was
// read by the other participant.
func ConversationReadEvent(conversationID uuid.UUID, readBy string) Event {
	return Event{Type: EventStatusChanged, Data: StatusChange{
		ConversationID: &conversationID,
		Status:         models.StatusRead,
		ReadBy:         readBy,
	}}
}

// TypingEvent relays a typing notice to the other participant.
func TypingEvent(conversationID uuid.UUID, userID string, typing bool) Event {
	eventType := EventTyping
	if !typing {
		eventType = EventStopTyping
	}
	return Event{Type: eventType, Data: TypingNotice{ConversationID: conversationID, UserID: userID}}
}
