package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/uninest/chatcore/cache"
	"github.com/uninest/chatcore/config"
	"github.com/uninest/chatcore/db"
	apiError "github.com/uninest/chatcore/errors"
	"github.com/uninest/chatcore/models"
	"github.com/uninest/chatcore/realtime"
)

// Pusher is the slice of the realtime hub the service needs: a best-effort,
// non-authoritative delivery attempt against a live session.
type Pusher interface {
	Push(userID string, event realtime.Event) bool
}

// ConversationService orchestrates the message store, the conversation
// index, the delivery state machine and the realtime channel for the two
// client-facing flows: sending a message and opening/reading a conversation.
type ConversationService interface {
	Send(senderID string, request *models.SendMessageRequest) (*models.Message, *apiError.Error)
	Conversations(userID string) ([]models.ConversationSummary, *apiError.Error)
	Messages(conversationID uuid.UUID, readerID string, limit, offset int) ([]models.Message, *apiError.Error)
	OpenAndRead(conversationID uuid.UUID, readerID string) *apiError.Error
	MarkMessageRead(messageID uuid.UUID, readerID string) (*models.Message, *apiError.Error)
	MarkMessageDelivered(messageID uuid.UUID)
	NotifyTyping(conversationID uuid.UUID, userID string, typing bool)
	TotalUnread(userID string) (int64, *apiError.Error)
}

// conversationService struct
type conversationService struct {
	Config    *config.Config
	convRepo  db.ConversationRepository
	msgRepo   db.MessageRepository
	hub       Pusher
	convCache cache.ConversationCache
	log       *logrus.Entry
}

// NewConversationService instantiates a ConversationService
func NewConversationService(convRepo db.ConversationRepository, msgRepo db.MessageRepository, hub Pusher, convCache cache.ConversationCache, conf *config.Config) ConversationService {
	return &conversationService{
		Config:    conf,
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		hub:       hub,
		convCache: convCache,
		log:       logrus.WithField("component", "conversation_service"),
	}
}

// Send persists the message first and treats realtime delivery as a pure
// optimization: once the store and index updates succeed the send has
// succeeded, whether or not anyone is online to receive the push.
func (s *conversationService) Send(senderID string, request *models.SendMessageRequest) (*models.Message, *apiError.Error) {
	if request.RecipientID == "" {
		return nil, apiError.New("recipient id is required", http.StatusBadRequest)
	}
	if request.RecipientID == senderID {
		return nil, apiError.New("cannot message yourself", http.StatusBadRequest)
	}
	// Rejecting blank content here keeps a lazy first contact from
	// creating an empty conversation below.
	if strings.TrimSpace(request.Content) == "" {
		return nil, apiError.New("message content is required", http.StatusBadRequest)
	}

	conversation, err := s.convRepo.GetOrCreate(senderID, request.RecipientID, request.ListingID)
	if err != nil {
		s.log.WithError(err).Error("Send: conversation lookup failed")
		return nil, apiError.ErrInternalServerError
	}

	message, err := s.msgRepo.Append(conversation.ID, senderID, request.RecipientID, request.Content)
	if err != nil {
		if errors.Is(err, db.ErrEmptyContent) {
			return nil, apiError.New("message content is required", http.StatusBadRequest)
		}
		s.log.WithError(err).Error("Send: append failed")
		return nil, apiError.ErrInternalServerError
	}

	if err := s.convRepo.ApplyNewMessage(conversation.ID, message); err != nil {
		s.log.WithError(err).Error("Send: index update failed")
		return nil, apiError.ErrInternalServerError
	}
	s.convCache.Invalidate(context.Background(), senderID, request.RecipientID)
	s.convCache.InvalidateMessages(context.Background(), conversation.ID)

	// Best-effort push; a failure or timeout degrades to offline and the
	// recipient observes the message on its next fetch.
	if s.tryPush(request.RecipientID, realtime.NewMessageEvent(message)) {
		applied, err := s.msgRepo.UpdateStatus(message.ID, models.StatusDelivered, nil)
		if err != nil {
			s.log.WithError(err).Warn("Send: delivered transition failed")
		} else if applied {
			message.Status = models.StatusDelivered
			if err := s.convRepo.UpdateLastMessageStatus(conversation.ID, message.ID, models.StatusDelivered); err != nil {
				s.log.WithError(err).Warn("Send: snapshot refresh failed")
			}
			s.convCache.InvalidateMessages(context.Background(), conversation.ID)
			s.tryPush(senderID, realtime.MessageStatusEvent(message.ID, models.StatusDelivered))
		}
	}

	return message, nil
}

// Conversations returns the user's conversation list, most recent first,
// serving from the redis cache when it is warm.
func (s *conversationService) Conversations(userID string) ([]models.ConversationSummary, *apiError.Error) {
	ctx := context.Background()
	if summaries, ok := s.convCache.GetConversations(ctx, userID); ok {
		return summaries, nil
	}

	conversations, err := s.convRepo.ListForUser(userID)
	if err != nil {
		s.log.WithError(err).Error("Conversations: list failed")
		return nil, apiError.ErrInternalServerError
	}

	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for i := range conversations {
		summaries = append(summaries, conversations[i].Summarize(userID))
	}
	s.convCache.SetConversations(ctx, userID, summaries)
	return summaries, nil
}

// Messages pages through a conversation's log in send order, serving from
// the redis cache when the page is warm. Only participants may read it.
func (s *conversationService) Messages(conversationID uuid.UUID, readerID string, limit, offset int) ([]models.Message, *apiError.Error) {
	conversation, apiErr := s.participantConversation(conversationID, readerID)
	if apiErr != nil {
		return nil, apiErr
	}

	ctx := context.Background()
	if messages, ok := s.convCache.GetMessages(ctx, conversation.ID, limit, offset); ok {
		return messages, nil
	}

	messages, err := s.msgRepo.ListByConversation(conversation.ID, limit, offset)
	if err != nil {
		s.log.WithError(err).Error("Messages: list failed")
		return nil, apiError.ErrInternalServerError
	}
	s.convCache.SetMessages(ctx, conversation.ID, limit, offset, messages)
	return messages, nil
}

// OpenAndRead marks every message addressed to the reader as read and
// resets the reader's badge, atomically, then tells the other participant.
// Calling it again immediately is a no-op, so duplicate opens are safe.
func (s *conversationService) OpenAndRead(conversationID uuid.UUID, readerID string) *apiError.Error {
	conversation, apiErr := s.participantConversation(conversationID, readerID)
	if apiErr != nil {
		return apiErr
	}

	readIDs, err := s.msgRepo.MarkConversationRead(conversation, readerID, time.Now())
	if err != nil {
		s.log.WithError(err).Error("OpenAndRead: transition failed")
		return apiError.ErrInternalServerError
	}
	s.convCache.Invalidate(context.Background(), readerID)

	if len(readIDs) > 0 {
		s.convCache.InvalidateMessages(context.Background(), conversation.ID)
		other := conversation.Other(readerID)
		s.tryPush(other, realtime.ConversationReadEvent(conversation.ID, readerID))
		for _, id := range readIDs {
			s.tryPush(other, realtime.MessageStatusEvent(id, models.StatusRead))
		}
	}
	return nil
}

// MarkMessageRead advances a single message to read on behalf of its
// recipient. Already-read messages are returned unchanged.
func (s *conversationService) MarkMessageRead(messageID uuid.UUID, readerID string) (*models.Message, *apiError.Error) {
	message, err := s.msgRepo.GetByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apiError.New("message not found", http.StatusNotFound)
		}
		s.log.WithError(err).Error("MarkMessageRead: lookup failed")
		return nil, apiError.ErrInternalServerError
	}
	if message.RecipientID != readerID {
		return nil, apiError.New("only the recipient may mark a message read", http.StatusForbidden)
	}
	if message.Status == models.StatusRead {
		return message, nil
	}

	now := time.Now()
	applied, err := s.msgRepo.UpdateStatus(messageID, models.StatusRead, &now)
	if err != nil {
		s.log.WithError(err).Error("MarkMessageRead: transition failed")
		return nil, apiError.ErrInternalServerError
	}
	if applied {
		message.Status = models.StatusRead
		message.ReadAt = &now
		if err := s.convRepo.DecrementUnread(message.ConversationID, readerID); err != nil {
			s.log.WithError(err).Warn("MarkMessageRead: unread decrement failed")
		}
		if err := s.convRepo.UpdateLastMessageStatus(message.ConversationID, message.ID, models.StatusRead); err != nil {
			s.log.WithError(err).Warn("MarkMessageRead: snapshot refresh failed")
		}
		s.convCache.Invalidate(context.Background(), readerID)
		s.convCache.InvalidateMessages(context.Background(), message.ConversationID)
		s.tryPush(message.SenderID, realtime.MessageStatusEvent(message.ID, models.StatusRead))
	}
	return message, nil
}

// MarkMessageDelivered handles the client's delivery acknowledgement from
// the socket. Unknown ids and duplicate acks are absorbed: the transition
// guard makes them no-ops.
func (s *conversationService) MarkMessageDelivered(messageID uuid.UUID) {
	message, err := s.msgRepo.GetByID(messageID)
	if err != nil {
		s.log.WithField("message_id", messageID).Debug("delivery ack for unknown message")
		return
	}

	applied, err := s.msgRepo.UpdateStatus(messageID, models.StatusDelivered, nil)
	if err != nil {
		s.log.WithError(err).Warn("MarkMessageDelivered: transition failed")
		return
	}
	if applied {
		if err := s.convRepo.UpdateLastMessageStatus(message.ConversationID, message.ID, models.StatusDelivered); err != nil {
			s.log.WithError(err).Warn("MarkMessageDelivered: snapshot refresh failed")
		}
		s.convCache.InvalidateMessages(context.Background(), message.ConversationID)
		s.tryPush(message.SenderID, realtime.MessageStatusEvent(messageID, models.StatusDelivered))
	}
}

// NotifyTyping relays a typing notice to the other participant. Purely
// ephemeral; nothing is persisted.
func (s *conversationService) NotifyTyping(conversationID uuid.UUID, userID string, typing bool) {
	conversation, err := s.convRepo.GetByID(conversationID)
	if err != nil || !conversation.HasParticipant(userID) {
		return
	}
	s.tryPush(conversation.Other(userID), realtime.TypingEvent(conversationID, userID, typing))
}

// TotalUnread returns the user's unread badge across all conversations.
func (s *conversationService) TotalUnread(userID string) (int64, *apiError.Error) {
	total, err := s.convRepo.TotalUnread(userID)
	if err != nil {
		s.log.WithError(err).Error("TotalUnread failed")
		return 0, apiError.ErrInternalServerError
	}
	return total, nil
}

func (s *conversationService) participantConversation(conversationID uuid.UUID, userID string) (*models.Conversation, *apiError.Error) {
	conversation, err := s.convRepo.GetByID(conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apiError.New("conversation not found", http.StatusNotFound)
		}
		s.log.WithError(err).Error("conversation lookup failed")
		return nil, apiError.ErrInternalServerError
	}
	if !conversation.HasParticipant(userID) {
		return nil, apiError.New("not a participant of this conversation", http.StatusForbidden)
	}
	return conversation, nil
}

// tryPush bounds a realtime push with a short timeout so a stalled channel
// can never hold up persistence; a timeout counts as offline.
func (s *conversationService) tryPush(userID string, event realtime.Event) bool {
	timeout := s.Config.PushTimeout()
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	done := make(chan bool, 1)
	go func() {
		done <- s.hub.Push(userID, event)
	}()

	select {
	case attempted := <-done:
		return attempted
	case <-time.After(timeout):
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"event":   event.Type,
		}).Warn("realtime push timed out")
		return false
	}
}
