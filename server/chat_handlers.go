package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	errs "github.com/uninest/chatcore/errors"
	"github.com/uninest/chatcore/models"
	"github.com/uninest/chatcore/server/response"
)

const defaultPageSize = 50

// handleGetConversations returns the caller's conversation list, most
// recently active first.
func (s *Server) handleGetConversations() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}

		summaries, apiErr := s.ConversationService.Conversations(userID)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "conversations retrieved successfully", http.StatusOK, summaries, nil)
	}
}

// handleGetMessages returns one page of a conversation's log and then marks
// the conversation read for the caller, mirroring a client opening the
// thread.
func (s *Server) handleGetMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}

		conversationID, err := uuid.Parse(c.Param("conversationID"))
		if err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid conversation id", http.StatusBadRequest))
			return
		}

		limit := queryInt(c, "limit", defaultPageSize)
		offset := queryInt(c, "offset", 0)

		messages, apiErr := s.ConversationService.Messages(conversationID, userID, limit, offset)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}

		if apiErr := s.ConversationService.OpenAndRead(conversationID, userID); apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}

		response.JSON(c, "messages retrieved successfully", http.StatusOK, messages, nil)
	}
}

// handleMarkConversationRead is the explicit mark-all-read endpoint; opening
// the conversation already does this implicitly.
func (s *Server) handleMarkConversationRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}

		conversationID, err := uuid.Parse(c.Param("conversationID"))
		if err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid conversation id", http.StatusBadRequest))
			return
		}

		if apiErr := s.ConversationService.OpenAndRead(conversationID, userID); apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "conversation marked as read", http.StatusOK, nil, nil)
	}
}

// handleSendMessage creates a message for the authenticated sender. The
// response carries the message's current status: delivered when the
// recipient's live session took the push, sent otherwise.
func (s *Server) handleSendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}

		var request models.SendMessageRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid request body", http.StatusBadRequest))
			return
		}

		message, apiErr := s.ConversationService.Send(userID, &request)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "message sent successfully", http.StatusCreated, message, nil)
	}
}

// handleMarkMessageRead advances one message to read. Idempotent: an
// already-read message comes back unchanged.
func (s *Server) handleMarkMessageRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}

		messageID, err := uuid.Parse(c.Param("messageID"))
		if err != nil {
			response.JSON(c, "", http.StatusBadRequest, nil, errs.New("invalid message id", http.StatusBadRequest))
			return
		}

		message, apiErr := s.ConversationService.MarkMessageRead(messageID, userID)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "message marked as read", http.StatusOK, message, nil)
	}
}

// handleUnreadCount returns the caller's total unread badge.
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			response.JSON(c, "", http.StatusInternalServerError, nil, errs.ErrInternalServerError)
			return
		}

		total, apiErr := s.ConversationService.TotalUnread(userID)
		if apiErr != nil {
			response.JSON(c, "", apiErr.Status, nil, apiErr)
			return
		}
		response.JSON(c, "unread count retrieved successfully", http.StatusOK, gin.H{"unread_count": total}, nil)
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
