package ginserver

import (
	"context"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"exodrive/internal/app/dto"
	"exodrive/internal/app/services/messaging"
)

// MessagingService is what the HTTP surface needs from the messaging core.
type MessagingService interface {
	SendMessage(ctx context.Context, params messaging.SendParams) (dto.Message, error)
	ListConversations(ctx context.Context, userID string) ([]dto.Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID, userID string) ([]dto.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// MessageHTTP exposes the conversation endpoints.
type MessageHTTP interface {
	Send(c *gin.Context)
	Conversations(c *gin.Context)
	ConversationMessages(c *gin.Context)
	MarkRead(c *gin.Context)
	UnreadCount(c *gin.Context)
}

type MessageHandler struct {
	Service MessagingService
	Logger  *slog.Logger
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	ListingID  string `json:"listing_id"`
	Content    string `json:"content"`
}

func (h MessageHandler) Send(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "kind": kindValidation})
		return
	}
	msg, err := h.Service.SendMessage(c.Request.Context(), messaging.SendParams{
		SenderID:   p.ID,
		ReceiverID: req.ReceiverID,
		ListingID:  req.ListingID,
		Content:    req.Content,
	})
	if err != nil {
		respondMessagingError(c, h.Logger, err, "send message", "user_id", p.ID, "listing_id", req.ListingID)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h MessageHandler) Conversations(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conversations, err := h.Service.ListConversations(c.Request.Context(), p.ID)
	if err != nil {
		respondMessagingError(c, h.Logger, err, "list conversations", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h MessageHandler) ConversationMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("conversationId")
	messages, err := h.Service.GetConversationMessages(c.Request.Context(), conversationID, p.ID)
	if err != nil {
		respondMessagingError(c, h.Logger, err, "conversation messages", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h MessageHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("conversationId")
	updated, err := h.Service.MarkConversationRead(c.Request.Context(), conversationID, p.ID)
	if err != nil {
		respondMessagingError(c, h.Logger, err, "mark read", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.MarkReadResult{Message: "Messages marked as read", Updated: updated})
}

func (h MessageHandler) UnreadCount(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	count, err := h.Service.UnreadCount(c.Request.Context(), p.ID)
	if err != nil {
		respondMessagingError(c, h.Logger, err, "unread count", "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, dto.UnreadCount{Count: count})
}

var _ MessageHTTP = MessageHandler{}
