package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ephemeral-chat/internal/apperrors"
	"ephemeral-chat/internal/lifecycle"
	"ephemeral-chat/internal/models"
)

// MessageService is the lifecycle engine as the REST surface sees it.
type MessageService interface {
	CreateConversation(ctx context.Context, creatorID int64, participantIDs []int64) (models.Conversation, error)
	Send(ctx context.Context, authorID, conversationID int64, in lifecycle.SendInput) (models.Message, error)
	MarkViewed(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID) (models.Message, error)
	RequestDelete(ctx context.Context, actorID, conversationID int64, messageID uuid.UUID, scope models.DeleteScope) error
	ListForViewer(ctx context.Context, viewerID, conversationID int64) ([]models.Message, error)
}

// Translator renders a visible message in another language.
type Translator interface {
	Translate(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID, target string) (models.Translation, error)
}

// ConversationHandler serves conversation and message endpoints.
type ConversationHandler struct {
	service    MessageService
	translator Translator
}

func NewConversationHandler(service MessageService, translator Translator) *ConversationHandler {
	return &ConversationHandler{service: service, translator: translator}
}

// Register mounts the routes on an authenticated group.
func (h *ConversationHandler) Register(r gin.IRoutes) {
	r.POST("/conversations", h.CreateConversation)
	r.GET("/conversations/:conversation_id/messages", h.ListMessages)
	r.POST("/conversations/:conversation_id/messages", h.PostMessage)
	r.POST("/conversations/:conversation_id/messages/:message_id/view", h.MarkViewed)
	r.DELETE("/conversations/:conversation_id/messages/:message_id", h.DeleteMessage)
	r.POST("/conversations/:conversation_id/messages/:message_id/translate", h.TranslateMessage)
}

// CreateConversation opens a conversation that includes the caller.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantIDs []int64 `json:"participant_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.service.CreateConversation(c.Request.Context(), c.GetInt64("userID"), req.ParticipantIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// ListMessages returns the conversation as the caller may see it.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	msgs, err := h.service.ListForViewer(c.Request.Context(), c.GetInt64("userID"), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage appends a message in the delivered, unviewed state.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}

	var req struct {
		ID         *uuid.UUID         `json:"id"`
		Content    *string            `json:"content"`
		Media      []string           `json:"media"`
		Kind       models.MessageKind `json:"kind"`
		TTLSeconds int                `json:"ttl_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TTLSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ttl_seconds must not be negative"})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), c.GetInt64("userID"), conversationID, lifecycle.SendInput{
		ID:      req.ID,
		Content: req.Content,
		Media:   req.Media,
		Kind:    req.Kind,
		TTL:     time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkViewed records a qualifying view and returns the canonical message.
func (h *ConversationHandler) MarkViewed(c *gin.Context) {
	conversationID, messageID, ok := messageParams(c)
	if !ok {
		return
	}

	msg, err := h.service.MarkViewed(c.Request.Context(), c.GetInt64("userID"), conversationID, messageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage hides the message for the caller or deletes it for everyone.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	conversationID, messageID, ok := messageParams(c)
	if !ok {
		return
	}

	scope := models.DeleteScope(c.DefaultQuery("scope", string(models.ScopeMe)))
	if !scope.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope must be me or everyone"})
		return
	}

	if err := h.service.RequestDelete(c.Request.Context(), c.GetInt64("userID"), conversationID, messageID, scope); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TranslateMessage returns a translation without touching view state.
func (h *ConversationHandler) TranslateMessage(c *gin.Context) {
	conversationID, messageID, ok := messageParams(c)
	if !ok {
		return
	}
	if h.translator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "translation is not configured"})
		return
	}

	var req struct {
		TargetLang string `json:"target_lang" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tr, err := h.translator.Translate(c.Request.Context(), c.GetInt64("userID"), conversationID, messageID, req.TargetLang)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"translation": tr})
}

func conversationParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return id, true
}

func messageParams(c *gin.Context) (int64, uuid.UUID, bool) {
	conversationID, ok := conversationParam(c)
	if !ok {
		return 0, uuid.Nil, false
	}
	messageID, err := uuid.Parse(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, uuid.Nil, false
	}
	return conversationID, messageID, true
}

func writeError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{
		"error": apperrors.PublicMessage(err),
		"code":  apperrors.CodeOf(err),
	})
}
