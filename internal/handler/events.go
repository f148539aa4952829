package handler

import (
	"errors"
	"net/http"

	"backend/internal/models"
	"backend/internal/repository"
	"backend/internal/stats"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EventHandler accepts events from the bot collaborator. The bot owns the
// chat transport; this is the ingestion boundary into the backend.
type EventHandler interface {
	SubmitAnswer(c *gin.Context)
	RegisterChat(c *gin.Context)
}

type eventHandler struct {
	aggregator *stats.Aggregator
	chats      repository.ChatRepository
	logger     *zap.Logger
}

func NewEventHandler(aggregator *stats.Aggregator, chats repository.ChatRepository, logger *zap.Logger) EventHandler {
	return &eventHandler{aggregator: aggregator, chats: chats, logger: logger}
}

// SubmitAnswer handles POST /api/events/answer. Duplicate event ids are
// acknowledged without reapplying; stale (out-of-order) events are rejected.
func (h *eventHandler) SubmitAnswer(c *gin.Context) {
	var event models.AnswerEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	err := h.aggregator.Ingest(&event)
	if errors.Is(err, models.ErrDuplicateEvent) {
		c.JSON(http.StatusOK, gin.H{"message": "Event already processed"})
		return
	}
	if errors.Is(err, models.ErrStaleEvent) {
		c.JSON(http.StatusConflict, gin.H{"detail": "Event is older than the last applied answer"})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Answer recorded"})
}

type registerChatRequest struct {
	ChatID  int64  `json:"chat_id" binding:"required"`
	Title   string `json:"title"`
	IsGroup bool   `json:"is_group"`
}

// RegisterChat handles POST /api/events/chat. The bot reports every chat it
// joins so the admin surface and scheduler know about it; re-registering
// refreshes the title.
func (h *eventHandler) RegisterChat(c *gin.Context) {
	var req registerChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	chat := &models.Chat{ID: req.ChatID, Title: req.Title, IsGroup: req.IsGroup}
	if err := h.chats.UpsertChat(chat); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("chat registered", zap.Int64("chat_id", req.ChatID), zap.String("title", req.Title))
	c.JSON(http.StatusOK, gin.H{"message": "Chat registered"})
}
