package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"backend/internal/models"
	"backend/internal/repository"
	"backend/internal/scheduler"
	"backend/internal/stats"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChatHandler interface {
	GetAllChats(c *gin.Context)
	GetChatByID(c *gin.Context)
	UpdateSubscription(c *gin.Context)
	ToggleSubscription(c *gin.Context)
	ResetStats(c *gin.Context)
	DeleteChat(c *gin.Context)
	RunNow(c *gin.Context)
}

type chatHandler struct {
	chats      repository.ChatRepository
	usage      repository.UsageRepository
	statsRepo  repository.StatsRepository
	aggregator *stats.Aggregator
	scheduler  *scheduler.Scheduler
	logger     *zap.Logger
}

func NewChatHandler(chats repository.ChatRepository, usage repository.UsageRepository, statsRepo repository.StatsRepository, aggregator *stats.Aggregator, sched *scheduler.Scheduler, logger *zap.Logger) ChatHandler {
	return &chatHandler{
		chats:      chats,
		usage:      usage,
		statsRepo:  statsRepo,
		aggregator: aggregator,
		scheduler:  sched,
		logger:     logger,
	}
}

func chatID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid chat ID"})
		return 0, false
	}
	return id, true
}

// GetAllChats handles GET /api/chats
func (h *chatHandler) GetAllChats(c *gin.Context) {
	chats, err := h.chats.GetAllChats()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChatByID handles GET /api/chats/:id
func (h *chatHandler) GetChatByID(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	chat, err := h.chats.GetChatByID(id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

type subscriptionRequest struct {
	Enabled         bool              `json:"enabled"`
	TimesMSK        []models.QuizTime `json:"times_msk"`
	NumQuestions    int               `json:"num_questions"`
	IntervalSeconds int               `json:"interval_seconds"`
	PollOpenSeconds int               `json:"poll_open_seconds"`
}

// UpdateSubscription handles PUT /api/chats/:id/subscription
func (h *chatHandler) UpdateSubscription(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	sub := &models.ChatSubscription{
		ChatID:          id,
		Enabled:         req.Enabled,
		TimesMSK:        req.TimesMSK,
		NumQuestions:    req.NumQuestions,
		IntervalSeconds: req.IntervalSeconds,
		PollOpenSeconds: req.PollOpenSeconds,
	}
	if err := h.scheduler.UpdateSubscription(sub); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscription updated", "subscription": sub})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ToggleSubscription handles POST /api/chats/:id/subscription/toggle
func (h *chatHandler) ToggleSubscription(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := h.scheduler.Toggle(id, *req.Enabled); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscription toggled", "enabled": *req.Enabled})
}

// ResetStats handles POST /api/chats/:id/reset-stats: zeroes scores and
// streaks for every user in the chat; achievements and settings stay.
func (h *chatHandler) ResetStats(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	if err := h.aggregator.ResetChatStats(id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat statistics reset"})
}

// purgeChat removes the chat row, its usage recency and all user stats. Once
// the chat row is gone a failed cleanup step is a partial delete: it is logged
// with the step that failed and surfaced as a consistency error so the admin
// can retry.
func purgeChat(chats repository.ChatRepository, usage repository.UsageRepository, statsRepo repository.StatsRepository, logger *zap.Logger, id int64) error {
	if err := chats.DeleteChat(id); err != nil {
		return err
	}
	if err := usage.ResetChatUsage(id); err != nil {
		logger.Error("chat deleted but usage cleanup failed",
			zap.Int64("chat_id", id), zap.String("step", "usage"), zap.Error(err))
		return fmt.Errorf("%w: chat %d deleted, usage not cleaned up: %v", models.ErrConsistency, id, err)
	}
	if err := statsRepo.DeleteChatStats(id); err != nil {
		logger.Error("chat deleted but stats cleanup failed",
			zap.Int64("chat_id", id), zap.String("step", "stats"), zap.Error(err))
		return fmt.Errorf("%w: chat %d deleted, stats not cleaned up: %v", models.ErrConsistency, id, err)
	}
	return nil
}

// DeleteChat handles DELETE /api/chats/:id: removes the chat with its
// subscription, usage recency and all user stats.
func (h *chatHandler) DeleteChat(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	if err := purgeChat(h.chats, h.usage, h.statsRepo, h.logger, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("chat deleted", zap.Int64("chat_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted"})
}

// RunNow handles POST /api/chats/:id/run-now: immediate ad-hoc quiz run,
// bypassing the daily fire marker. Delivery happens in the background; the
// response carries the run in its pending state.
func (h *chatHandler) RunNow(c *gin.Context) {
	id, ok := chatID(c)
	if !ok {
		return
	}
	run, err := h.scheduler.TriggerNow(id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Quiz run triggered", "run": run})
}
