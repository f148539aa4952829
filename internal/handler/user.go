package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"backend/internal/models"
	"backend/internal/repository"
	"backend/internal/stats"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UserHandler interface {
	ListUsers(c *gin.Context)
	GetUser(c *gin.Context)
	DeleteUser(c *gin.Context)
	ResetStats(c *gin.Context)
	Ban(c *gin.Context)
	Unban(c *gin.Context)
	GetBlacklist(c *gin.Context)
}

type userHandler struct {
	aggregator *stats.Aggregator
	statsRepo  repository.StatsRepository
	blacklist  repository.BlacklistRepository
	logger     *zap.Logger
}

func NewUserHandler(aggregator *stats.Aggregator, statsRepo repository.StatsRepository, blacklist repository.BlacklistRepository, logger *zap.Logger) UserHandler {
	return &userHandler{
		aggregator: aggregator,
		statsRepo:  statsRepo,
		blacklist:  blacklist,
		logger:     logger,
	}
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid user ID"})
		return 0, false
	}
	return id, true
}

// ListUsers handles GET /api/users: global aggregates per user.
func (h *userHandler) ListUsers(c *gin.Context) {
	users, err := h.aggregator.Leaderboard(0, 0)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}

// GetUser handles GET /api/users/:id: cross-chat totals plus the permanent
// achievement list (resets never remove it).
func (h *userHandler) GetUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	summary, err := h.aggregator.UserSummary(id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DeleteUser handles DELETE /api/users/:id: hard delete across all chats.
func (h *userHandler) DeleteUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	if err := h.statsRepo.DeleteUser(id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("user deleted", zap.Int64("user_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
}

// ResetStats handles POST /api/users/:id/reset-stats
func (h *userHandler) ResetStats(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	if err := h.aggregator.ResetUserStats(id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User statistics reset"})
}

type banRequest struct {
	Reason string `json:"reason"`
}

// Ban handles POST /api/users/:id/ban. Idempotent: re-banning refreshes the
// reason and timestamp.
func (h *userHandler) Ban(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req banRequest
	_ = c.ShouldBindJSON(&req) // Body optional.
	if req.Reason == "" {
		req.Reason = "Banned by administrator"
	}

	name := fmt.Sprintf("User %d", id)
	if summary, err := h.aggregator.UserSummary(id); err == nil && summary.Name != "" {
		name = summary.Name
	}

	entry := &models.BlacklistEntry{
		SubjectID:   id,
		SubjectKind: models.SubjectUser,
		Name:        name,
		Reason:      req.Reason,
		BannedAt:    time.Now(),
		BannedBy:    "admin",
	}
	if err := h.blacklist.Ban(entry); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("%s added to the blacklist", name)})
}

// Unban handles POST /api/users/:id/unban. A subject that was not banned is a
// normal outcome for the admin surface, reported as success:false rather than
// an error status.
func (h *userHandler) Unban(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	removed, err := h.blacklist.Unban(id, models.SubjectUser)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !removed {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "User is not in the blacklist"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User unbanned"})
}

// GetBlacklist handles GET /api/blacklist: `{users:{}, chats:{}}` keyed by id.
func (h *userHandler) GetBlacklist(c *gin.Context) {
	entries, err := h.blacklist.List()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	users := make(map[string]models.BlacklistEntry)
	chats := make(map[string]models.BlacklistEntry)
	for _, entry := range entries {
		key := strconv.FormatInt(entry.SubjectID, 10)
		switch entry.SubjectKind {
		case models.SubjectChat:
			chats[key] = entry
		default:
			users[key] = entry
		}
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "chats": chats})
}
