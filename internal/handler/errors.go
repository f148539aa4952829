package handler

import (
	"errors"
	"net/http"

	"backend/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps the domain error taxonomy onto HTTP statuses. Validation
// and not-found surface directly with a detail field; consistency and unknown
// errors are logged with context and summarized to the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrNoCategoriesAvailable),
		errors.Is(err, models.ErrNoTimesConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrCategoryNotFound),
		errors.Is(err, models.ErrQuestionIndex),
		errors.Is(err, models.ErrChatNotFound),
		errors.Is(err, models.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, models.ErrConsistency):
		logger.Error("consistency error", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal consistency error"})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	}
}
