package handler

import (
	"net/http"
	"strconv"

	"backend/internal/models"
	"backend/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CategoryHandler interface {
	ListCategories(c *gin.Context)
	CreateCategory(c *gin.Context)
	DeleteCategory(c *gin.Context)
	ListQuestions(c *gin.Context)
	GetQuestion(c *gin.Context)
	AddQuestion(c *gin.Context)
	UpdateQuestion(c *gin.Context)
	DeleteQuestion(c *gin.Context)
	MoveQuestion(c *gin.Context)
}

type categoryHandler struct {
	questions repository.QuestionRepository
	logger    *zap.Logger
}

func NewCategoryHandler(questions repository.QuestionRepository, logger *zap.Logger) CategoryHandler {
	return &categoryHandler{questions: questions, logger: logger}
}

// ListCategories handles GET /api/categories
func (h *categoryHandler) ListCategories(c *gin.Context) {
	categories, err := h.questions.ListCategories()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

type createCategoryRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateCategory handles POST /api/categories
func (h *categoryHandler) CreateCategory(c *gin.Context) {
	var req createCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := h.questions.CreateCategory(req.Name); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Category created", "name": req.Name})
}

// DeleteCategory handles DELETE /api/categories/:name: cascades to all
// contained questions and reports the removed count.
func (h *categoryHandler) DeleteCategory(c *gin.Context) {
	name := c.Param("name")
	removed, err := h.questions.DeleteCategory(name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("category deleted", zap.String("name", name), zap.Int("removed_questions", removed))
	c.JSON(http.StatusOK, gin.H{"message": "Category deleted", "removed_questions": removed})
}

// ListQuestions handles GET /api/categories/:name/questions
func (h *categoryHandler) ListQuestions(c *gin.Context) {
	questions, err := h.questions.ListQuestions(c.Param("name"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func questionIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid question index"})
		return 0, false
	}
	return index, true
}

// GetQuestion handles GET /api/categories/:name/questions/:index
func (h *categoryHandler) GetQuestion(c *gin.Context) {
	index, ok := questionIndex(c)
	if !ok {
		return
	}
	question, err := h.questions.GetQuestion(c.Param("name"), index)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, question)
}

type questionRequest struct {
	Question    string   `json:"question" binding:"required"`
	Options     []string `json:"options" binding:"required"`
	Correct     string   `json:"correct" binding:"required"`
	Explanation string   `json:"explanation"`
	Difficulty  string   `json:"difficulty"`
}

func (r *questionRequest) toModel() *models.Question {
	return &models.Question{
		Question:    r.Question,
		Options:     r.Options,
		Correct:     r.Correct,
		Explanation: r.Explanation,
		Difficulty:  r.Difficulty,
	}
}

// AddQuestion handles POST /api/categories/:name/questions
func (h *categoryHandler) AddQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	q := req.toModel()
	index, err := h.questions.AddQuestion(c.Param("name"), q)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Question added", "index": index, "id": q.ID})
}

// UpdateQuestion handles PUT /api/categories/:name/questions/:index
func (h *categoryHandler) UpdateQuestion(c *gin.Context) {
	index, ok := questionIndex(c)
	if !ok {
		return
	}
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := h.questions.UpdateQuestion(c.Param("name"), index, req.toModel()); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Question updated"})
}

// DeleteQuestion handles DELETE /api/categories/:name/questions/:index.
// Later indices shift down by one; callers must re-fetch after this.
func (h *categoryHandler) DeleteQuestion(c *gin.Context) {
	index, ok := questionIndex(c)
	if !ok {
		return
	}
	if err := h.questions.DeleteQuestion(c.Param("name"), index); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Question deleted"})
}

type moveQuestionRequest struct {
	ToCategory string `json:"to_category" binding:"required"`
}

// MoveQuestion handles POST /api/categories/:name/questions/:index/move
func (h *categoryHandler) MoveQuestion(c *gin.Context) {
	index, ok := questionIndex(c)
	if !ok {
		return
	}
	var req moveQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err := h.questions.MoveQuestion(c.Param("name"), index, req.ToCategory); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Question moved", "to_category": req.ToCategory})
}
