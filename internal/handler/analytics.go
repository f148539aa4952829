package handler

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"backend/internal/repository"
	"backend/internal/stats"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyticsHandler interface {
	GetDashboard(c *gin.Context)
	GetSummary(c *gin.Context)
	GetLeaderboard(c *gin.Context)
	GetActivityChart(c *gin.Context)
	GetCategoriesChart(c *gin.Context)
	GetUsersChart(c *gin.Context)
}

type analyticsHandler struct {
	questions  repository.QuestionRepository
	chats      repository.ChatRepository
	statsRepo  repository.StatsRepository
	usage      repository.UsageRepository
	aggregator *stats.Aggregator
	logger     *zap.Logger
}

func NewAnalyticsHandler(questions repository.QuestionRepository, chats repository.ChatRepository, statsRepo repository.StatsRepository, usage repository.UsageRepository, aggregator *stats.Aggregator, logger *zap.Logger) AnalyticsHandler {
	return &analyticsHandler{
		questions:  questions,
		chats:      chats,
		statsRepo:  statsRepo,
		usage:      usage,
		aggregator: aggregator,
		logger:     logger,
	}
}

// DashboardStats represents the statistics for the dashboard. Everything is
// computed on demand by scanning current rows; nothing is cached eagerly.
type DashboardStats struct {
	TotalCategories  int     `json:"total_categories"`
	TotalQuestions   int     `json:"total_questions"`
	TotalChats       int     `json:"total_chats"`
	SubscribedChats  int     `json:"subscribed_chats"`
	TotalUsers       int     `json:"total_users"`
	TotalAnswers     int     `json:"total_answers"`
	TotalScore       float64 `json:"total_score"`
	ActiveUsers24h   int     `json:"active_users_24h"`
	AverageScore     float64 `json:"average_score"`
	BestStreak       int     `json:"best_streak"`
}

// GetDashboard handles GET /api/analytics/dashboard
func (h *analyticsHandler) GetDashboard(c *gin.Context) {
	categories, err := h.questions.ListCategories()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	chats, err := h.chats.GetAllChats()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	allStats, err := h.statsRepo.ListAllStats()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	var dashboard DashboardStats
	dashboard.TotalCategories = len(categories)
	for _, cat := range categories {
		dashboard.TotalQuestions += cat.QuestionCount
	}
	dashboard.TotalChats = len(chats)
	for _, chat := range chats {
		if chat.Subscription != nil && chat.Subscription.Enabled {
			dashboard.SubscribedChats++
		}
	}

	users := make(map[int64]struct{})
	dayAgo := time.Now().Add(-24 * time.Hour)
	active := make(map[int64]struct{})
	for _, s := range allStats {
		users[s.UserID] = struct{}{}
		dashboard.TotalAnswers += s.AnsweredCount
		dashboard.TotalScore += s.Score
		if s.MaxConsecutiveCorrect > dashboard.BestStreak {
			dashboard.BestStreak = s.MaxConsecutiveCorrect
		}
		if s.LastAnswerAt != nil && s.LastAnswerAt.After(dayAgo) {
			active[s.UserID] = struct{}{}
		}
	}
	dashboard.TotalUsers = len(users)
	dashboard.ActiveUsers24h = len(active)
	if len(users) > 0 {
		dashboard.AverageScore = dashboard.TotalScore / float64(len(users))
	}

	c.JSON(http.StatusOK, dashboard)
}

// GetSummary handles GET /api/analytics/summary: compact header counters for
// the admin panel.
func (h *analyticsHandler) GetSummary(c *gin.Context) {
	categories, err := h.questions.ListCategories()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	chats, err := h.chats.GetAllChats()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	users, err := h.aggregator.Leaderboard(0, 0)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	questionCount := 0
	for _, cat := range categories {
		questionCount += cat.QuestionCount
	}
	c.JSON(http.StatusOK, gin.H{
		"categories": len(categories),
		"questions":  questionCount,
		"chats":      len(chats),
		"users":      len(users),
	})
}

// GetLeaderboard handles GET /api/analytics/leaderboard?chat_id=&limit=
func (h *analyticsHandler) GetLeaderboard(c *gin.Context) {
	chatID, _ := strconv.ParseInt(c.Query("chat_id"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid limit"})
		return
	}
	board, err := h.aggregator.Leaderboard(chatID, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": board})
}

// GetActivityChart handles GET /api/analytics/charts/activity: answers per
// day over the requested window, counted from the processed-event log.
func (h *analyticsHandler) GetActivityChart(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "14"))
	if err != nil || days < 1 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid days"})
		return
	}
	since := time.Now().UTC().AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)
	byDay, err := h.statsRepo.CountEventsByDay(since)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	labels := make([]string, 0, days)
	values := make([]int, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := time.Now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		labels = append(labels, day)
		values = append(values, byDay[day])
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels, "values": values})
}

type categoryUsagePoint struct {
	Name       string `json:"name"`
	UsageCount int    `json:"usage_count"`
	Chats      int    `json:"chats"`
}

// GetCategoriesChart handles GET /api/analytics/charts/categories: total
// usage per category across all chats.
func (h *analyticsHandler) GetCategoriesChart(c *gin.Context) {
	chats, err := h.chats.GetAllChats()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	totals := make(map[string]*categoryUsagePoint)
	for _, chat := range chats {
		usage, err := h.usage.GetUsage(chat.ID)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		for name, u := range usage {
			point, ok := totals[name]
			if !ok {
				point = &categoryUsagePoint{Name: name}
				totals[name] = point
			}
			point.UsageCount += u.UsageCount
			point.Chats++
		}
	}
	points := make([]categoryUsagePoint, 0, len(totals))
	for _, point := range totals {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].UsageCount != points[j].UsageCount {
			return points[i].UsageCount > points[j].UsageCount
		}
		return points[i].Name < points[j].Name
	})
	c.JSON(http.StatusOK, gin.H{"categories": points})
}

// GetUsersChart handles GET /api/analytics/charts/users: top users by score.
func (h *analyticsHandler) GetUsersChart(c *gin.Context) {
	board, err := h.aggregator.Leaderboard(0, 10)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	labels := make([]string, 0, len(board))
	values := make([]float64, 0, len(board))
	for _, s := range board {
		name := s.Name
		if name == "" {
			name = "User " + strconv.FormatInt(s.UserID, 10)
		}
		labels = append(labels, name)
		values = append(values, s.Score)
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels, "values": values})
}
