package server

import (
	"net/http"

	"backend/internal/config"
	"backend/internal/handler"
	"backend/internal/middleware"
	"backend/internal/repository"
	"backend/internal/scheduler"
	"backend/internal/service"
	"backend/internal/stats"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Stores bundles the repositories the server wires into handlers.
type Stores struct {
	Questions repository.QuestionRepository
	Usage     repository.UsageRepository
	Chats     repository.ChatRepository
	Stats     repository.StatsRepository
	Blacklist repository.BlacklistRepository
	Auth      repository.AuthRepository
}

type Server struct {
	router *gin.Engine
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(cfg *config.Config, stores Stores, aggregator *stats.Aggregator, sched *scheduler.Scheduler, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	accessLog := logrus.New()
	accessLog.SetFormatter(&logrus.JSONFormatter{})
	router.Use(middleware.RequestLogger(accessLog))

	if len(cfg.Server.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.Server.CORSOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		router.Use(cors.New(corsConfig))
	}

	s := &Server{router: router, cfg: cfg, logger: logger}
	s.setupRoutes(stores, aggregator, sched)
	return s
}

func (s *Server) setupRoutes(stores Stores, aggregator *stats.Aggregator, sched *scheduler.Scheduler) {
	authService := service.NewAuthService(stores.Auth, []byte(s.cfg.Server.JWTSecret), s.logger)
	authHandler := handler.NewAuthHandler(authService, s.logger)
	categoryHandler := handler.NewCategoryHandler(stores.Questions, s.logger)
	chatHandler := handler.NewChatHandler(stores.Chats, stores.Usage, stores.Stats, aggregator, sched, s.logger)
	userHandler := handler.NewUserHandler(aggregator, stores.Stats, stores.Blacklist, s.logger)
	analyticsHandler := handler.NewAnalyticsHandler(stores.Questions, stores.Chats, stores.Stats, stores.Usage, aggregator, s.logger)
	eventHandler := handler.NewEventHandler(aggregator, stores.Chats, s.logger)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	s.router.POST("/api/auth/login", authHandler.Login)

	api := s.router.Group("/api")
	api.Use(middleware.AuthMiddleware([]byte(s.cfg.Server.JWTSecret), s.logger))
	{
		api.GET("/categories", categoryHandler.ListCategories)
		api.POST("/categories", categoryHandler.CreateCategory)
		api.DELETE("/categories/:name", categoryHandler.DeleteCategory)
		api.GET("/categories/:name/questions", categoryHandler.ListQuestions)
		api.POST("/categories/:name/questions", categoryHandler.AddQuestion)
		api.GET("/categories/:name/questions/:index", categoryHandler.GetQuestion)
		api.PUT("/categories/:name/questions/:index", categoryHandler.UpdateQuestion)
		api.DELETE("/categories/:name/questions/:index", categoryHandler.DeleteQuestion)
		api.POST("/categories/:name/questions/:index/move", categoryHandler.MoveQuestion)

		api.GET("/chats", chatHandler.GetAllChats)
		api.GET("/chats/:id", chatHandler.GetChatByID)
		api.PUT("/chats/:id/subscription", chatHandler.UpdateSubscription)
		api.POST("/chats/:id/subscription/toggle", chatHandler.ToggleSubscription)
		api.POST("/chats/:id/reset-stats", chatHandler.ResetStats)
		api.POST("/chats/:id/run-now", chatHandler.RunNow)
		api.DELETE("/chats/:id", chatHandler.DeleteChat)

		api.GET("/users", userHandler.ListUsers)
		api.GET("/users/:id", userHandler.GetUser)
		api.DELETE("/users/:id", userHandler.DeleteUser)
		api.POST("/users/:id/reset-stats", userHandler.ResetStats)
		api.POST("/users/:id/ban", userHandler.Ban)
		api.POST("/users/:id/unban", userHandler.Unban)
		api.GET("/blacklist", userHandler.GetBlacklist)

		api.GET("/analytics/dashboard", analyticsHandler.GetDashboard)
		api.GET("/analytics/summary", analyticsHandler.GetSummary)
		api.GET("/analytics/leaderboard", analyticsHandler.GetLeaderboard)
		api.GET("/analytics/charts/activity", analyticsHandler.GetActivityChart)
		api.GET("/analytics/charts/categories", analyticsHandler.GetCategoriesChart)
		api.GET("/analytics/charts/users", analyticsHandler.GetUsersChart)

		api.POST("/events/answer", eventHandler.SubmitAnswer)
		api.POST("/events/chat", eventHandler.RegisterChat)
	}
}

func (s *Server) Run(addr string) error {
	s.logger.Info("Server starting", zap.String("addr", addr))
	return s.router.Run(addr)
}
