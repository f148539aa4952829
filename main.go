package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"backend/internal/config"
	"backend/internal/repository"
	"backend/internal/scheduler"
	"backend/internal/selector"
	"backend/internal/server"
	"backend/internal/service"
	"backend/internal/stats"
	"backend/internal/telegram_bot"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err) // Should not happen in development
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()

	cfgPath := pflag.String("config", "configs/config.yml", "path to the configuration file")
	pflag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	stores := buildStores(cfg, logger)

	sel := selector.New(stores.Questions, stores.Usage, selector.Options{
		CoolDown:     cfg.CoolDown(),
		AgeFactor:    cfg.Quiz.AgeFactor,
		UsagePenalty: cfg.Quiz.UsagePenalty,
	}, logger)

	bot, err := telegram_bot.NewBot(cfg.Telegram.BotToken, logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram bot, continuing without it", zap.Error(err))
		bot = nil
	}

	schedOpts := scheduler.DefaultOptions()
	schedOpts.MaxAttempts = cfg.Quiz.RetryAttempts
	schedOpts.BackoffBase = time.Duration(cfg.Quiz.BackoffSeconds) * time.Second
	sched, err := scheduler.New(stores.Chats, stores.Blacklist, sel, bot, schedOpts, logger)
	if err != nil {
		logger.Fatal("Failed to initialize scheduler", zap.Error(err))
	}

	aggregator := stats.NewAggregator(stores.Stats, stores.Blacklist, stores.Chats, logger)

	if cfg.Server.AdminUsername != "" {
		authService := service.NewAuthService(stores.Auth, []byte(cfg.Server.JWTSecret), logger)
		_, err := authService.Bootstrap(cfg.Server.AdminUsername, cfg.Server.AdminPassword)
		if err != nil && !errors.Is(err, service.ErrUserAlreadyExists) {
			logger.Fatal("Failed to bootstrap admin account", zap.Error(err))
		}
	}

	// Context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sched.Run(ctx)

	srv := server.NewServer(cfg, stores, aggregator, sched, logger)
	go func() {
		if err := srv.Run(cfg.Server.Port); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Application stopped.")
}

func buildStores(cfg *config.Config, logger *zap.Logger) server.Stores {
	if cfg.Storage == "memory" {
		logger.Warn("Using in-memory storage, state is lost on restart")
		statsRepo := repository.NewMemoryStatsRepository()
		return server.Stores{
			Questions: repository.NewMemoryQuestionRepository(),
			Usage:     repository.NewMemoryUsageRepository(),
			Chats:     repository.NewMemoryChatRepository(statsRepo),
			Stats:     statsRepo,
			Blacklist: repository.NewMemoryBlacklistRepository(),
			Auth:      repository.NewMemoryAuthRepository(),
		}
	}

	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	repository.MigrateDB(db, logger)

	return server.Stores{
		Questions: repository.NewQuestionRepository(db, logger),
		Usage:     repository.NewUsageRepository(db, logger),
		Chats:     repository.NewChatRepository(db, logger),
		Stats:     repository.NewStatsRepository(db, logger),
		Blacklist: repository.NewBlacklistRepository(db, logger),
		Auth:      repository.NewAuthRepository(db, logger),
	}
}
