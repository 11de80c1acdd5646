package main

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/starfans/support-engine/internal/bot"
	"github.com/starfans/support-engine/internal/engine"
	"github.com/starfans/support-engine/internal/knowledge"
	"github.com/starfans/support-engine/internal/learning"
	"github.com/starfans/support-engine/internal/responder"
	"github.com/starfans/support-engine/internal/storage"
	"github.com/starfans/support-engine/internal/ticket"
	"github.com/starfans/support-engine/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}
		store, err = storage.NewPostgresStorage(dbConfig)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize generative responder
	gen := responder.NewOpenAIResponder(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		time.Duration(cfg.OpenAI.TimeoutSeconds)*time.Second,
		logger,
	)

	// Core engine: matcher, recurring tracker, confidence gate
	matcher := knowledge.NewMatcher(store, logger)
	tracker := learning.NewTracker(store, matcher, cfg.Learning.AskThreshold, logger)
	gate := engine.NewGate(matcher, gen, store, tracker, logger)

	// Telegram API, ticket delivery and the conversation engine
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create bot API", zap.Error(err))
	}

	tickets := ticket.NewTelegramTicketStore(api, cfg.Telegram.AdminChatID, logger)
	escalator := engine.NewEscalator(store, tickets, logger)

	engineConfig := engine.Config{
		StalenessWindow:   time.Duration(cfg.Engine.StalenessHours) * time.Hour,
		InactivityTimeout: time.Duration(cfg.Engine.InactivityMinutes) * time.Minute,
		FallbackCeiling:   cfg.Engine.FallbackCeiling,
	}
	eng := engine.New(store, gate, escalator, engineConfig, logger)

	// Feedback learning pipeline and housekeeping jobs
	pipeline := learning.NewPipeline(store, gen, cfg.Learning.AutoApprove, logger)
	housekeeper := learning.NewHousekeeper(store, store, pipeline, eng, learning.HousekeepingConfig{
		Schedule:          cfg.Learning.HousekeepingSchedule,
		DeactivationFloor: cfg.Learning.DeactivationFloor,
		MinRatedUses:      cfg.Learning.MinRatedUses,
	}, logger)

	scheduler, err := housekeeper.Start()
	if err != nil {
		logger.Fatal("Failed to start housekeeping", zap.Error(err))
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	// Initialize and start the bot
	b := bot.New(api, eng, pipeline, store, cfg.Telegram.AdminChatID, logger)
	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
