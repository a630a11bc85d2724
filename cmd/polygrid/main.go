package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/prjktcode/poly-grid-ai/api"
	"github.com/prjktcode/poly-grid-ai/internal/accounts"
	"github.com/prjktcode/poly-grid-ai/internal/cache"
	"github.com/prjktcode/poly-grid-ai/internal/config"
	"github.com/prjktcode/poly-grid-ai/internal/database"
	"github.com/prjktcode/poly-grid-ai/internal/events"
	"github.com/prjktcode/poly-grid-ai/internal/ledger"
	"github.com/prjktcode/poly-grid-ai/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Create logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Connect to the database
	var db *gorm.DB
	switch cfg.Database.Driver {
	case "postgres":
		db, err = database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	default:
		db, err = database.NewSQLiteDB(cfg.Database.DSN)
	}
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate schema", zap.Error(err))
	}
	stopPoolMetrics := database.CollectPoolMetrics(db, "ledger", 15*time.Second)
	defer stopPoolMetrics()

	// Event fan-out
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(&events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: 1,
		}, zapLogger)
		defer publisher.Close()
	}
	eventsSvc := events.NewService(db, zapLogger, publisher)

	// Custody accounts
	accountsSvc := accounts.NewService(db, zapLogger, eventsSvc)

	// The ledger core
	ledgerSvc, err := ledger.NewService(db, zapLogger, accountsSvc, eventsSvc, ledger.Config{
		DefaultFeeRateBps: cfg.Fees.DefaultRateBps,
		MaxFeeRateBps:     cfg.Fees.MaxRateBps,
		FeeRecipient:      cfg.Fees.Recipient,
		Admin:             cfg.Fees.Admin,
	})
	if err != nil {
		zapLogger.Fatal("Failed to initialize ledger", zap.Error(err))
	}

	// Optional terminal-listing cache
	var listingCache cache.ListingCache = cache.NopCache{}
	if cfg.Redis.Enabled {
		redisClient, err := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		listingCache = cache.NewRedisCache(redisClient, zapLogger)
	}

	// HTTP server
	server := api.NewServer(zapLogger, ledgerSvc, accountsSvc, eventsSvc, listingCache, api.Config{
		AuthMode:       cfg.Auth.Mode,
		RateLimit:      cfg.Server.RateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("Forced shutdown", zap.Error(err))
	}
}
