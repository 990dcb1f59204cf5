package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/gopay/internal/auth"
	"github.com/Dan9191/gopay/internal/config"
	"github.com/Dan9191/gopay/internal/events"
	"github.com/Dan9191/gopay/internal/handler"
	"github.com/Dan9191/gopay/internal/integrations/cbr"
	"github.com/Dan9191/gopay/internal/migrations"
	"github.com/Dan9191/gopay/internal/repository"
	"github.com/Dan9191/gopay/internal/scheduler"
	"github.com/Dan9191/gopay/internal/service"
	"github.com/Dan9191/gopay/internal/utils/email"
	"github.com/Dan9191/gopay/internal/web"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize storage
	var (
		repo   repository.Repository
		health handler.Pinger
	)
	switch cfg.RepoBackend {
	case "mem":
		logger.Warn("Using in-memory repository, data is lost on restart")
		repo = repository.NewMemory()
	default:
		db, err := sql.Open("postgres", cfg.DBConn)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("Failed to ping database: %v", err)
		}
		if cfg.RunMigrations {
			if err := migrations.Up(db, logger); err != nil {
				logger.Fatalf("Failed to run migrations: %v", err)
			}
		}
		repo = repository.NewPostgres(db)
		health = db
	}

	// Refresh tokens
	var store auth.TokenStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		store = auth.NewRedisStore(rdb, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, refresh tokens are kept in memory")
		store = auth.NewMemoryStore()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Errorf("Failed to close event publisher: %v", err)
		}
	}()

	// Initialize layers
	tokens := auth.NewTokenService(store, cfg, logger)
	svc := service.NewService(repo, tokens, email.NewSender(cfg, logger), publisher, logger, cfg)
	cbrClient := cbr.NewCBRClient(cfg, logger)
	shell, err := web.NewShell(logger)
	if err != nil {
		logger.Fatalf("Failed to load pages: %v", err)
	}

	// Key rate refresh
	jobs := scheduler.New(logger, 30*time.Second)
	if err := jobs.Add(cfg.KeyRateSchedule, "key-rate", cbrClient.Refresh); err != nil {
		logger.Fatalf("Failed to schedule key rate refresh: %v", err)
	}
	jobs.Start()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := cbrClient.Refresh(ctx); err != nil {
			logger.Warnf("Initial key rate fetch failed: %v", err)
		}
	}()

	router := handler.NewRouter(handler.RouterDependencies{
		Handler: handler.NewHandler(svc, cbrClient, logger),
		Tokens:  tokens,
		Shell:   shell,
		Health:  health,
		Config:  cfg,
		Log:     logger,
	})

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HandlerTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		logger.Errorf("Server failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
	jobs.Stop(ctx)
	logger.Info("Server stopped")
}
