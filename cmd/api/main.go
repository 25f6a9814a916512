package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dan9191/atm-service/internal/cache"
	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/handler"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/Dan9191/atm-service/internal/service"
	"github.com/Dan9191/atm-service/internal/utils"
	"github.com/Dan9191/atm-service/internal/utils/email"
	_ "github.com/lib/pq"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	// Optional collaborators
	var opts []service.Option
	if cfg.RedisAddr != "" {
		client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, login throttling disabled")
		} else {
			defer client.Close()
			opts = append(opts, service.WithThrottler(cache.NewLoginThrottle(client, cfg.LoginThrottleMax, cfg.LoginThrottleWindow)))
		}
	}
	if cfg.SMTPEnabled() {
		opts = append(opts, service.WithNotifier(email.NewSender(cfg, logger)))
	}

	// Initialize layers
	svc := service.NewService(store, logger, cfg, opts...)
	scheduler, err := svc.StartHousekeeping(cfg.SessionPurgeSchedule, cfg.SessionRetention)
	if err != nil {
		logger.Fatalf("Failed to start housekeeping: %v", err)
	}
	defer scheduler.Stop()

	h := handler.NewHandler(svc, logger, cfg)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Fatalf("Server failed: %v", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.Store, func(), error) {
	if cfg.RepoBackend == "mem" {
		logger.Warn("Using in-memory store, data is lost on restart")
		repo := repository.NewMemoryRepository()
		n, err := repository.Seed(ctx, repo, repository.DemoFixtures(), utils.HashPIN)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("cards", n).Info("Seeded demo data")
		return repo, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := repository.NewRepository(db)
	if cfg.Migrate {
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Schema migrated")
	}
	return repo, func() { db.Close() }, nil
}
