package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/Dan9191/atm-service/internal/config"
	"github.com/Dan9191/atm-service/internal/repository"
	"github.com/Dan9191/atm-service/internal/utils"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// seed applies the schema and inserts the demo cardholders into Postgres.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	repo := repository.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate: %v", err)
	}

	n, err := repository.Seed(ctx, repo, repository.DemoFixtures(), utils.HashPIN)
	if err != nil {
		logger.Fatalf("Failed to seed: %v", err)
	}
	logger.WithField("created", n).Info("Seed complete")
}
