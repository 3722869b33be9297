// Command migrate applies the embedded schema migrations for the configured
// storage backend and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	postgres "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres"
	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/sqlite"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/config"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAppConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := logging.Component(logging.New(logging.Config{Level: level, Format: cfg.LogFormat, Output: os.Stdout}), "migrate")

	if err := migrate(cfg); err != nil {
		logger.Error("migrations failed", "storage", cfg.StorageBackend, logging.FieldError, err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "storage", cfg.StorageBackend)
}

func migrate(cfg config.AppConfig) error {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		return postgres.RunMigrations(cfg.DatabaseURL)
	case config.StorageSQLite:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := sqlite.NewDB(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		defer db.Close()
		return sqlite.RunMigrations(db.Writer)
	default:
		return fmt.Errorf("STORAGE_BACKEND=%s has no schema to migrate", cfg.StorageBackend)
	}
}
