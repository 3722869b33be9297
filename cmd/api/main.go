package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/httpapi"
	memexpenserepo "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/memory/expenserepo"
	memidempotency "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/memory/idempotency"
	postgres "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres"
	pgexpenserepo "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres/expenserepo"
	pgidempotency "github.com/Overland-East-Bay/expense-sources-api/internal/adapters/postgres/idempotency"
	"github.com/Overland-East-Bay/expense-sources-api/internal/adapters/sqlite"
	"github.com/Overland-East-Bay/expense-sources-api/internal/app/expenses"
	"github.com/Overland-East-Bay/expense-sources-api/internal/app/retention"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwtverifier"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/clock"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/config"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/logging"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/tracing"
	expenserepoport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/expenserepo"
	idempotencyport "github.com/Overland-East-Bay/expense-sources-api/internal/ports/out/idempotency"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadAppConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := logging.New(logging.Config{Level: level, Format: cfg.LogFormat, Output: os.Stdout})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api exited", logging.FieldError, err)
		os.Exit(1)
	}
}

func run(cfg config.AppConfig, logger *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
		ServiceName: "expense-sources-api",
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", logging.FieldError, err)
		}
	}()

	// Auth configuration:
	// - Production: require JWT_* env vars and enforce bearer auth
	// - Local dev: set AUTH_MODE=dev to bypass JWT verification and use X-Debug-Subject
	var authMW func(http.Handler) http.Handler
	switch cfg.AuthMode {
	case config.AuthModeDev:
		logger.Warn("dev auth mode enabled; bearer tokens are not verified", "default_subject", cfg.DevSubject)
		authMW = httpapi.NewDevAuthMiddleware(cfg.DevSubject)
	default:
		jwtCfg, err := config.LoadJWTConfigFromEnv()
		if err != nil {
			return fmt.Errorf("invalid auth config: %w", err)
		}
		verifier := jwtverifier.NewWithOptions(jwtCfg, jwtverifier.Options{
			Logger: logger,
		})
		authMW = httpapi.NewAuthMiddleware(verifier)
	}

	repo, idemStore, cleanup, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	clk := clock.NewSystemClock()
	svc := expenses.NewService(repo, expenses.Options{
		Workers:     cfg.DBWorkers,
		CallTimeout: cfg.DBCallTimeout,
		Idempotency: idemStore,
		Clock:       clk,
	})
	api := httpapi.NewServer(svc)
	purger := retention.NewPurger(idemStore, clk, cfg.IdempotencyTTL, cfg.IdempotencyPurgeInterval, logger)

	handler := httpapi.NewRouter(api, httpapi.RouterOptions{
		AuthMiddleware: authMW,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go purger.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", srv.Addr, "auth_mode", cfg.AuthMode, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStores builds the expense repository and idempotency store for the
// configured backend. cleanup is never nil.
func openStores(cfg config.AppConfig, logger *slog.Logger) (expenserepoport.Repository, idempotencyport.Store, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.StorageBackend {
	case config.StoragePostgres:
		if cfg.AutoMigrate {
			if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, nil, nil, err
			}
			logger.Info("postgres migrations applied")
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid postgres config: %w", err)
		}
		return pgexpenserepo.NewRepo(pool), pgidempotency.NewStore(pool), pool.Close, nil
	case config.StorageSQLite:
		db, err := sqlite.NewDB(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if cfg.AutoMigrate {
			if err := sqlite.RunMigrations(db.Writer); err != nil {
				_ = db.Close()
				return nil, nil, nil, err
			}
			logger.Info("sqlite migrations applied", "path", db.Path())
		}
		cleanup := func() {
			if err := db.Close(); err != nil {
				logger.Warn("close sqlite", logging.FieldError, err)
			}
		}
		return sqlite.NewExpenseRepo(db), sqlite.NewIdempotencyStore(db), cleanup, nil
	default:
		return memexpenserepo.NewRepo(), memidempotency.NewStore(), func() {}, nil
	}
}
