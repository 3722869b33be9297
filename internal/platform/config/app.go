package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	AuthModeJWT = "jwt"
	AuthModeDev = "dev"

	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// AppConfig holds the process-level settings for cmd/api.
type AppConfig struct {
	Port       string `env:"PORT"        envDefault:"8080"`
	AuthMode   string `env:"AUTH_MODE"   envDefault:"jwt"`
	DevSubject string `env:"DEV_SUBJECT" envDefault:"dev|local"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH"     envDefault:"expenses.db"`
	AutoMigrate    bool   `env:"AUTO_MIGRATE"    envDefault:"true"`

	DBMaxConns    int32         `env:"DB_MAX_CONNS"    envDefault:"10"`
	DBWorkers     int64         `env:"DB_WORKERS"      envDefault:"8"`
	DBCallTimeout time.Duration `env:"DB_CALL_TIMEOUT" envDefault:"5s"`

	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED"                envDefault:"true"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	IdempotencyTTL           time.Duration `env:"IDEMPOTENCY_TTL"            envDefault:"24h"`
	IdempotencyPurgeInterval time.Duration `env:"IDEMPOTENCY_PURGE_INTERVAL" envDefault:"1h"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func LoadAppConfigFromEnv() (AppConfig, error) {
	var cfg AppConfig
	if err := ParseEnv(&cfg); err != nil {
		return AppConfig{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.AuthMode = strings.ToLower(strings.TrimSpace(c.AuthMode))
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

func (c AppConfig) Validate() error {
	var errs []error
	switch c.AuthMode {
	case AuthModeJWT, AuthModeDev:
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeJWT, AuthModeDev, c.AuthMode))
	}
	switch c.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORAGE_BACKEND=postgres"))
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORAGE_BACKEND=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be memory, postgres or sqlite, got %q", c.StorageBackend))
	}
	if c.DBMaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns))
	}
	if c.DBWorkers < 1 {
		errs = append(errs, fmt.Errorf("DB_WORKERS must be at least 1, got %d", c.DBWorkers))
	}
	if c.DBCallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DB_CALL_TIMEOUT must be positive, got %s", c.DBCallTimeout))
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyPurgeInterval <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL and IDEMPOTENCY_PURGE_INTERVAL must be positive"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps LOG_LEVEL values onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
