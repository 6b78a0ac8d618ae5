package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"notifyhub/internal/observability/metrics"
	"notifyhub/internal/pkg/config"
	"notifyhub/internal/resilience/retry"
)

// ErrMissingDSN is returned when no connection string is configured.
var ErrMissingDSN = errors.New("database dsn not set")

// ConnectionConfig holds database connection pool configuration.
type ConnectionConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConnectionConfig returns the default connection pool configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// Open creates a postgres connection pool and verifies it with a ping,
// retrying transient connection failures with retry.DBConfig.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	cfg := getConnectionConfigFromEnv()
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slog.Info("database connection pool configured",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))

	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Info("database connection established successfully")
	return db, nil
}

// OpenSQLite opens an embedded sqlite database at path (":memory:" allowed).
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, ErrMissingDSN
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	// sqlite は単一ライタ
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	err := retry.WithBackoff(ctx, retry.DBConfig(), func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// ReportStats publishes pool statistics every interval until ctx is done.
func ReportStats(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RecordDBStats(db.Stats())
		}
	}
}

// getConnectionConfigFromEnv reads connection pool configuration from environment variables.
// Invalid or non-positive values fall back to the defaults.
func getConnectionConfigFromEnv() ConnectionConfig {
	def := DefaultConnectionConfig()
	positiveInt := func(v int) error { return config.ValidateIntRange(v, 1, 10000) }

	return ConnectionConfig{
		MaxOpenConns:    config.LoadEnvInt("DB_MAX_OPEN_CONNS", def.MaxOpenConns, positiveInt).Value.(int),
		MaxIdleConns:    config.LoadEnvInt("DB_MAX_IDLE_CONNS", def.MaxIdleConns, positiveInt).Value.(int),
		ConnMaxLifetime: config.LoadEnvDuration("DB_CONN_MAX_LIFETIME", def.ConnMaxLifetime, config.ValidatePositiveDuration).Value.(time.Duration),
		ConnMaxIdleTime: config.LoadEnvDuration("DB_CONN_MAX_IDLE_TIME", def.ConnMaxIdleTime, config.ValidatePositiveDuration).Value.(time.Duration),
	}
}
