// internal/database/database.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"merithub/internal/config"
)

// ===============================
// DATABASE MANAGER
// ===============================

// Manager owns the connection pool and exposes transaction helpers
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
	config config.DatabaseConfig
}

// NewManager opens the connection pool and waits for the database to
// become reachable, retrying with exponential backoff.
func NewManager(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10), ctx)
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("Database not ready, retrying", zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, policy); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	logger.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)

	m := &Manager{db: db, logger: logger, config: cfg}

	if cfg.AutoMigrate {
		if err := m.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return m, nil
}

// DB returns the underlying connection pool
func (m *Manager) DB() *sql.DB {
	return m.db
}

// BeginTx starts a transaction with the given options
func (m *Manager) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return m.db.BeginTx(ctx, opts)
}

// Health checks database connectivity
func (m *Manager) Health(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.db.PingContext(pingCtx)
}

// Close shuts down the connection pool
func (m *Manager) Close() error {
	return m.db.Close()
}

// ===============================
// MIGRATIONS
// ===============================

// Migrate applies pending schema migrations from the configured path
func (m *Manager) Migrate() error {
	driver, err := postgres.WithInstance(m.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		"file://"+m.config.MigrationsPath,
		"postgres", driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("Database schema up to date")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, _ := migrator.Version()
	m.logger.Info("Database migrations applied",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}
