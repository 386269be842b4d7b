package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PoolConfig bounds the Postgres connection pool. Zero values fall back to defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	IdleTimeout time.Duration
	MaxLifetime time.Duration
	PingTimeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxOpen <= 0 {
		c.MaxOpen = 20
	}
	if c.MaxIdle <= 0 || c.MaxIdle > c.MaxOpen {
		c.MaxIdle = (c.MaxOpen + 1) / 2
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	return c
}

// Connect opens the security store pool and pings it once before returning.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*gorm.DB, error) {
	return ConnectWithPool(ctx, databaseURL, PoolConfig{MaxOpen: int(maxConns)})
}

func ConnectWithPool(ctx context.Context, databaseURL string, pool PoolConfig) (*gorm.DB, error) {
	pool = pool.withDefaults()
	logger := slog.Default().With("module", "postgres", "layer", "adapter", "operation", "connect")

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         gormlogger.Discard,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		logger.ErrorContext(ctx, "postgres open failed", "outcome", "failure", "error", err)
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpen)
	sqlDB.SetMaxIdleConns(pool.MaxIdle)
	sqlDB.SetConnMaxIdleTime(pool.IdleTimeout)
	sqlDB.SetConnMaxLifetime(pool.MaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		logger.ErrorContext(ctx, "postgres ping failed", "outcome", "failure", "error", err)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.InfoContext(ctx, "postgres pool ready",
		"outcome", "success",
		"max_open_conns", pool.MaxOpen,
		"max_idle_conns", pool.MaxIdle,
	)
	return db, nil
}

// NewMigrator builds a migrate instance over the embedded migrations.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending migration. An up-to-date schema is not an error.
func RunMigrations(ctx context.Context, databaseURL string) error {
	logger := slog.Default().With("module", "postgres", "layer", "adapter", "operation", "run_migrations")
	logger.InfoContext(ctx, "postgres migrations started", "outcome", "start")

	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.InfoContext(ctx, "postgres migrations completed",
		"outcome", "success",
		"schema_version", version,
		"dirty", dirty,
	)
	return nil
}
