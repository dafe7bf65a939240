package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // migrate postgres driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/vaidashi/order-processing-api/internal/config"
	"github.com/vaidashi/order-processing-api/pkg/logger"
	"github.com/vaidashi/order-processing-api/pkg/retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	dsn    string
	logger logger.Logger
}

// New connects using the service configuration, retrying while the server comes up
func New(ctx context.Context, cfg *config.Config, logger logger.Logger) (*Database, error) {
	var db *Database

	connect := func(ctx context.Context) error {
		var err error
		db, err = Connect(ctx, cfg.GetDBConnString(), logger)
		return err
	}

	err := retry.Retry(ctx, connect, &retry.RetryConfig{
		MaxAttempts:     cfg.DB.ConnectAttempts,
		BackoffStrategy: retry.NewDefaultExponentialBackoff(),
		Logger:          logger,
	})

	if err != nil {
		return nil, err
	}

	db.DB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.DB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.DB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return db, nil
}

// Connect opens a single connection pool for the given postgres URL
func Connect(ctx context.Context, dsn string, logger logger.Logger) (*Database, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Database{
		DB:     db,
		dsn:    dsn,
		logger: logger,
	}, nil
}

// NewFromDB wraps an existing handle, used with sqlmock in tests
func NewFromDB(db *sqlx.DB, logger logger.Logger) *Database {
	return &Database{DB: db, logger: logger}
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// RunMigrations applies the embedded schema migrations
func (d *Database) RunMigrations() error {
	if d.dsn == "" {
		return errors.New("failed to run migrations: database opened without a DSN")
	}

	src, err := iofs.New(migrationsFS, "migrations")

	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	// migrate owns its own connection so closing it leaves the pool intact
	m, err := migrate.NewWithSourceInstance("iofs", src, d.dsn)

	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()

	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	d.logger.Info("Database migrations completed successfully", "version", version, "dirty", dirty)
	return nil
}
