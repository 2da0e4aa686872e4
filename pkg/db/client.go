package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/sethvargo/go-retry"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultTxRetries = 3
	txRetryBase      = 25 * time.Millisecond
)

// Client wraps the shared GORM connection.
type Client struct {
	conn       *gorm.DB
	txRetries  uint64
	retryDelay time.Duration
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New boots a GORM client using the provided configuration.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}

	applyPoolSettings(sqlDB, cfg)

	if logg != nil {
		logg.Info(ctx, "database connection established")
	}

	client := Wrap(conn)
	if cfg.TxMaxRetries > 0 {
		client.txRetries = uint64(cfg.TxMaxRetries)
	}
	return client, nil
}

// Wrap adapts an already-open GORM handle (sqlite in tests, shared pools in workers).
func Wrap(conn *gorm.DB) *Client {
	return &Client{conn: conn, txRetries: defaultTxRetries, retryDelay: txRetryBase}
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// WithRetryableTx runs fn in a fresh transaction, re-running the whole transaction when
// postgres aborts it with a serialization failure or deadlock. fn must be safe to re-run.
// Any other error is returned as-is after a single rollback.
func (c *Client) WithRetryableTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	delay := c.retryDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	backoff := retry.WithMaxRetries(c.txRetries, retry.NewExponential(delay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.WithTx(ctx, fn)
		if err != nil && IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// ErrNoRows is returned by helpers that expect exactly one affected row.
var ErrNoRows = errors.New("no rows affected")
