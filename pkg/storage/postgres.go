package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// OpenPostgres opens a pooled connection to cfg.PostgresURL and pings it
// within cfg.PostgresTimeout
func OpenPostgres(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(cfg.PostgresMaxConns)
	}
	if cfg.PostgresMinConns > 0 {
		db.SetMaxIdleConns(cfg.PostgresMinConns)
	}
	db.SetConnMaxLifetime(cfg.PostgresMaxLifetime)
	db.SetConnMaxIdleTime(cfg.PostgresMaxIdleTime)

	pingCtx := ctx
	if cfg.PostgresTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PostgresTimeout)
		defer cancel()
	}

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}
