// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

// Package store owns the PostgreSQL connection pool and the schema
// migrations for users, sessions and one-time tokens.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig controls pool sizing and the startup connection retry.
type PoolConfig struct {
	MaxConns       int32
	MinConns       int32
	ConnectRetries uint64
	RetryBackoff   time.Duration
}

// DefaultPoolConfig returns the settings used by the server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       10,
		ConnectRetries: 5,
		RetryBackoff:   500 * time.Millisecond,
	}
}

// Connect opens a pool for databaseURL and waits until a connection can be
// acquired, retrying with exponential backoff while the database starts.
func Connect(ctx context.Context, databaseURL string, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(cfg.RetryBackoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := Ping(ctx, pool, 3*time.Second); err != nil {
			logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "wait for database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}

// Ping acquires and releases one connection within timeout.
func Ping(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	conn.Release()
	return nil
}
