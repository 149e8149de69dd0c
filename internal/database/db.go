// Package database opens the PostgreSQL pool and applies schema migrations.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const connectTimeout = 5 * time.Second

// Connect creates a pool from cfg and pings it. The caller owns the pool and
// must Close it.
func Connect(ctx context.Context, cfg DBConfig, log logrus.FieldLogger) (*pgxpool.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.TargetDSN())
	if err != nil {
		return nil, fmt.Errorf("parse pgx pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.WithFields(logrus.Fields{
		"dsn":       cfg.Redacted(),
		"max_conns": poolCfg.MaxConns,
	}).Info("connected to postgres")
	return pool, nil
}
