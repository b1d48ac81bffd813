package postgres

import (
	"context"
	"fmt"
	"time"

	"enricher/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Options struct {
	DSN string
}

// Client wraps the pgx pool so stores share one connection pool and health
// checks have a single place to probe.
type Client struct {
	log  *logger.Logger
	Pool *pgxpool.Pool
}

func New(ctx context.Context, opts Options) (*Client, error) {
	log := logger.New("PostgresClient")

	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.LogInfof("Successfully connected to Postgres")
	return &Client{log: log, Pool: pool}, nil
}

func (c *Client) Close() {
	c.Pool.Close()
	c.log.LogInfof("Postgres connection pool closed")
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}
