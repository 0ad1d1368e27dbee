package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationName is reported to Postgres so sessions holding reconcile
// advisory locks can be found in pg_stat_activity.
const ApplicationName = "labdesk"

// PoolConfig carries DATABASE_URL and the DB_* sizing keys.
type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
	// SearchPath pins unqualified names to one schema. Empty keeps the
	// server default.
	SearchPath string
}

func (pc PoolConfig) parse() (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = min(pc.MinConns, cfg.MaxConns)
	}
	// A scheduled pass holds one connection for its whole transaction.
	cfg.HealthCheckPeriod = 30 * time.Second

	params := cfg.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok {
		params["application_name"] = ApplicationName
	}
	if pc.SearchPath != "" {
		if !schemaPattern.MatchString(pc.SearchPath) {
			return nil, fmt.Errorf("invalid search path %q", pc.SearchPath)
		}
		params["search_path"] = pc.SearchPath
	}
	return cfg, nil
}

// NewPool opens the pool and fails fast when the database is unreachable.
func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pc.parse()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
