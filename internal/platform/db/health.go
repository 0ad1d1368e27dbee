package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// PoolStats is the pool section of /health/db.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

type healthCheck struct {
	ping    func(context.Context) error
	stats   func() *PoolStats
	pending func(context.Context) (int, error)
}

// HealthOption extends the /health/db report.
type HealthOption func(*healthCheck)

// WithPendingMigrations reports migrations of schema that have not been
// applied yet. A non-zero count marks the database degraded, not down.
func WithPendingMigrations(m *Migrator, schema string) HealthOption {
	return func(h *healthCheck) {
		h.pending = func(ctx context.Context) (int, error) {
			status, err := m.Status(ctx, schema)
			if err != nil {
				return 0, err
			}
			n := 0
			for _, s := range status {
				if !s.Applied {
					n++
				}
			}
			return n, nil
		}
	}
}

// HealthHandler serves /health/db: a ping, pool statistics and optionally
// the migration backlog.
func HealthHandler(pool *pgxpool.Pool, opts ...HealthOption) echo.HandlerFunc {
	h := &healthCheck{ping: pool.Ping, stats: func() *PoolStats { return poolStats(pool) }}
	for _, opt := range opts {
		opt(h)
	}
	return h.handle
}

func (h *healthCheck) handle(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	s := h.stats()
	if err := h.ping(ctx); err != nil {
		s.Healthy = false
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
			"pool":   s,
		})
	}

	body := map[string]interface{}{"status": "healthy", "pool": s}
	if h.pending != nil {
		n, err := h.pending(ctx)
		switch {
		case err != nil:
			body["status"] = "degraded"
			body["error"] = err.Error()
		case n > 0:
			body["status"] = "degraded"
		}
		body["pending_migrations"] = n
	}
	return c.JSON(http.StatusOK, body)
}
