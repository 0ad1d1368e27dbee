package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker hands out named, session-scoped Postgres advisory locks. The
// lock lives on a dedicated pooled connection until the returned unlock func runs,
// so it holds across every process sharing the database.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// TryLock attempts to take the lock without waiting. acquired is false when
// another session holds it.
func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (unlock func(), acquired bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock %q: %w", name, err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock = func() {
		// Background context: the caller's ctx may already be cancelled.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name)
		conn.Release()
	}
	return unlock, true, nil
}
