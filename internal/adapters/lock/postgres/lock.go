// Package postgres implements ports.RunLock with a PostgreSQL advisory
// lock, making the single-flight guarantee hold across separate process
// invocations that share the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// lockKey identifies the dispatch run lock. Advisory locks are keyed by
// int64; the value is arbitrary but must be stable across versions.
const lockKey int64 = 628_2026_01

const pollInterval = 250 * time.Millisecond

// Lock holds a dedicated session while acquired: advisory locks are
// session-scoped, so the same connection must issue lock and unlock.
type Lock struct {
	db   *sql.DB
	conn *sql.Conn
}

// New opens a connection pool for the lock.
func New(dsn string) (*Lock, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Lock{db: db}, nil
}

// Close releases the pool. Release the lock first.
func (l *Lock) Close() error {
	return l.db.Close()
}

// TryAcquire polls pg_try_advisory_lock until it succeeds or wait elapses.
// It returns false, not an error, when the lock stays held.
func (l *Lock) TryAcquire(ctx context.Context, wait time.Duration) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("lock session: %w", err)
	}

	deadline := time.Now().Add(wait)
	for {
		var got bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&got); err != nil {
			_ = conn.Close()
			return false, fmt.Errorf("try advisory lock: %w", err)
		}
		if got {
			l.conn = conn
			return true, nil
		}
		if time.Now().After(deadline) {
			_ = conn.Close()
			return false, nil
		}

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release unlocks and returns the session to the pool.
func (l *Lock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockKey)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return closeErr
}
