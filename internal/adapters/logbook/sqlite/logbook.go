// Package sqlite implements ports.OutcomeLog on a local SQLite file, for
// single-binary deployments that run the dispatcher from cron without a
// database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang-wa-dispatch/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcome_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_label     TEXT NOT NULL,
	run_range     TEXT NOT NULL,
	phone         TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	message_body  TEXT NOT NULL,
	status        TEXT NOT NULL,
	gateway_reply TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
`

// Logbook is an append-only outcome log in one SQLite database file.
type Logbook struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and ensures the
// schema exists.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Logbook{db: db}, nil
}

// Close closes the database file.
func (l *Logbook) Close() error {
	return l.db.Close()
}

// Append inserts one outcome row.
func (l *Logbook) Append(ctx context.Context, rec domain.OutcomeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO outcome_records
			(run_label, run_range, phone, display_name, message_body, status, gateway_reply, created_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		rec.RunLabel, rec.RunRange, rec.Phone, rec.DisplayName,
		rec.MessageBody, string(rec.Status), rec.GatewayReply,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (l *Logbook) Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_label, run_range, phone, display_name, message_body, status, gateway_reply, created_at
		 FROM outcome_records
		 ORDER BY id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var recs []domain.OutcomeRecord
	for rows.Next() {
		var r domain.OutcomeRecord
		var status, created string
		if err := rows.Scan(&r.ID, &r.RunLabel, &r.RunRange, &r.Phone, &r.DisplayName,
			&r.MessageBody, &status, &r.GatewayReply, &created); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		r.Status = domain.Status(status)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
