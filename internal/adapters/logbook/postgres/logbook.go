package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang-wa-dispatch/internal/domain"

	_ "github.com/lib/pq"
)

// Logbook implements ports.OutcomeLog on PostgreSQL. The table is
// append-only: rows are inserted in send order and never updated.
type Logbook struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and returns a Logbook.
func New(dsn string) (*Logbook, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Logbook{db: db}, nil
}

// Close closes the underlying connection pool.
func (l *Logbook) Close() error {
	return l.db.Close()
}

// Append inserts one outcome row.
func (l *Logbook) Append(ctx context.Context, rec domain.OutcomeRecord) error {
	const q = `
		INSERT INTO outcome_records
			(run_label, run_range, phone, display_name, message_body, status, gateway_reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := l.db.ExecContext(ctx, q,
		rec.RunLabel, rec.RunRange, rec.Phone, rec.DisplayName,
		rec.MessageBody, rec.Status, rec.GatewayReply, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (l *Logbook) Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	const q = `
		SELECT id, run_label, run_range, phone, display_name, message_body, status, gateway_reply, created_at
		FROM outcome_records
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := l.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var recs []domain.OutcomeRecord
	for rows.Next() {
		var r domain.OutcomeRecord
		var status string
		if err := rows.Scan(&r.ID, &r.RunLabel, &r.RunRange, &r.Phone, &r.DisplayName,
			&r.MessageBody, &status, &r.GatewayReply, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		r.Status = domain.Status(status)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
