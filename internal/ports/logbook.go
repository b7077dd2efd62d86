package ports

import (
	"context"

	"golang-wa-dispatch/internal/domain"
)

// OutcomeLog is the append-only durable record of every attempted send.
type OutcomeLog interface {
	// Append writes one row. Rows are never updated or removed.
	Append(ctx context.Context, rec domain.OutcomeRecord) error

	// Recent returns up to limit rows, newest first.
	Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error)
}
