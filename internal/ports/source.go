package ports

import (
	"context"

	"golang-wa-dispatch/internal/domain"
)

// RecipientSource resolves the bounded, ordered recipient batch for one
// dispatch run. The engine iterates the returned slice exactly in order.
type RecipientSource interface {
	Load(ctx context.Context) ([]domain.RecipientRow, error)
}
