package store

import (
	"context"

	"github.com/dunamismax/pixelcache/internal/domain"
)

const DefaultListLimit = 100

// VariantStore is the ledger of variants written back to the blob store.
// Recording the same variant key again replaces the previous entry.
type VariantStore interface {
	RecordVariant(ctx context.Context, rec domain.VariantRecord) error
	ListBySource(ctx context.Context, sourceKey string, limit int) ([]domain.VariantRecord, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
