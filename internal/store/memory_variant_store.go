package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dunamismax/pixelcache/internal/domain"
)

type MemoryVariantStore struct {
	mu       sync.RWMutex
	variants map[string]domain.VariantRecord
}

func NewMemoryVariantStore() *MemoryVariantStore {
	return &MemoryVariantStore{
		variants: make(map[string]domain.VariantRecord),
	}
}

func (s *MemoryVariantStore) RecordVariant(_ context.Context, rec domain.VariantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[rec.VariantKey] = rec
	return nil
}

// ListBySource returns the newest variants first.
func (s *MemoryVariantStore) ListBySource(_ context.Context, sourceKey string, limit int) ([]domain.VariantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.VariantRecord, 0)
	for _, rec := range s.variants {
		if rec.SourceKey == sourceKey {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VariantKey < out[j].VariantKey
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
