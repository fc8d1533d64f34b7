package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVariantStoreListsNewestFirst(t *testing.T) {
	s := NewMemoryVariantStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordVariant(ctx, domain.VariantRecord{VariantKey: "image-resize/100x100/a.jpg", SourceKey: "a.jpg", CreatedAt: base}))
	require.NoError(t, s.RecordVariant(ctx, domain.VariantRecord{VariantKey: "image-resize/200x200/a.jpg", SourceKey: "a.jpg", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.RecordVariant(ctx, domain.VariantRecord{VariantKey: "image-resize/100x100/b.jpg", SourceKey: "b.jpg", CreatedAt: base}))

	got, err := s.ListBySource(ctx, "a.jpg", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "image-resize/200x200/a.jpg", got[0].VariantKey)
	assert.Equal(t, "image-resize/100x100/a.jpg", got[1].VariantKey)

	got, err = s.ListBySource(ctx, "a.jpg", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.ListBySource(ctx, "missing.jpg", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestMemoryVariantStoreUpsertsByKey(t *testing.T) {
	s := NewMemoryVariantStore()
	ctx := context.Background()

	require.NoError(t, s.RecordVariant(ctx, domain.VariantRecord{VariantKey: "k", SourceKey: "a.jpg", Origin: domain.OriginFallback}))
	require.NoError(t, s.RecordVariant(ctx, domain.VariantRecord{VariantKey: "k", SourceKey: "a.jpg", Origin: domain.OriginWarm}))

	got, err := s.ListBySource(ctx, "a.jpg", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.OriginWarm, got[0].Origin)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, clampLimit(0))
	assert.Equal(t, DefaultListLimit, clampLimit(-3))
	assert.Equal(t, DefaultListLimit, clampLimit(10_000))
	assert.Equal(t, 7, clampLimit(7))
}
