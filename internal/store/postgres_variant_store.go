package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/pixelcache/internal/domain"
	_ "github.com/lib/pq"
)

const variantSchemaSQL = `
CREATE TABLE IF NOT EXISTS variants (
	variant_key TEXT PRIMARY KEY,
	source_key TEXT NOT NULL,
	content_type TEXT NOT NULL,
	bytes INTEGER NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	origin TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS variants_source_key_idx ON variants (source_key, created_at DESC);
`

type PostgresVariantStore struct {
	db *sql.DB
}

func NewPostgresVariantStore(ctx context.Context, dsn string) (*PostgresVariantStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresVariantStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresVariantStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, variantSchemaSQL); err != nil {
		return fmt.Errorf("ensure variants schema: %w", err)
	}
	return nil
}

func (s *PostgresVariantStore) Close() error {
	return s.db.Close()
}

func (s *PostgresVariantStore) RecordVariant(ctx context.Context, rec domain.VariantRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO variants (variant_key, source_key, content_type, bytes, width, height, origin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (variant_key) DO UPDATE
		 SET source_key = EXCLUDED.source_key,
		     content_type = EXCLUDED.content_type,
		     bytes = EXCLUDED.bytes,
		     width = EXCLUDED.width,
		     height = EXCLUDED.height,
		     origin = EXCLUDED.origin,
		     created_at = EXCLUDED.created_at`,
		rec.VariantKey,
		rec.SourceKey,
		rec.ContentType,
		rec.Bytes,
		rec.Width,
		rec.Height,
		rec.Origin,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert variant %s: %w", rec.VariantKey, err)
	}
	return nil
}

func (s *PostgresVariantStore) ListBySource(ctx context.Context, sourceKey string, limit int) ([]domain.VariantRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT variant_key, source_key, content_type, bytes, width, height, origin, created_at
		 FROM variants
		 WHERE source_key = $1
		 ORDER BY created_at DESC, variant_key
		 LIMIT $2`,
		sourceKey,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	out := make([]domain.VariantRecord, 0)
	for rows.Next() {
		var rec domain.VariantRecord
		if err := rows.Scan(
			&rec.VariantKey,
			&rec.SourceKey,
			&rec.ContentType,
			&rec.Bytes,
			&rec.Width,
			&rec.Height,
			&rec.Origin,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return out, nil
}
