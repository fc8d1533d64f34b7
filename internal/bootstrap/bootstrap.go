// Package bootstrap wires configuration into the runtime components shared
// by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelcache/internal/config"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/storage"
	"github.com/dunamismax/pixelcache/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// OpenBlobStore selects the blob store backend named by cfg.Backend.
func OpenBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendMinio:
		ms, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return ms, nil
	case config.BackendS3:
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	case config.BackendMemory:
		return storage.NewMemoryStore(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// Ledger is a variant store that may hold a connection.
type Ledger interface {
	store.VariantStore
	Close() error
}

type memoryLedger struct {
	*store.MemoryVariantStore
}

func (memoryLedger) Close() error { return nil }

// OpenLedger connects to postgres when dsn is set and falls back to an
// in-process ledger otherwise.
func OpenLedger(ctx context.Context, dsn string, logger zerolog.Logger) (Ledger, error) {
	if dsn == "" {
		logger.Info().Msg("POSTGRES_DSN not set, variant ledger kept in memory")
		return memoryLedger{store.NewMemoryVariantStore()}, nil
	}
	pg, err := store.NewPostgresVariantStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// Runtime bundles the pipeline and the writer that must be drained on exit.
type Runtime struct {
	Store     storage.Store
	Writer    *storage.Writer
	Ledger    Ledger
	Processor *pipeline.Processor
}

func NewRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	blobs, err := OpenBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	ledger, err := OpenLedger(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open variant ledger: %w", err)
	}

	writer := storage.NewWriter(blobs, storage.WriterConfig{
		Workers:   cfg.Storage.WriteWorkers,
		QueueSize: cfg.Storage.WriteQueueSize,
		Timeout:   cfg.Storage.WriteTimeout,
	}, logger.With().Str("subsystem", "variant_writer").Logger())

	proc, err := pipeline.NewProcessor(pipeline.Config{
		Prefix:            cfg.Resize.Prefix,
		Policy:            cfg.Resize.Policy(),
		Dedupe:            cfg.Resize.DedupeInflight,
		GenerationTimeout: cfg.Resize.GenerationTimeout,
	}, pipeline.Dependencies{
		Store:      blobs,
		Writer:     writer,
		Recorder:   ledger,
		Logger:     logger.With().Str("subsystem", "pipeline").Logger(),
		Registerer: reg,
	})
	if err != nil {
		writer.Close()
		_ = ledger.Close()
		return nil, fmt.Errorf("build processor: %w", err)
	}

	logger.Info().
		Str("storage_backend", cfg.Storage.Backend).
		Str("bucket", blobs.Bucket()).
		Str("transformer", pipeline.BackendName()).
		Str("prefix", cfg.Resize.Prefix).
		Bool("dedupe", cfg.Resize.DedupeInflight).
		Bool("strict_store_errors", cfg.Resize.StrictStoreErrors).
		Msg("pipeline ready")

	return &Runtime{
		Store:     blobs,
		Writer:    writer,
		Ledger:    ledger,
		Processor: proc,
	}, nil
}

// Close drains pending variant writes before releasing the ledger.
func (r *Runtime) Close() error {
	r.Writer.Close()
	return r.Ledger.Close()
}
