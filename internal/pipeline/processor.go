package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

type BlobStore interface {
	Get(ctx context.Context, ref storage.Ref) (domain.Resource, error)
}

type VariantWriter interface {
	Enqueue(ref storage.Ref, obj storage.Object, done func(error)) error
	Write(ctx context.Context, ref storage.Ref, obj storage.Object) error
}

type Recorder interface {
	RecordVariant(ctx context.Context, rec domain.VariantRecord) error
}

// Mode selects how an invocation is delivered. Only persisting modes write
// generated variants back to the store.
type Mode struct {
	Name string
	// Persist writes generated variants under their variant key.
	Persist bool
	// WaitForPersist makes the write synchronous and reports it in Result.
	WaitForPersist bool
	// OriginTypes accepts the wider set of source types stored behind the CDN.
	OriginTypes bool
}

var (
	DirectMode   = Mode{Name: "direct"}
	FallbackMode = Mode{Name: domain.OriginFallback, Persist: true, OriginTypes: true}
	WarmMode     = Mode{Name: domain.OriginWarm, Persist: true, WaitForPersist: true, OriginTypes: true}
)

type Invocation struct {
	Path string
	// Bucket overrides the store's default bucket for this invocation.
	Bucket string
	Mode   Mode
}

// DefaultGenerationTimeout bounds a deduplicated generation, which runs
// detached from the callers waiting on it.
const DefaultGenerationTimeout = time.Minute

type Config struct {
	Prefix string
	Policy domain.Policy
	// Dedupe collapses concurrent generations of the same variant.
	Dedupe            bool
	GenerationTimeout time.Duration
}

type Dependencies struct {
	Store       BlobStore
	Writer      VariantWriter
	Transformer Transformer
	Recorder    Recorder
	Logger      zerolog.Logger
	Registerer  prometheus.Registerer
}

type Processor struct {
	store             BlobStore
	writer            VariantWriter
	transformer       Transformer
	recorder          Recorder
	policy            domain.Policy
	prefix            string
	dedupe            bool
	generationTimeout time.Duration
	group             singleflight.Group
	logger            zerolog.Logger
	metrics           *metrics
	tracer            trace.Tracer
	now               func() time.Time
}

func NewProcessor(cfg Config, deps Dependencies) (*Processor, error) {
	if deps.Store == nil {
		return nil, errors.New("blob store is required")
	}

	transformer := deps.Transformer
	if transformer == nil {
		transformer = NewTransformer()
	}

	policy := cfg.Policy
	if policy.CacheControl == "" {
		policy.CacheControl = domain.DefaultCacheControl
	}
	if policy.VariantTTL <= 0 {
		policy.VariantTTL = domain.DefaultVariantTTL
	}
	if pt, ok := transformer.(passThrougher); ok {
		policy.PassThroughTypes = mergeTypes(policy.PassThroughTypes, pt.PassThroughTypes())
	}
	generationTimeout := cfg.GenerationTimeout
	if generationTimeout <= 0 {
		generationTimeout = DefaultGenerationTimeout
	}

	return &Processor{
		store:             deps.Store,
		writer:            deps.Writer,
		transformer:       transformer,
		recorder:          deps.Recorder,
		policy:            policy,
		prefix:            strings.Trim(cfg.Prefix, "/"),
		dedupe:            cfg.Dedupe,
		generationTimeout: generationTimeout,
		logger:            deps.Logger,
		metrics:           newMetrics(deps.Registerer),
		tracer:            otel.Tracer("pixelcache/pipeline"),
		now:               time.Now,
	}, nil
}

func (p *Processor) Prefix() string {
	return p.prefix
}

// Policy returns the resolved policy, with defaults applied.
func (p *Processor) Policy() domain.Policy {
	return p.policy
}

// Process runs decode, validate, resolve, fetch, transform and persist for
// one path. Client-facing outcomes are returned as a Result; an error means
// the request could not be served at all and should become a 5xx.
func (p *Processor) Process(ctx context.Context, inv Invocation) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("resize.mode", inv.Mode.Name),
		attribute.String("resize.path", inv.Path),
	)
	defer span.End()

	res, err := p.process(ctx, inv)
	if err != nil {
		p.metrics.results.WithLabelValues(inv.Mode.Name, string(KindFailed)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		return Result{}, err
	}

	p.metrics.results.WithLabelValues(inv.Mode.Name, string(res.Kind)).Inc()
	span.SetAttributes(
		attribute.String("resize.kind", string(res.Kind)),
		attribute.Int("resize.status", res.Status),
	)
	span.SetStatus(codes.Ok, string(res.Kind))
	return res, nil
}

func (p *Processor) process(ctx context.Context, inv Invocation) (Result, error) {
	req, err := domain.ParsePath(inv.Path, p.prefix)
	if err != nil {
		return errorResult(KindInvalidPath, http.StatusBadRequest, err.Error()), nil
	}
	if rej := p.policy.Validate(req); rej != nil {
		res := errorResult(KindRejected, http.StatusBadRequest, rej.Detail)
		res.Request = req
		return res, nil
	}

	if !p.dedupe {
		return p.generate(ctx, inv, req)
	}

	// The shared generation must not inherit the cancellation of whichever
	// caller happened to start it. Each caller still stops waiting on its
	// own context.
	key := strings.Join([]string{inv.Mode.Name, inv.Bucket, req.VariantKey()}, "\x00")
	ch := p.group.DoChan(key, func() (any, error) {
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.generationTimeout)
		defer cancel()
		return p.generate(genCtx, inv, req)
	})

	select {
	case r := <-ch:
		if r.Shared {
			p.metrics.sharedGenerations.Inc()
		}
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Processor) generate(ctx context.Context, inv Invocation, req domain.ResizeRequest) (Result, error) {
	variantRef := storage.Ref{Bucket: inv.Bucket, Key: req.VariantKey()}

	existing, found, err := p.resolveVariant(ctx, variantRef)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return p.unavailable(req, err), nil
	}
	if found {
		return Result{
			Kind:         KindHit,
			Status:       http.StatusOK,
			Body:         existing.Data,
			ContentType:  existing.ContentType,
			CacheControl: p.policy.CacheControl,
			Request:      req,
		}, nil
	}

	original, res, err := p.fetchOriginal(ctx, inv, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return p.unavailable(req, err), nil
	}
	if res != nil {
		return *res, nil
	}

	started := time.Now()
	out, err := p.transformer.Transform(ctx, original.Data, optionsFor(req))
	p.metrics.transformDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &TransformError{Key: req.SourceKey, Err: err}
	}

	result := Result{
		Kind:         KindGenerated,
		Status:       http.StatusOK,
		Body:         out.Data,
		ContentType:  original.ContentType,
		CacheControl: p.policy.CacheControl,
		Fresh:        true,
		Request:      req,
		Width:        out.Width,
		Height:       out.Height,
	}

	if inv.Mode.Persist {
		p.persist(ctx, inv.Mode, variantRef, &result)
	}
	return result, nil
}

// resolveVariant looks the variant up. Read failures other than a missing
// key count as a miss unless the policy is strict. A done context is always
// returned as an error.
func (p *Processor) resolveVariant(ctx context.Context, ref storage.Ref) (domain.Resource, bool, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.resolve_variant")
	defer span.End()

	res, err := p.store.Get(ctx, ref)
	if err == nil {
		span.SetAttributes(attribute.Bool("resize.cache_hit", true))
		return res, true, nil
	}
	span.SetAttributes(attribute.Bool("resize.cache_hit", false))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Resource{}, false, ctxErr
	}
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Resource{}, false, nil
	}

	p.metrics.storeReadErrors.WithLabelValues("variant").Inc()
	span.RecordError(err)
	if p.policy.StrictStoreErrors {
		return domain.Resource{}, false, err
	}
	p.logger.Warn().Err(err).Str("key", ref.String()).Msg("variant lookup failed, treating as miss")
	return domain.Resource{}, false, nil
}

// fetchOriginal returns the original when it should be transformed, or a
// terminal Result for not-found, unsupported and pass-through sources.
func (p *Processor) fetchOriginal(ctx context.Context, inv Invocation, req domain.ResizeRequest) (domain.Resource, *Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.fetch_original")
	defer span.End()

	ref := storage.Ref{Bucket: inv.Bucket, Key: req.SourceKey}
	original, err := p.store.Get(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Resource{}, nil, ctxErr
		}
		if !errors.Is(err, storage.ErrNotFound) {
			p.metrics.storeReadErrors.WithLabelValues("original").Inc()
			span.RecordError(err)
			if p.policy.StrictStoreErrors {
				return domain.Resource{}, nil, err
			}
			p.logger.Warn().Err(err).Str("key", ref.String()).Msg("original lookup failed, treating as not found")
		}
		res := errorResult(KindNotFound, http.StatusNotFound,
			fmt.Sprintf("Resource not found. Could not find resource: %s.", req.SourceKey))
		res.Request = req
		return domain.Resource{}, &res, nil
	}

	contentType := mediaType(original.ContentType)
	if contentType == "" {
		contentType = mediaType(mimetype.Detect(original.Data).String())
	}
	original.ContentType = contentType
	span.SetAttributes(attribute.String("resize.content_type", contentType))

	allowed := p.policy.AllowedTypes
	if inv.Mode.OriginTypes {
		allowed = p.policy.OriginAllowedTypes
	}
	if !domain.HasType(allowed, contentType) {
		res := errorResult(KindUnsupported, http.StatusBadRequest,
			fmt.Sprintf("Unsupported MIME type: %s. Supported types: %s", contentType, strings.Join(allowed, ", ")))
		res.Request = req
		return domain.Resource{}, &res, nil
	}

	if p.policy.IsPassThrough(contentType) {
		return domain.Resource{}, &Result{
			Kind:         KindPassThrough,
			Status:       http.StatusOK,
			Body:         original.Data,
			ContentType:  contentType,
			CacheControl: p.policy.CacheControl,
			Fresh:        true,
			Request:      req,
		}, nil
	}

	return original, nil, nil
}

func (p *Processor) persist(ctx context.Context, mode Mode, ref storage.Ref, res *Result) {
	if p.writer == nil {
		p.logger.Warn().Str("key", ref.String()).Msg("no variant writer configured, skipping persist")
		return
	}

	obj := storage.Object{
		Data:         res.Body,
		ContentType:  res.ContentType,
		CacheControl: p.policy.CacheControl,
		Expires:      p.now().Add(p.policy.VariantTTL),
	}
	record := domain.VariantRecord{
		VariantKey:  ref.Key,
		SourceKey:   res.Request.SourceKey,
		ContentType: res.ContentType,
		Bytes:       len(res.Body),
		Width:       res.Width,
		Height:      res.Height,
		Origin:      mode.Name,
		CreatedAt:   p.now().UTC(),
	}

	if mode.WaitForPersist {
		err := p.writer.Write(ctx, ref, obj)
		p.afterWrite(context.WithoutCancel(ctx), ref, record, err)
		res.Persisted = err == nil
		res.PersistErr = err
		return
	}

	done := func(err error) {
		p.afterWrite(context.Background(), ref, record, err)
	}
	if err := p.writer.Enqueue(ref, obj, done); err != nil {
		p.metrics.variantWrites.WithLabelValues("dropped").Inc()
		p.logger.Warn().Err(err).Str("key", ref.String()).Msg("variant write not queued")
	}
}

func (p *Processor) afterWrite(ctx context.Context, ref storage.Ref, record domain.VariantRecord, err error) {
	if err != nil {
		p.metrics.variantWrites.WithLabelValues("failed").Inc()
		p.logger.Warn().Err(err).Str("key", ref.String()).Msg("variant write failed")
		return
	}
	p.metrics.variantWrites.WithLabelValues("ok").Inc()

	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordVariant(ctx, record); err != nil {
		p.logger.Warn().Err(err).Str("key", ref.String()).Msg("variant ledger write failed")
	}
}

func (p *Processor) unavailable(req domain.ResizeRequest, err error) Result {
	p.logger.Error().Err(err).Str("key", req.VariantKey()).Msg("blob store unavailable")
	res := errorResult(KindStoreUnavailable, http.StatusServiceUnavailable, "Storage is temporarily unavailable.")
	res.Request = req
	return res
}

// mergeTypes returns a new slice so the package defaults are never mutated.
func mergeTypes(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, t := range extra {
		if !domain.HasType(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
