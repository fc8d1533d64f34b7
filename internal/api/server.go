package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/id"
	"github.com/dunamismax/pixelcache/internal/invoke"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/queue"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Processor interface {
	Process(ctx context.Context, inv pipeline.Invocation) (pipeline.Result, error)
	Prefix() string
	Policy() domain.Policy
}

type warmEnqueuer interface {
	EnqueueWarmVariant(ctx context.Context, payload queue.WarmVariantPayload) (*asynq.TaskInfo, error)
}

type variantLister interface {
	ListBySource(ctx context.Context, sourceKey string, limit int) ([]domain.VariantRecord, error)
}

type Options struct {
	Logger    zerolog.Logger
	Processor Processor
	// Bucket is the default bucket for direct and warm requests. Empty uses
	// the blob store's own default.
	Bucket string
	// OriginBucket overrides the bucket derived from origin-response events.
	OriginBucket   string
	Queue          warmEnqueuer
	Variants       variantLister
	RateLimiter    RateLimiter
	UserIDHeader   string
	RequestTimeout time.Duration
	Registry       *prometheus.Registry
}

type Server struct {
	logger                zerolog.Logger
	processor             Processor
	bucket                string
	originBucket          string
	queue                 warmEnqueuer
	variants              variantLister
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	requestTimeout        time.Duration
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}

	userHeader := strings.TrimSpace(opts.UserIDHeader)
	if userHeader == "" {
		userHeader = "X-User-ID"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	s := &Server{
		logger:                opts.Logger,
		processor:             opts.Processor,
		bucket:                opts.Bucket,
		originBucket:          opts.OriginBucket,
		queue:                 opts.Queue,
		variants:              opts.Variants,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: userHeader,
		requestTimeout:        timeout,
		metrics:               newMetrics(opts.Registry),
		tracer:                otel.Tracer("pixelcache/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.prefix(), s.withRateLimit(s.mux)))
}

func (s *Server) prefix() string {
	return s.processor.Prefix()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/invoke", s.handleInvoke)
	s.mux.HandleFunc("POST /v1/origin-response", s.handleOriginResponse)
	s.mux.HandleFunc("POST /v1/warm", s.handleWarm)
	s.mux.HandleFunc("GET /v1/variants", s.handleListVariants)
	if prefix := s.prefix(); prefix != "" {
		s.mux.HandleFunc("GET /"+prefix+"/{path...}", s.handleResize)
	} else {
		s.mux.HandleFunc("GET /{path...}", s.handleResize)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResize serves a variant as raw bytes.
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	res := s.process(ctx, pipeline.Invocation{
		Path:   r.PathValue("path"),
		Bucket: s.bucket,
		Mode:   pipeline.DirectMode,
	})
	writeResult(w, res)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invoke.DirectRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	res := s.process(ctx, pipeline.Invocation{
		Path:   req.Path,
		Bucket: s.bucket,
		Mode:   pipeline.DirectMode,
	})
	writeJSON(w, http.StatusOK, invoke.Direct(res))
}

func (s *Server) handleOriginResponse(w http.ResponseWriter, r *http.Request) {
	var event invoke.OriginEvent
	if err := decodeJSON(r, &event, false); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	resp, err := invoke.HandleOriginResponse(ctx, s.processor, s.originBucket, event)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type warmedVariant struct {
	Path       string `json:"path"`
	VariantKey string `json:"variant_key"`
	TaskID     string `json:"task_id"`
	Queue      string `json:"queue"`
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "warm queue is not configured"})
		return
	}

	var req domain.WarmRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	requests, err := req.Requests(s.prefix())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	policy := s.processor.Policy()
	for _, rr := range requests {
		if rej := policy.Validate(rr); rej != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": rej.Detail})
			return
		}
	}

	if !s.allow(w, r, len(requests)) {
		return
	}

	jobID := id.New()
	now := time.Now().UTC()
	warmed := make([]warmedVariant, 0, len(requests))
	for _, rr := range requests {
		payload := queue.WarmVariantPayload{
			JobID:       jobID,
			Path:        rr.Encode(),
			Bucket:      s.bucket,
			SourceKey:   rr.SourceKey,
			WebhookURL:  req.WebhookURL,
			RequestedAt: now,
		}
		info, err := s.queue.EnqueueWarmVariant(r.Context(), payload)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Str("path", payload.Path).Msg("enqueue warm variant failed")
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":    "failed to enqueue warm request",
				"job_id":   jobID,
				"enqueued": warmed,
			})
			return
		}
		s.metrics.warmEnqueued.WithLabelValues(info.Queue).Inc()
		warmed = append(warmed, warmedVariant{
			Path:       payload.Path,
			VariantKey: rr.VariantKey(),
			TaskID:     info.ID,
			Queue:      info.Queue,
		})
	}

	s.logger.Info().Str("job_id", jobID).Str("source_key", req.SourceKey).Int("variants", len(warmed)).Msg("warm request queued")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"status":   "queued",
		"variants": warmed,
	})
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	if s.variants == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "variant ledger is not configured"})
		return
	}

	sourceKey := strings.TrimSpace(r.URL.Query().Get("source_key"))
	if sourceKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source_key is required"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := s.variants.ListBySource(r.Context(), sourceKey, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("source_key", sourceKey).Msg("list variants failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list variants"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source_key": sourceKey,
		"variants":   records,
	})
}

// process converts pipeline failures into a 5xx result so every route
// answers with the same body.
func (s *Server) process(ctx context.Context, inv pipeline.Invocation) pipeline.Result {
	res, err := s.processor.Process(ctx, inv)
	if err != nil {
		s.logger.Error().Err(err).Str("path", inv.Path).Str("mode", inv.Mode.Name).Msg("resize failed")
		return pipeline.FailureResult(err)
	}
	return res
}

func writeResult(w http.ResponseWriter, res pipeline.Result) {
	for name, value := range res.Headers() {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(res.Status)
	_, _ = w.Write(res.Body)
}

func decodeJSON(r *http.Request, into any, strict bool) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
