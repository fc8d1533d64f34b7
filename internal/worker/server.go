package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixelcache/internal/config"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/queue"
	"github.com/dunamismax/pixelcache/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	outcomeWarmed   = "warmed"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

type processor interface {
	Process(ctx context.Context, inv pipeline.Invocation) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Options struct {
	Logger    zerolog.Logger
	Queue     config.QueueConfig
	Worker    config.WorkerConfig
	Processor processor
	Webhooks  webhookSender
	Registry  *prometheus.Registry
}

type Server struct {
	logger        zerolog.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     processor
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}

	logger := opts.Logger
	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			opts.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: max(1, opts.Worker.Concurrency),
				Queues: map[string]int{
					opts.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn().
						Err(err).
						Str("type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:           make(chan struct{}, max(1, opts.Worker.MaxActiveJobs)),
		processor:     opts.Processor,
		webhookClient: opts.Webhooks,
		metrics:       newMetrics(opts.Registry),
		tracer:        otel.Tracer("pixelcache/worker"),
	}
	return s, nil
}

// Start begins processing in the background. Call Shutdown to stop.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeWarmVariant, s.handleWarmVariant)
	return s.server.Start(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// handleWarmVariant generates and persists one variant. Client-side
// rejections and undecodable originals are not retried; storage failures
// are, and the failure webhook fires only once retries are exhausted.
func (s *Server) handleWarmVariant(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := outcomeFailed

	payload, err := queue.ParseWarmVariantPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.warm_variant", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("variant.path", payload.Path),
		attribute.String("variant.bucket", payload.Bucket),
	)
	defer span.End()
	defer func() {
		s.metrics.taskDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.tasksTotal.WithLabelValues(outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeTasks.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeTasks.Dec()
	}()

	logger := s.logger.With().Str("job_id", payload.JobID).Str("path", payload.Path).Logger()
	logger.Info().Msg("warming variant")

	res, err := s.processor.Process(ctx, pipeline.Invocation{
		Path:   payload.Path,
		Bucket: payload.Bucket,
		Mode:   pipeline.WarmMode,
	})

	var terr *pipeline.TransformError
	switch {
	case err != nil && errors.As(err, &terr):
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		s.notifyFailed(ctx, payload, err.Error())
		return fmt.Errorf("warm %s: %v: %w", payload.Path, err, asynq.SkipRetry)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		if finalAttempt(ctx) {
			s.notifyFailed(ctx, payload, err.Error())
		}
		return fmt.Errorf("warm %s: %w", payload.Path, err)
	case !res.OK():
		outcome = outcomeRejected
		span.SetStatus(codes.Error, string(res.Kind))
		logger.Warn().Str("kind", string(res.Kind)).Int("status", res.Status).Str("detail", res.Message).Msg("variant rejected")
		s.notifyFailed(ctx, payload, res.Message)
		return fmt.Errorf("warm %s: %s: %w", payload.Path, res.Kind, asynq.SkipRetry)
	case res.PersistErr != nil:
		span.RecordError(res.PersistErr)
		span.SetStatus(codes.Error, "persist failed")
		if finalAttempt(ctx) {
			s.notifyFailed(ctx, payload, "variant could not be stored")
		}
		return fmt.Errorf("persist %s: %w", payload.Path, res.PersistErr)
	}

	if res.Persisted {
		s.metrics.bytesPersisted.Add(float64(len(res.Body)))
	}
	logger.Info().
		Str("kind", string(res.Kind)).
		Bool("persisted", res.Persisted).
		Int("bytes", len(res.Body)).
		Dur("took", time.Since(startedAt)).
		Msg("variant warmed")

	if err := s.dispatchWebhook(ctx, payload, webhook.EventVariantWarmed, map[string]any{
		"job_id":       payload.JobID,
		"variant_key":  res.Request.VariantKey(),
		"source_key":   payload.SourceKey,
		"kind":         res.Kind,
		"content_type": res.ContentType,
		"bytes":        len(res.Body),
		"width":        res.Width,
		"height":       res.Height,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = outcomeWarmed
	span.SetStatus(codes.Ok, "warmed")
	return nil
}

func (s *Server) notifyFailed(ctx context.Context, payload queue.WarmVariantPayload, reason string) {
	_ = s.dispatchWebhook(ctx, payload, webhook.EventVariantFailed, map[string]any{
		"job_id":       payload.JobID,
		"path":         payload.Path,
		"source_key":   payload.SourceKey,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        reason,
	})
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.WarmVariantPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookErrors.WithLabelValues(event).Inc()
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Str("event", event).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

// finalAttempt reports whether asynq will not retry the task again. Outside
// an asynq handler it is always true.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
