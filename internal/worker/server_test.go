package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/queue"
	"github.com/dunamismax/pixelcache/internal/storage"
	"github.com/dunamismax/pixelcache/internal/store"
	"github.com/dunamismax/pixelcache/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type stubTransformer struct {
	err error
}

func (s stubTransformer) Transform(_ context.Context, input []byte, _ pipeline.Options) (pipeline.Output, error) {
	if s.err != nil {
		return pipeline.Output{}, s.err
	}
	return pipeline.Output{Data: append([]byte("small:"), input...), Width: 30, Height: 20}, nil
}

type failingPutter struct{}

func (failingPutter) Put(context.Context, storage.Ref, storage.Object) error {
	return errors.New("bucket unreachable")
}

type sentEvent struct {
	endpoint string
	event    string
	payload  map[string]any
}

type captureWebhooks struct {
	mu     sync.Mutex
	events []sentEvent
}

func (c *captureWebhooks) Send(_ context.Context, endpoint, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{endpoint: endpoint, event: event, payload: payload.(map[string]any)})
	return nil
}

type fixture struct {
	server   *Server
	blobs    *storage.MemoryStore
	ledger   *store.MemoryVariantStore
	webhooks *captureWebhooks
}

func newFixture(t *testing.T, transformer pipeline.Transformer, putter storage.Putter) *fixture {
	t.Helper()

	blobs := storage.NewMemoryStore("images")
	if putter == nil {
		putter = blobs
	}
	writer := storage.NewWriter(putter, storage.WriterConfig{Workers: 1, QueueSize: 4, Timeout: time.Second}, zerolog.Nop())
	t.Cleanup(writer.Close)

	ledger := store.NewMemoryVariantStore()
	proc, err := pipeline.NewProcessor(pipeline.Config{
		Prefix: domain.DefaultPrefix,
		Policy: domain.DefaultPolicy(),
	}, pipeline.Dependencies{
		Store:       blobs,
		Writer:      writer,
		Transformer: transformer,
		Recorder:    ledger,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	webhooks := &captureWebhooks{}
	return &fixture{
		server: &Server{
			logger:        zerolog.Nop(),
			sem:           make(chan struct{}, 1),
			processor:     proc,
			webhookClient: webhooks,
			metrics:       newMetrics(nil),
			tracer:        otel.Tracer("test"),
		},
		blobs:    blobs,
		ledger:   ledger,
		webhooks: webhooks,
	}
}

func warmTask(t *testing.T, path string) *asynq.Task {
	t.Helper()
	task, err := queue.NewWarmVariantTask(queue.WarmVariantPayload{
		JobID:       "job-1",
		Path:        path,
		SourceKey:   "photo.jpg",
		WebhookURL:  "https://example.com/hook",
		RequestedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return task
}

func TestHandleWarmVariantPersistsAndNotifies(t *testing.T) {
	f := newFixture(t, stubTransformer{}, nil)
	require.NoError(t, f.blobs.Put(context.Background(), storage.Ref{Key: "photo.jpg"}, storage.Object{
		Data: []byte("original"), ContentType: "image/jpeg",
	}))

	require.NoError(t, f.server.handleWarmVariant(context.Background(), warmTask(t, "300x200/photo.jpg")))

	obj, ok := f.blobs.Object(storage.Ref{Key: "image-resize/300x200/photo.jpg"})
	require.True(t, ok)
	assert.Equal(t, "small:original", string(obj.Data))
	assert.Equal(t, "image/jpeg", obj.ContentType)

	records, err := f.ledger.ListBySource(context.Background(), "photo.jpg", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.OriginWarm, records[0].Origin)
	assert.Equal(t, 30, records[0].Width)

	require.Len(t, f.webhooks.events, 1)
	assert.Equal(t, webhook.EventVariantWarmed, f.webhooks.events[0].event)
	assert.Equal(t, "image-resize/300x200/photo.jpg", f.webhooks.events[0].payload["variant_key"])
}

func TestHandleWarmVariantRejectedIsNotRetried(t *testing.T) {
	f := newFixture(t, stubTransformer{}, nil)

	err := f.server.handleWarmVariant(context.Background(), warmTask(t, "300x200/photo.jpg"))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	require.Len(t, f.webhooks.events, 1)
	assert.Equal(t, webhook.EventVariantFailed, f.webhooks.events[0].event)
	assert.Contains(t, f.webhooks.events[0].payload["error"], "Could not find resource: photo.jpg")
}

func TestHandleWarmVariantTransformFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, stubTransformer{err: errors.New("corrupt jpeg")}, nil)
	require.NoError(t, f.blobs.Put(context.Background(), storage.Ref{Key: "photo.jpg"}, storage.Object{
		Data: []byte("original"), ContentType: "image/jpeg",
	}))

	err := f.server.handleWarmVariant(context.Background(), warmTask(t, "300x200/photo.jpg"))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, f.webhooks.events, 1)
	assert.Equal(t, webhook.EventVariantFailed, f.webhooks.events[0].event)
}

func TestHandleWarmVariantPersistFailureRetries(t *testing.T) {
	f := newFixture(t, stubTransformer{}, failingPutter{})
	require.NoError(t, f.blobs.Put(context.Background(), storage.Ref{Key: "photo.jpg"}, storage.Object{
		Data: []byte("original"), ContentType: "image/jpeg",
	}))

	err := f.server.handleWarmVariant(context.Background(), warmTask(t, "300x200/photo.jpg"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "bucket unreachable")

	records, err := f.ledger.ListBySource(context.Background(), "photo.jpg", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandleWarmVariantBadPayload(t *testing.T) {
	f := newFixture(t, stubTransformer{}, nil)
	err := f.server.handleWarmVariant(context.Background(), asynq.NewTask(queue.TypeWarmVariant, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, f.webhooks.events)
}

func TestFinalAttemptOutsideAsynq(t *testing.T) {
	assert.True(t, finalAttempt(context.Background()))
}
