package invoke

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/dunamismax/pixelcache/internal/pipeline"
	"github.com/dunamismax/pixelcache/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransformer struct {
	calls int
}

func (s *stubTransformer) Transform(_ context.Context, _ []byte, opts pipeline.Options) (pipeline.Output, error) {
	s.calls++
	return pipeline.Output{Data: []byte("resized " + opts.Width.String() + "x" + opts.Height.String()), Width: 1, Height: 1}, nil
}

// syncWriter persists enqueued writes immediately.
type syncWriter struct {
	store *storage.MemoryStore
}

func (w syncWriter) Enqueue(ref storage.Ref, obj storage.Object, done func(error)) error {
	err := w.store.Put(context.Background(), ref, obj)
	if done != nil {
		done(err)
	}
	return nil
}

func (w syncWriter) Write(ctx context.Context, ref storage.Ref, obj storage.Object) error {
	return w.store.Put(ctx, ref, obj)
}

func newProcessor(t *testing.T) (*pipeline.Processor, *storage.MemoryStore, *stubTransformer) {
	t.Helper()

	store := storage.NewMemoryStore("default-bucket")
	transformer := &stubTransformer{}
	proc, err := pipeline.NewProcessor(pipeline.Config{
		Prefix: domain.DefaultPrefix,
		Policy: domain.DefaultPolicy(),
	}, pipeline.Dependencies{
		Store:       store,
		Writer:      syncWriter{store: store},
		Transformer: transformer,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return proc, store, transformer
}

func seed(t *testing.T, store *storage.MemoryStore, bucket, key, contentType string, data []byte) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), storage.Ref{Bucket: bucket, Key: key}, storage.Object{
		Data:        data,
		ContentType: contentType,
	}))
}

func TestDirectGeneratedImage(t *testing.T) {
	proc, store, transformer := newProcessor(t)
	seed(t, store, "", "photo.jpg", "image/jpeg", []byte("original"))

	res, err := proc.Process(context.Background(), pipeline.Invocation{Path: "300x200/photo.jpg", Mode: pipeline.DirectMode})
	require.NoError(t, err)
	out := Direct(res)

	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.True(t, out.IsBase64Encoded)
	body, err := base64.StdEncoding.DecodeString(out.Body)
	require.NoError(t, err)
	assert.Equal(t, "resized 300x200", string(body))
	assert.Equal(t, "image/jpeg", out.Headers["Content-Type"])
	assert.Equal(t, "public, max-age=86400", out.Headers["Cache-Control"])
	assert.Equal(t, "0", out.Headers["Age"])
	assert.Equal(t, 1, transformer.calls)

	_, persisted := store.Object(storage.Ref{Key: "image-resize/300x200/photo.jpg"})
	assert.False(t, persisted)
}

func TestDirectErrorsArePlainText(t *testing.T) {
	proc, _, _ := newProcessor(t)

	res, err := proc.Process(context.Background(), pipeline.Invocation{Path: "100x100/missing.png", Mode: pipeline.DirectMode})
	require.NoError(t, err)
	out := Direct(res)

	assert.Equal(t, http.StatusNotFound, out.StatusCode)
	assert.False(t, out.IsBase64Encoded)
	assert.Equal(t, "Resource not found. Could not find resource: missing.png.", out.Body)
	assert.Equal(t, "text/plain", out.Headers["Content-Type"])
	assert.Equal(t, "private, nocache", out.Headers["Cache-Control"])
}

func TestDirectResponseJSONShape(t *testing.T) {
	raw, err := json.Marshal(DirectResponse{StatusCode: 400, Body: "bad", Headers: map[string]string{"Content-Type": "text/plain"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusCode":400,"body":"bad","isBase64Encoded":false,"headers":{"Content-Type":"text/plain"}}`, string(raw))
}

func originEvent(status, uri, domainName string) OriginEvent {
	return OriginEvent{Records: []OriginRecord{{CF: OriginPayload{
		Request: OriginRequest{
			URI:    uri,
			Origin: &RequestOrigin{S3: &S3Origin{DomainName: domainName}},
		},
		Response: OriginResponse{
			Status:  status,
			Headers: Headers{"x-amz-request-id": {{Key: "x-amz-request-id", Value: "abc"}}},
		},
	}}}}
}

func TestHandleOriginResponseGeneratesAndPersists(t *testing.T) {
	proc, store, transformer := newProcessor(t)
	seed(t, store, "images", "photo.jpg", "binary/octet-stream", []byte("original"))

	resp, err := HandleOriginResponse(context.Background(), proc, "", originEvent("404", "/image-resize/300x200/photo.jpg", "images.s3.amazonaws.com"))
	require.NoError(t, err)

	assert.Equal(t, "200", resp.Status)
	assert.Equal(t, "base64", resp.BodyEncoding)
	assert.Equal(t, "binary/octet-stream", resp.Headers.Get("Content-Type"))
	assert.Equal(t, "abc", resp.Headers.Get("x-amz-request-id"))
	assert.Equal(t, 1, transformer.calls)

	obj, ok := store.Object(storage.Ref{Bucket: "images", Key: "image-resize/300x200/photo.jpg"})
	require.True(t, ok)
	assert.Equal(t, "public, max-age=86400", obj.CacheControl)
	assert.False(t, obj.Expires.IsZero())
}

func TestHandleOriginResponsePassesThroughOtherResponses(t *testing.T) {
	proc, _, transformer := newProcessor(t)

	for _, tc := range []struct {
		status string
		uri    string
	}{
		{status: "200", uri: "/image-resize/300x200/photo.jpg"},
		{status: "500", uri: "/image-resize/300x200/photo.jpg"},
		{status: "404", uri: "/static/photo.jpg"},
	} {
		event := originEvent(tc.status, tc.uri, "images.s3.amazonaws.com")
		resp, err := HandleOriginResponse(context.Background(), proc, "", event)
		require.NoError(t, err)
		assert.Equal(t, event.Records[0].CF.Response, resp, "%s %s", tc.status, tc.uri)
	}
	assert.Zero(t, transformer.calls)
}

func TestHandleOriginResponseRejections(t *testing.T) {
	proc, store, _ := newProcessor(t)
	seed(t, store, "images", "photo.jpg", "image/jpeg", []byte("original"))

	resp, err := HandleOriginResponse(context.Background(), proc, "", originEvent("403", "/image-resize/300x200_zoom/photo.jpg", "images.s3.amazonaws.com"))
	require.NoError(t, err)
	assert.Equal(t, "400", resp.Status)
	assert.Equal(t, "text", resp.BodyEncoding)
	assert.Contains(t, resp.Body, "cover, contain, fill, inside, outside")
	assert.Equal(t, "text/plain", resp.Headers.Get("content-type"))

	resp, err = HandleOriginResponse(context.Background(), proc, "", originEvent("404", "/image-resize/300x200/missing.jpg", "images.s3.amazonaws.com"))
	require.NoError(t, err)
	assert.Equal(t, "404", resp.Status)
	assert.Equal(t, "Resource not found. Could not find resource: missing.jpg.", resp.Body)
}

func TestHandleOriginResponseConfiguredBucketWins(t *testing.T) {
	proc, store, _ := newProcessor(t)
	seed(t, store, "configured", "photo.jpg", "image/png", []byte("original"))

	resp, err := HandleOriginResponse(context.Background(), proc, "configured", originEvent("404", "/image-resize/50xauto/photo.jpg", "images.s3.amazonaws.com"))
	require.NoError(t, err)
	assert.Equal(t, "200", resp.Status)

	_, ok := store.Object(storage.Ref{Bucket: "configured", Key: "image-resize/50xauto/photo.jpg"})
	assert.True(t, ok)
}

func TestHandleOriginResponseMalformed(t *testing.T) {
	proc, _, _ := newProcessor(t)
	_, err := HandleOriginResponse(context.Background(), proc, "", OriginEvent{})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestBucketFromOrigin(t *testing.T) {
	assert.Equal(t, "images", BucketFromOrigin(&RequestOrigin{S3: &S3Origin{DomainName: "images.s3.eu-west-1.amazonaws.com"}}))
	assert.Equal(t, "", BucketFromOrigin(nil))
	assert.Equal(t, "", BucketFromOrigin(&RequestOrigin{}))
}
