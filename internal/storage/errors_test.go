package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMinioNotFound(t *testing.T) {
	assert.True(t, isMinioNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isMinioNotFound(minio.ErrorResponse{Code: "NoSuchBucket"}))
	assert.False(t, isMinioNotFound(minio.ErrorResponse{Code: "SlowDown"}))
	assert.False(t, isMinioNotFound(errors.New("connection reset")))

	err := classifyMinioError(Ref{Key: "a.jpg"}, minio.ErrorResponse{Code: "NoSuchKey"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = classifyMinioError(Ref{Key: "a.jpg"}, minio.ErrorResponse{Code: "InternalError"})
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestIsS3NotFound(t *testing.T) {
	assert.True(t, isS3NotFound(&types.NoSuchKey{}))
	assert.True(t, isS3NotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isS3NotFound(&smithy.GenericAPIError{Code: "SlowDown"}))
	assert.False(t, isS3NotFound(errors.New("timeout")))
}

func TestEmptyKeyIsNotFound(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	ms, err := NewMinioStore(MinioConfig{Endpoint: "127.0.0.1:1", Bucket: "images"})
	require.NoError(t, err)
	s3s, err := NewS3Store(context.Background(), S3Config{Bucket: "images", Region: "us-east-1", Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)

	for name, store := range map[string]Store{
		"minio":  ms,
		"s3":     s3s,
		"memory": NewMemoryStore("images"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), Ref{Key: ""})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}
