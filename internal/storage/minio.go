package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dunamismax/pixelcache/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

type MinioStore struct {
	minio  *minio.Client
	bucket string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStore{
		minio:  mc,
		bucket: strings.TrimSpace(cfg.Bucket),
	}, nil
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	if s.bucket == "" {
		return nil
	}

	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}

	return nil
}

// Get reads an object and its content type. An empty, missing key or a
// missing bucket resolves to ErrNotFound; anything else is returned wrapped.
func (s *MinioStore) Get(ctx context.Context, ref Ref) (domain.Resource, error) {
	if ref.Key == "" {
		return domain.Resource{}, fmt.Errorf("get object %s: %w", ref, ErrNotFound)
	}
	bucket := bucketOr(ref, s.bucket)
	if bucket == "" {
		return domain.Resource{}, fmt.Errorf("get object %s: bucket is required", ref.Key)
	}

	obj, err := s.minio.GetObject(ctx, bucket, ref.Key, minio.GetObjectOptions{})
	if err != nil {
		return domain.Resource{}, classifyMinioError(ref, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return domain.Resource{}, classifyMinioError(ref, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return domain.Resource{}, fmt.Errorf("read object %s: %w", ref, err)
	}

	return domain.Resource{
		Data:         data,
		ContentType:  info.ContentType,
		CacheControl: info.Metadata.Get("Cache-Control"),
	}, nil
}

func (s *MinioStore) Put(ctx context.Context, ref Ref, obj Object) error {
	bucket := bucketOr(ref, s.bucket)
	if bucket == "" {
		return fmt.Errorf("put object %s: bucket is required", ref.Key)
	}

	_, err := s.minio.PutObject(
		ctx,
		bucket,
		ref.Key,
		bytes.NewReader(obj.Data),
		int64(len(obj.Data)),
		minio.PutObjectOptions{
			ContentType:  obj.ContentType,
			CacheControl: obj.CacheControl,
			Expires:      obj.Expires,
		},
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", ref, err)
	}
	return nil
}

func classifyMinioError(ref Ref, err error) error {
	if isMinioNotFound(err) {
		return fmt.Errorf("get object %s: %w", ref, ErrNotFound)
	}
	return fmt.Errorf("get object %s: %w", ref, err)
}

func isMinioNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject", "NoSuchBucket":
		return true
	default:
		return false
	}
}
