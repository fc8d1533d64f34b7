package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/pixelcache/internal/domain"
)

var ErrNotFound = errors.New("object not found")

// Store is a blob store holding originals and derived variants. Get returns
// an error wrapping ErrNotFound when the key or bucket does not exist.
type Store interface {
	Get(ctx context.Context, ref Ref) (domain.Resource, error)
	Put(ctx context.Context, ref Ref, obj Object) error
	Bucket() string
}

// Ref addresses one object. An empty Bucket selects the store's default bucket.
type Ref struct {
	Bucket string
	Key    string
}

func (r Ref) String() string {
	if r.Bucket == "" {
		return r.Key
	}
	return r.Bucket + "/" + r.Key
}

// Object is what gets written for a derived variant.
type Object struct {
	Data         []byte
	ContentType  string
	CacheControl string
	Expires      time.Time
}

func bucketOr(ref Ref, fallback string) string {
	if b := strings.TrimSpace(ref.Bucket); b != "" {
		return b
	}
	return fallback
}
