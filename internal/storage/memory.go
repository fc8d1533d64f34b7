package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/dunamismax/pixelcache/internal/domain"
)

// MemoryStore keeps objects in process. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]map[string]Object
	puts    int
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]map[string]Object),
	}
}

func (s *MemoryStore) Bucket() string {
	return s.bucket
}

func (s *MemoryStore) Get(ctx context.Context, ref Ref) (domain.Resource, error) {
	if err := ctx.Err(); err != nil {
		return domain.Resource{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[bucketOr(ref, s.bucket)][ref.Key]
	if !ok {
		return domain.Resource{}, fmt.Errorf("get object %s: %w", ref, ErrNotFound)
	}

	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	return domain.Resource{
		Data:         data,
		ContentType:  obj.ContentType,
		CacheControl: obj.CacheControl,
	}, nil
}

func (s *MemoryStore) Put(ctx context.Context, ref Ref, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	obj.Data = data

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := bucketOr(ref, s.bucket)
	if s.objects[bucket] == nil {
		s.objects[bucket] = make(map[string]Object)
	}
	s.objects[bucket][ref.Key] = obj
	s.puts++
	return nil
}

// Object returns the stored object, including write-only attributes such as
// Expires that Get does not surface.
func (s *MemoryStore) Object(ref Ref) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[bucketOr(ref, s.bucket)][ref.Key]
	return obj, ok
}

func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
