// Package mock implements storage.Service in memory, mirroring objects into
// the key-value store so uploads survive restarts like the rest of the
// offline provider set.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/apexkit/backend/internal/kvstore"
	"github.com/apexkit/backend/internal/logging"
	"github.com/apexkit/backend/internal/storage"
)

const (
	objectKeyPrefix = "mock-storage-"
	bucketKeyPrefix = "mock-bucket-"
)

type object struct {
	File storage.File `json:"file"`
	Data []byte       `json:"data"`
}

// Service is the offline storage provider.
type Service struct {
	mu      sync.Mutex
	kv      kvstore.Store
	clock   clock.Clock
	log     logging.Logger
	buckets map[string]map[string]object
}

var _ storage.Service = (*Service)(nil)

// New constructs the mock provider and rehydrates buckets and objects
// persisted by earlier runs. clk may be nil for the wall clock.
func New(ctx context.Context, kv kvstore.Store, clk clock.Clock, log logging.Logger) (*Service, error) {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logging.Nop()
	}

	s := &Service{
		kv:      kv,
		clock:   clk,
		log:     log,
		buckets: make(map[string]map[string]object),
	}
	if err := s.rehydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func objectKey(bucket, path string) string {
	return objectKeyPrefix + bucket + "/" + path
}

func (s *Service) rehydrate(ctx context.Context) error {
	buckets, err := s.kv.List(ctx, bucketKeyPrefix)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransport, err)
	}
	for key := range buckets {
		s.buckets[strings.TrimPrefix(key, bucketKeyPrefix)] = make(map[string]object)
	}

	entries, err := s.kv.List(ctx, objectKeyPrefix)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransport, err)
	}
	for key, data := range entries {
		bucket, path, ok := strings.Cut(strings.TrimPrefix(key, objectKeyPrefix), "/")
		if !ok {
			s.log.Warn(ctx, "skipping malformed object key", "key", key)
			continue
		}

		var obj object
		if err := json.Unmarshal(data, &obj); err != nil {
			s.log.Warn(ctx, "skipping corrupt persisted object", "key", key, "error", err)
			continue
		}
		if s.buckets[bucket] == nil {
			s.buckets[bucket] = make(map[string]object)
		}
		s.buckets[bucket][path] = obj
	}
	return nil
}

func (s *Service) CreateBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; ok {
		return nil
	}
	if err := s.kv.Set(ctx, bucketKeyPrefix+bucket, []byte("1")); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransport, err)
	}
	s.buckets[bucket] = make(map[string]object)
	return nil
}

func (s *Service) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (*storage.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
	}

	obj := object{
		File: storage.File{
			Path:        path,
			Size:        int64(len(data)),
			ContentType: contentType,
			UpdatedAt:   s.clock.Now().UTC(),
		},
		Data: append([]byte(nil), data...),
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal object: %w", err)
	}
	if err := s.kv.Set(ctx, objectKey(bucket, path), payload); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrTransport, err)
	}

	objects[path] = obj
	file := obj.File
	return &file, nil
}

func (s *Service) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
	}
	obj, ok := objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrNotFound, bucket, path)
	}
	return append([]byte(nil), obj.Data...), nil
}

func (s *Service) Delete(ctx context.Context, bucket, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
	}
	if _, ok := objects[path]; !ok {
		return fmt.Errorf("%w: %s/%s", storage.ErrNotFound, bucket, path)
	}

	if err := s.kv.Delete(ctx, objectKey(bucket, path)); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrTransport, err)
	}
	delete(objects, path)
	return nil
}

func (s *Service) List(ctx context.Context, bucket, prefix string) ([]storage.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
	}

	var files []storage.File
	for path, obj := range objects {
		if prefix != "" && !strings.HasPrefix(path, prefix) {
			continue
		}
		files = append(files, obj.File)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// PublicURL returns a stable fake URL; nothing serves it, but it lets UI
// code exercise the full flow offline.
func (s *Service) PublicURL(ctx context.Context, bucket, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		return "", fmt.Errorf("%w: %s", storage.ErrBucketNotFound, bucket)
	}
	if _, ok := objects[path]; !ok {
		return "", fmt.Errorf("%w: %s/%s", storage.ErrNotFound, bucket, path)
	}
	return fmt.Sprintf("https://storage.mock.local/%s/%s", bucket, path), nil
}
