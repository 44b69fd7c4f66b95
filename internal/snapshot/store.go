package snapshot

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ipcam/streamworker/internal/errors"
)

const latestKey = "latest"

// Image is a published snapshot kept in memory.
type Image struct {
	Data []byte
	Time time.Time
}

// Store keeps the most recently published snapshot for a limited time so
// HTTP clients are served from memory while the writer is active.
type Store struct {
	cache *cache.Cache
	path  string

	mu      sync.Mutex
	updated chan struct{} // closed and replaced on every Put
}

// NewStore creates a store whose entries expire after ttl. path is the
// on-disk snapshot used once the in-memory copy has expired.
func NewStore(path string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Store{
		// Single entry; Get filters expired items, no janitor needed.
		cache:   cache.New(ttl, 0),
		path:    path,
		updated: make(chan struct{}),
	}
}

// Put records a freshly published image.
func (s *Store) Put(data []byte, at time.Time) {
	s.mu.Lock()
	s.cache.Set(latestKey, Image{Data: data, Time: at}, cache.DefaultExpiration)
	close(s.updated)
	s.updated = make(chan struct{})
	s.mu.Unlock()
}

// WaitNewer blocks until an image captured after t has been put, or ctx is
// done.
func (s *Store) WaitNewer(ctx context.Context, t time.Time) (Image, error) {
	for {
		s.mu.Lock()
		ch := s.updated
		v, ok := s.cache.Get(latestKey)
		s.mu.Unlock()

		if ok {
			if img, ok := v.(Image); ok && img.Time.After(t) {
				return img, nil
			}
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return Image{}, errors.New(ctx.Err()).
				Component(ComponentSnapshot).
				Category(errors.CategoryTimeout).
				Context("operation", "wait_newer").
				Build()
		}
	}
}

// Latest returns the in-memory image, falling back to the published file.
func (s *Store) Latest() (Image, error) {
	if v, ok := s.cache.Get(latestKey); ok {
		if img, ok := v.(Image); ok {
			return img, nil
		}
	}

	if s.path == "" {
		return Image{}, ErrNoSnapshot
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Image{}, ErrNoSnapshot
		}
		return Image{}, errors.FileError(err, s.path, 0)
	}
	info, err := os.Stat(s.path)
	at := time.Time{}
	if err == nil {
		at = info.ModTime()
	}
	return Image{Data: data, Time: at}, nil
}

// Flush drops the in-memory image.
func (s *Store) Flush() { s.cache.Flush() }

// ErrNoSnapshot is returned when nothing has been published yet.
var ErrNoSnapshot = errors.New(errors.NewStd("no snapshot available")).
	Component(ComponentSnapshot).
	Category(errors.CategoryNotFound).
	Build()
