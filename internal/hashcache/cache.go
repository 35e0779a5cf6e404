// Package hashcache persists file digests keyed by path, size and
// modification time so unchanged files are never read twice.
package hashcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fenilsonani/organizer/internal/fileerr"
	"github.com/fenilsonani/organizer/internal/hashing"
	"github.com/fenilsonani/organizer/internal/logging"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultOpenTimeout bounds waiting for another process holding the store lock
const DefaultOpenTimeout = 2 * time.Second

// ErrClosed is returned by operations on a closed cache
var ErrClosed = errors.New("hash cache is closed")

// Options configures a Cache
type Options struct {
	Path        string
	HashTimeout time.Duration
	OpenTimeout time.Duration
	Logger      zerolog.Logger
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64
	Misses    int64
	Shared    int64
	Corrupt   int64
	Entries   int
	StoreSize int64
}

// HitRate returns hits as a percentage of lookups
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses + s.Shared
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// VacuumResult summarizes a Vacuum run
type VacuumResult struct {
	Scanned     int
	Removed     int
	BytesBefore int64
	BytesAfter  int64
}

// Cache is a persistent digest cache. It implements hashing.Source.
type Cache struct {
	mu     sync.RWMutex
	store  *store
	closed bool

	group       singleflight.Group
	hashTimeout time.Duration
	openTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	hashFn      func(ctx context.Context, path, key string, timeout time.Duration) (digest.Digest, error)

	hits    atomic.Int64
	misses  atomic.Int64
	shared  atomic.Int64
	corrupt atomic.Int64
}

var _ hashing.Source = (*Cache)(nil)

// Open opens or creates the cache database at opts.Path
func Open(opts Options) (*Cache, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}

	st, err := openStore(opts.Path, opts.OpenTimeout)
	if err != nil {
		return nil, err
	}

	return &Cache{
		store:       st,
		hashTimeout: opts.HashTimeout,
		openTimeout: opts.OpenTimeout,
		logger:      logging.Component(opts.Logger, "hashcache"),
		now:         time.Now,
		hashFn:      hashing.Compute,
	}, nil
}

// NormalizePath returns the absolute, cleaned form used in cache keys
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// GetOrCompute returns the digest of path under the algorithm key. A
// stored digest is returned without reading the file when the file's
// size and modification time are unchanged. Concurrent callers asking for
// the same stale (path, key) share a single computation.
func (c *Cache) GetOrCompute(ctx context.Context, path, key string) (digest.Digest, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	abs, err := NormalizePath(path)
	if err != nil {
		return "", fileerr.Classify("hash", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fileerr.Classify("stat", abs, err)
	}

	storeKey := Key(abs, key)
	if d, ok := c.lookup(storeKey, info); ok {
		c.hits.Add(1)
		return d, nil
	}

	for {
		ch := c.group.DoChan(string(storeKey), func() (interface{}, error) {
			c.misses.Add(1)
			return c.compute(ctx, abs, key, storeKey, info)
		})

		select {
		case res := <-ch:
			if res.Shared {
				c.shared.Add(1)
			}
			if res.Err != nil {
				// The leader may have been cancelled while this caller was not.
				if res.Shared && errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
					continue
				}
				return "", res.Err
			}
			return res.Val.(digest.Digest), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *Cache) lookup(storeKey []byte, info os.FileInfo) (digest.Digest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", false
	}

	entry, found, err := c.store.get(storeKey)
	if errors.Is(err, errCorrupt) {
		c.corrupt.Add(1)
		c.logger.Warn().Err(fileerr.New(fileerr.CacheCorruption, "read", string(storeKey), err)).Msg("Ignoring corrupt cache entry")
		return "", false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Cache read failed, recomputing")
		return "", false
	}
	if !found || !entry.Matches(info.Size(), info.ModTime()) {
		return "", false
	}
	return digest.Digest(entry.Digest), true
}

// compute hashes the file and stores the digest only when the read was
// complete and the file did not change while it was being read.
func (c *Cache) compute(ctx context.Context, abs, key string, storeKey []byte, before os.FileInfo) (digest.Digest, error) {
	d, err := c.hashFn(ctx, abs, key, c.hashTimeout)
	if err != nil {
		return "", fileerr.Classify("hash", abs, err)
	}

	after, err := os.Stat(abs)
	if err != nil {
		return "", fileerr.Classify("stat", abs, err)
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) {
		c.logger.Debug().Str("path", abs).Msg("File changed while hashing, not caching")
		return d, nil
	}

	entry := Entry{
		Size:           after.Size(),
		ModTime:        after.ModTime().UnixNano(),
		Algorithm:      key,
		Digest:         d.String(),
		LastVerifiedAt: c.now().UTC(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return d, nil
	}
	if err := c.store.put(storeKey, entry); err != nil {
		c.logger.Warn().Err(err).Str("path", abs).Msg("Failed to persist digest")
	}
	return d, nil
}

// Stats returns counters and store size
func (c *Cache) Stats() (Stats, error) {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Shared:  c.shared.Load(),
		Corrupt: c.corrupt.Load(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return s, ErrClosed
	}

	n, err := c.store.count()
	if err != nil {
		return s, err
	}
	s.Entries = n
	s.StoreSize = c.store.size()
	return s, nil
}

// Vacuum drops entries whose file no longer exists or whose size or
// modification time changed, then compacts the store. It is never called
// automatically.
func (c *Cache) Vacuum(ctx context.Context) (VacuumResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return VacuumResult{}, ErrClosed
	}

	res := VacuumResult{BytesBefore: c.store.size()}
	var stale [][]byte

	err := c.store.forEach(func(key []byte, entry Entry, corrupt bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Scanned++

		path, _, ok := SplitKey(key)
		if !ok || corrupt {
			stale = append(stale, key)
			return nil
		}
		info, err := os.Stat(path)
		if err != nil || !entry.Matches(info.Size(), info.ModTime()) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if err := c.store.delete(stale); err != nil {
		return res, fmt.Errorf("failed to delete stale entries: %w", err)
	}
	res.Removed = len(stale)

	if err := c.store.compact(c.openTimeout); err != nil {
		return res, err
	}
	res.BytesAfter = c.store.size()

	c.logger.Info().
		Int("scanned", res.Scanned).
		Int("removed", res.Removed).
		Int64("bytes_before", res.BytesBefore).
		Int64("bytes_after", res.BytesAfter).
		Msg("Hash cache vacuumed")
	return res, nil
}

// Clear removes every entry
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.store.clear()
}

// Path returns the database file location
func (c *Cache) Path() string {
	return c.store.path
}

// Close releases the database
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.store.close()
}
