package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/fetchcache/observe"
)

const (
	// entryExtension is the file extension used for cache entries.
	entryExtension = ".fcache"

	// tempPrefix marks in-flight writes; they are never treated as entries.
	tempPrefix = ".tmp-"

	// lockStripes bounds the number of per-key mutexes.
	lockStripes = 64

	// sweepParallelism bounds concurrent file inspections in ClearExpired.
	sweepParallelism = 8
)

// DiskStore is a Store that keeps one file per key under a root directory.
//
// Writes go to a temporary file in the root and are renamed into place, so a
// concurrent reader observes either the old or the new record, never a
// partial one. Renames and stale-entry removals for the same key are
// serialized by a striped mutex, which keeps ClearExpired from deleting an
// entry that a concurrent Set has just refreshed.
type DiskStore struct {
	root    string
	ttl     time.Duration
	keyer   Keyer
	now     func() time.Time
	logger  observe.Logger
	codec   *codec
	metrics *storeMetrics

	stripes [lockStripes]sync.Mutex
}

// NewDiskStore creates a store rooted at root with the given TTL.
// An empty root uses DefaultRoot and a non-positive ttl uses DefaultTTL.
// The root directory is created if it doesn't exist.
func NewDiskStore(root string, ttl time.Duration, opts ...Option) (*DiskStore, error) {
	if root == "" {
		root = DefaultRoot
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create cache directory: %v", ErrStorage, err)
	}

	c, err := newCodec(o.compressAbove, maxDecodedSize)
	if err != nil {
		return nil, err
	}

	return &DiskStore{
		root:    root,
		ttl:     ttl,
		keyer:   o.keyer,
		now:     o.now,
		logger:  o.logger.With(observe.Field{Key: "component", Value: "cache"}),
		codec:   c,
		metrics: newStoreMetrics(o.meter, "disk"),
	}, nil
}

// Close releases compression resources. The store must not be used afterwards.
func (s *DiskStore) Close() error {
	s.codec.close()
	return nil
}

// Root returns the directory holding the entries.
func (s *DiskStore) Root() string { return s.root }

// TTL returns the store's time-to-live.
func (s *DiskStore) TTL() time.Duration { return s.ttl }

// Get returns the payload for the signature, or (nil, false) on miss.
func (s *DiskStore) Get(ctx context.Context, operation string, params map[string]any) ([]byte, bool) {
	key, ok := s.key(ctx, operation, params)
	if !ok {
		s.metrics.add(ctx, s.metrics.misses, 1)
		return nil, false
	}
	return s.getKey(ctx, key)
}

func (s *DiskStore) getKey(ctx context.Context, key string) ([]byte, bool) {
	path := s.path(key)

	// #nosec G304 -- path is root + hex key.
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "cache read failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: fmt.Errorf("%w: %v", ErrStorage, err)},
			)
		}
		s.metrics.add(ctx, s.metrics.misses, 1)
		return nil, false
	}

	hdr, payload, err := s.codec.decode(data)
	if err != nil {
		s.logger.Warn(ctx, "cache entry corrupt, treating as miss",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err},
		)
		s.metrics.add(ctx, s.metrics.corrupt, 1)
		s.metrics.add(ctx, s.metrics.misses, 1)
		s.removeStale(ctx, key, true)
		return nil, false
	}

	if s.expired(hdr.created) {
		s.logger.Debug(ctx, "cache entry expired",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "age", Value: s.now().Sub(hdr.created).String()},
		)
		s.metrics.add(ctx, s.metrics.expired, 1)
		s.metrics.add(ctx, s.metrics.misses, 1)
		s.removeStale(ctx, key, false)
		return nil, false
	}

	s.metrics.add(ctx, s.metrics.hits, 1)
	return payload, true
}

// Set stores payload for the signature. Failures are logged, never returned.
func (s *DiskStore) Set(ctx context.Context, operation string, params map[string]any, payload []byte) {
	key, ok := s.key(ctx, operation, params)
	if !ok {
		return
	}

	if err := s.write(key, s.codec.encode(payload, s.now())); err != nil {
		s.logger.Warn(ctx, "cache write failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "operation", Value: operation},
			observe.Field{Key: "error", Value: err},
		)
		s.metrics.add(ctx, s.metrics.writeErrors, 1)
		return
	}
	s.metrics.add(ctx, s.metrics.writes, 1)
}

func (s *DiskStore) write(key string, record []byte) error {
	tmp, err := s.writeTemp(key, record)
	if errors.Is(err, fs.ErrNotExist) {
		// Root was removed underneath us; recreate it once.
		if mkErr := os.MkdirAll(s.root, 0o750); mkErr == nil {
			tmp, err = s.writeTemp(key, record)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	mu := s.lock(key)
	mu.Lock()
	err = os.Rename(tmp, s.path(key))
	mu.Unlock()

	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", ErrStorage, err)
	}
	return nil
}

func (s *DiskStore) writeTemp(key string, record []byte) (string, error) {
	f, err := os.CreateTemp(s.root, tempPrefix+key+"-*")
	if err != nil {
		return "", err
	}
	name := f.Name()

	_, err = f.Write(record)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// Delete removes the entry for the signature.
func (s *DiskStore) Delete(ctx context.Context, operation string, params map[string]any) bool {
	key, ok := s.key(ctx, operation, params)
	if !ok {
		return false
	}

	mu := s.lock(key)
	mu.Lock()
	err := os.Remove(s.path(key))
	mu.Unlock()

	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "cache delete failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err},
			)
		}
		return false
	}
	s.metrics.add(ctx, s.metrics.removed, 1)
	return true
}

// Clear removes every entry under the root and returns the count removed.
func (s *DiskStore) Clear(ctx context.Context) int {
	keys, err := s.keys()
	if err != nil {
		s.logger.Warn(ctx, "cache clear failed", observe.Field{Key: "error", Value: err})
		return 0
	}

	removed := 0
	for _, key := range keys {
		mu := s.lock(key)
		mu.Lock()
		err := os.Remove(s.path(key))
		mu.Unlock()

		switch {
		case err == nil:
			removed++
		case !errors.Is(err, fs.ErrNotExist):
			s.logger.Warn(ctx, "cache remove failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err},
			)
		}
	}

	s.removeAbandoned(ctx)

	s.metrics.add(ctx, s.metrics.removed, removed)
	s.logger.Info(ctx, "cache cleared", observe.Field{Key: "removed", Value: removed})
	return removed
}

// ClearExpired removes every entry whose age >= TTL and returns the count.
// Entries with an unreadable header are removed and counted as well.
func (s *DiskStore) ClearExpired(ctx context.Context) int {
	keys, err := s.keys()
	if err != nil {
		s.logger.Warn(ctx, "cache sweep failed", observe.Field{Key: "error", Value: err})
		return 0
	}

	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)

	for _, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if s.removeStale(gctx, key, false) {
				removed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	s.removeAbandoned(ctx)

	n := int(removed.Load())
	s.metrics.add(ctx, s.metrics.removed, n)
	s.logger.Info(ctx, "expired cache entries cleared", observe.Field{Key: "removed", Value: n})
	return n
}

// Stats reports entry count, expired count and bytes on disk.
func (s *DiskStore) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.keys()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		info, err := os.Stat(s.path(key))
		if err != nil {
			continue // Removed concurrently
		}
		st.Entries++
		st.Bytes += info.Size()

		hdr, err := s.header(key)
		if err != nil || s.expired(hdr.created) {
			st.Expired++
		}
	}
	return st, nil
}

// removeStale deletes the entry for key if, under the key's lock, it is
// still expired or corrupt. With verifyBody the whole record is decoded,
// otherwise only the header is inspected. Reports whether a file was removed.
func (s *DiskStore) removeStale(ctx context.Context, key string, verifyBody bool) bool {
	mu := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	var (
		hdr recordHeader
		err error
	)
	if verifyBody {
		hdr, err = s.record(key)
	} else {
		hdr, err = s.header(key)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false
	case err != nil && !errors.Is(err, ErrCorruptEntry):
		s.logger.Warn(ctx, "cache header read failed",
			observe.Field{Key: "key", Value: key},
			observe.Field{Key: "error", Value: err},
		)
		return false
	case err == nil && !s.expired(hdr.created):
		return false
	}

	if err := os.Remove(s.path(key)); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "cache remove failed",
				observe.Field{Key: "key", Value: key},
				observe.Field{Key: "error", Value: err},
			)
		}
		return false
	}
	return true
}

// removeAbandoned deletes temporary files left by writers that never
// reached the rename. A temp file younger than the TTL may belong to a write
// in progress and is kept. Abandoned files are not entries and are not
// counted.
func (s *DiskStore) removeAbandoned(ctx context.Context) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}

	cleaned := 0
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !s.expired(info.ModTime()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn(ctx, "abandoned temp file remove failed",
					observe.Field{Key: "file", Value: e.Name()},
					observe.Field{Key: "error", Value: err},
				)
			}
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		s.logger.Debug(ctx, "abandoned temp files removed", observe.Field{Key: "removed", Value: cleaned})
	}
}

func (s *DiskStore) record(key string) (recordHeader, error) {
	// #nosec G304 -- path is root + hex key.
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return recordHeader{}, err
	}
	hdr, _, err := s.codec.decode(data)
	return hdr, err
}

func (s *DiskStore) header(key string) (recordHeader, error) {
	// #nosec G304 -- path is root + hex key.
	f, err := os.Open(s.path(key))
	if err != nil {
		return recordHeader{}, err
	}
	defer f.Close()
	return readHeader(f)
}

// keys lists the keys of all entries currently under the root.
func (s *DiskStore) keys() ([]string, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read cache directory: %v", ErrStorage, err)
	}

	keys := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, tempPrefix) || filepath.Ext(name) != entryExtension {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, entryExtension))
	}
	return keys, nil
}

// key derives the file-safe key for a signature. Keys from custom Keyers
// are sanitized so they cannot escape the root directory.
func (s *DiskStore) key(ctx context.Context, operation string, params map[string]any) (string, bool) {
	key, err := s.keyer.Key(operation, params)
	if err != nil {
		s.logger.Warn(ctx, "cache key derivation failed",
			observe.Field{Key: "operation", Value: operation},
			observe.Field{Key: "error", Value: err},
		)
		return "", false
	}
	return keyReplacer.Replace(key), true
}

var keyReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "__")

func (s *DiskStore) expired(created time.Time) bool {
	return !s.now().Before(created.Add(s.ttl))
}

func (s *DiskStore) path(key string) string {
	return filepath.Join(s.root, key+entryExtension)
}

func (s *DiskStore) lock(key string) *sync.Mutex {
	return &s.stripes[xxhash.Sum64String(key)%lockStripes]
}

var _ Store = (*DiskStore)(nil)
