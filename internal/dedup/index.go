// Package dedup tracks which content hash owns the canonical copy of a file.
package dedup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/starford/ordo/internal/apperr"
)

const shardCount = 64

// Record describes the canonical copy of one content hash.
type Record struct {
	Hash      string
	Path      string
	Size      int64
	ModTime   time.Time
	SessionID string
}

type shard struct {
	mu sync.Mutex
	m  map[string]Record
}

// Index is the in-memory hash → canonical map, optionally backed by a persistent store.
// Hashes are spread over 64 shards by prefix so concurrent pipelines rarely contend.
type Index struct {
	shards [shardCount]shard
	store  CanonicalStore
	logger *slog.Logger
}

// NewIndex creates an Index. store may be nil to keep dedup within one process.
func NewIndex(store CanonicalStore, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{store: store, logger: logger}
	for i := range ix.shards {
		ix.shards[i].m = make(map[string]Record)
	}
	return ix
}

func (ix *Index) shard(hash string) *shard {
	var n uint
	for i := 0; i < len(hash) && i < 2; i++ {
		n = n<<8 | uint(hash[i])
	}
	return &ix.shards[n%shardCount]
}

// Lookup returns the canonical record for hash. A canonical that no longer
// exists on disk, or whose size or mtime moved since it was recorded, is
// forgotten and reported as a miss.
func (ix *Index) Lookup(ctx context.Context, hash string) (Record, bool, error) {
	s := ix.shard(hash)
	s.mu.Lock()
	rec, ok := s.m[hash]
	s.mu.Unlock()

	if ok {
		if unchanged(rec) {
			return rec, true, nil
		}
		ix.forget(hash, rec.Path)
	}
	if ix.store == nil {
		return Record{}, false, nil
	}

	rec, err := ix.store.Lookup(ctx, hash)
	if errors.Is(err, apperr.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	s.mu.Lock()
	if cur, ok := s.m[hash]; ok {
		rec = cur
	} else {
		s.m[hash] = rec
	}
	s.mu.Unlock()
	return rec, true, nil
}

// Register records rec as canonical unless another path already claimed the hash.
// It returns the record that owns the hash afterwards.
func (ix *Index) Register(ctx context.Context, rec Record) Record {
	s := ix.shard(rec.Hash)
	s.mu.Lock()
	if cur, ok := s.m[rec.Hash]; ok {
		s.mu.Unlock()
		return cur
	}
	s.m[rec.Hash] = rec
	s.mu.Unlock()

	if ix.store != nil {
		if err := ix.store.Put(ctx, rec); err != nil {
			// The in-memory claim still serves this process.
			ix.logger.Warn("dedup: persist canonical", slog.String("path", rec.Path), slog.String("error", err.Error()))
		}
	}
	return rec
}

// ForgetPath drops every record whose canonical is path.
func (ix *Index) ForgetPath(ctx context.Context, path string) error {
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.Lock()
		for h, rec := range s.m {
			if rec.Path == path {
				delete(s.m, h)
			}
		}
		s.mu.Unlock()
	}
	if ix.store == nil {
		return nil
	}
	return ix.store.ForgetPath(ctx, path)
}

// Len returns the number of canonical records held in memory.
func (ix *Index) Len() int {
	n := 0
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

func (ix *Index) forget(hash, path string) {
	s := ix.shard(hash)
	s.mu.Lock()
	if cur, ok := s.m[hash]; ok && cur.Path == path {
		delete(s.m, hash)
	}
	s.mu.Unlock()
}

// unchanged reports whether rec.Path is still the regular file that was recorded.
func unchanged(rec Record) bool {
	info, err := os.Lstat(rec.Path)
	return err == nil && info.Mode().IsRegular() &&
		info.Size() == rec.Size && info.ModTime().Equal(rec.ModTime)
}
