// Package modelcache implements the content-addressed model artifact
// store from spec §4.3: has_file/download_file/get_file_path/stream_file,
// coalesced concurrent downloads, resumable partial downloads, and an
// LRU eviction policy that respects reference-counted pins.
//
// Grounded on the Docker model-runner Manager's pull-concurrency
// semaphore shape (maximumConcurrentModelPulls, pullTokens chan
// struct{}) and on the teacher's mutex-guarded registry pattern used
// throughout internal/embeddings and internal/vectorstore.
package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ProgressSink receives monotonically non-decreasing progress values
// in [0, 100] during a download (§4.3).
type ProgressSink func(models.DownloadProgress)

// Fetcher retrieves file bytes for a model artifact from wherever the
// artifact actually lives (ML RPC callback, remote registry, ...).
// Swappable so tests can fake the network boundary. offset is the
// number of bytes already written to the local partial file — a
// resumed download passes the partial's current size so the Fetcher
// requests only the remainder (e.g. an HTTP Range: bytes=offset-
// request) instead of re-sending bytes the cache already has.
type Fetcher interface {
	Fetch(ctx context.Context, modelID ids.ModelId, path string, offset int64, w io.Writer) (contentHash string, err error)
}

// entry tracks an on-disk artifact's reference count for LRU eviction.
type entry struct {
	size     int64
	pins     int
	lastUsed time.Time
}

// Cache is the content-addressed model artifact store.
type Cache struct {
	root      string
	maxBytes  int64
	chunkSize int64
	fetcher   Fetcher
	log       zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry // key: modelID/path
	used    int64
}

// New builds a Cache rooted at root, evicting down to maxBytes and
// streaming in chunkSize-sized frames (≤ models.MaxChunkBytes).
func New(root string, maxBytes, chunkSize int64, fetcher Fetcher, log zerolog.Logger) *Cache {
	if chunkSize <= 0 || chunkSize > models.MaxChunkBytes {
		chunkSize = models.MaxChunkBytes
	}
	return &Cache{
		root:      root,
		maxBytes:  maxBytes,
		chunkSize: chunkSize,
		fetcher:   fetcher,
		log:       log,
		entries:   make(map[string]*entry),
	}
}

func cacheKey(modelID ids.ModelId, path string) string {
	return string(modelID) + "/" + path
}

func (c *Cache) localPath(modelID ids.ModelId, path string) string {
	return filepath.Join(c.root, string(modelID), path)
}

func (c *Cache) partialPath(modelID ids.ModelId, path string) string {
	return c.localPath(modelID, path) + ".partial"
}

// HasFile reports whether path is fully downloaded and hash-verified.
// A file is visible only after it is complete (§4.3 invariant).
func (c *Cache) HasFile(modelID ids.ModelId, path string) bool {
	_, err := os.Stat(c.localPath(modelID, path))
	return err == nil
}

// GetFilePath returns the local path of a downloaded artifact, failing
// if it is absent.
func (c *Cache) GetFilePath(modelID ids.ModelId, path string) (string, *apperr.Error) {
	if !c.HasFile(modelID, path) {
		return "", apperr.NotFoundEntity("model_artifact", cacheKey(modelID, path))
	}
	c.touch(modelID, path)
	return c.localPath(modelID, path), nil
}

// DownloadFile blocks until the artifact at path is fully present
// locally, verified against wantHash. Concurrent callers for the same
// key share a single in-flight download (coalesced via singleflight).
// An interrupted download resumes from the last verified byte offset
// on the next call because the partial sidecar is never discarded on
// transient failure, only on success or on hash mismatch.
func (c *Cache) DownloadFile(ctx context.Context, modelID ids.ModelId, path, wantHash string, sink ProgressSink) *apperr.Error {
	key := cacheKey(modelID, path)

	_, err, _ := c.group.Do(key, func() (any, error) {
		return nil, c.downloadOnce(ctx, modelID, path, wantHash, sink)
	})
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			return ae
		}
		return apperr.Wrap(apperr.Backend, "download failed", err)
	}
	return nil
}

func (c *Cache) downloadOnce(ctx context.Context, modelID ids.ModelId, path, wantHash string, sink ProgressSink) error {
	if c.HasFile(modelID, path) {
		if sink != nil {
			sink(100)
		}
		return nil
	}

	if c.fetcher == nil {
		return apperr.New(apperr.PreconditionFailed, "model cache has no fetcher configured")
	}

	dst := c.localPath(modelID, path)
	partial := c.partialPath(modelID, path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.Wrap(apperr.Resource, "create cache directory", err)
	}

	boff := backoff.NewExponentialBackOff()
	boff.MaxElapsedTime = 5 * time.Minute

	err := backoff.Retry(func() error {
		f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return backoff.Permanent(apperr.Wrap(apperr.Resource, "open partial file", err))
		}
		defer f.Close()

		// Hash what is already on disk from a prior attempt, then resume
		// the Fetch at that byte offset — O_APPEND means anything the
		// Fetcher writes lands after it, so the Fetcher must be told to
		// skip the bytes the cache already has rather than restart at 0,
		// or the partial file accumulates duplicate, corrupt content.
		h := sha256.New()
		var offset int64
		if fi, statErr := f.Stat(); statErr == nil && fi.Size() > 0 {
			if existing, openErr := os.Open(partial); openErr == nil {
				n, _ := io.Copy(h, existing)
				existing.Close()
				offset = n
			}
		}

		progressWriter := &hashingProgressWriter{w: f, h: h, sink: sink, written: offset}
		_, fetchErr := c.fetcher.Fetch(ctx, modelID, path, offset, progressWriter)
		if fetchErr != nil {
			c.log.Warn().Err(fetchErr).Str("model_id", string(modelID)).Str("path", path).Int64("resume_offset", offset).Msg("download attempt failed, will retry")
			return fetchErr
		}

		sum := hex.EncodeToString(h.Sum(nil))
		if wantHash != "" && sum != wantHash {
			os.Remove(partial)
			return backoff.Permanent(apperr.New(apperr.Backend, fmt.Sprintf("hash mismatch for %s: got %s want %s", path, sum, wantHash)))
		}
		return nil
	}, boff)
	if err != nil {
		return err
	}

	if err := os.Rename(partial, dst); err != nil {
		return apperr.Wrap(apperr.Resource, "finalize download", err)
	}

	fi, _ := os.Stat(dst)
	c.mu.Lock()
	c.entries[cacheKey(modelID, path)] = &entry{size: fi.Size(), lastUsed: time.Now()}
	c.used += fi.Size()
	c.mu.Unlock()

	if sink != nil {
		sink(100)
	}
	c.evictIfNeeded()
	return nil
}

type hashingProgressWriter struct {
	w       io.Writer
	h       io.Writer
	sink    ProgressSink
	written int64
}

func (p *hashingProgressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.h.Write(b[:n])
		p.written += int64(n)
	}
	return n, err
}

// StreamFile returns the chunk frames of a downloaded artifact, in
// order, the last carrying IsLast=true. Used by the ML RPC's
// get_model_file inverse stream (§4.3, §6).
func (c *Cache) StreamFile(modelID ids.ModelId, path string) ([]models.ChunkFrame, *apperr.Error) {
	local, aerr := c.GetFilePath(modelID, path)
	if aerr != nil {
		return nil, aerr
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, apperr.Wrap(apperr.Resource, "open artifact for streaming", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, apperr.Wrap(apperr.Resource, "stat artifact", err)
	}

	var frames []models.ChunkFrame
	buf := make([]byte, c.chunkSize)
	var offset int64
	for offset < fi.Size() {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			offset += int64(n)
			frames = append(frames, models.ChunkFrame{
				Offset: offset - int64(n),
				Bytes:  chunk,
				IsLast: offset >= fi.Size(),
			})
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Resource, "read artifact chunk", err)
		}
	}
	return frames, nil
}

// Pin marks an artifact as in-use by a loaded model, excluding it from
// eviction until Unpin is called (§4.3 "never evicts ... currently
// opened by a loaded model").
func (c *Cache) Pin(modelID ids.ModelId, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey(modelID, path)]; ok {
		e.pins++
	}
}

// Unpin releases a pin taken by Pin.
func (c *Cache) Unpin(modelID ids.ModelId, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey(modelID, path)]; ok && e.pins > 0 {
		e.pins--
	}
}

func (c *Cache) touch(modelID ids.ModelId, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey(modelID, path)]; ok {
		e.lastUsed = time.Now()
	}
}

// evictIfNeeded removes the least-recently-used unpinned artifacts
// until used bytes fall at or below maxBytes.
func (c *Cache) evictIfNeeded() {
	if c.maxBytes <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.used > c.maxBytes {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if e.pins > 0 {
				continue
			}
			if oldestKey == "" || e.lastUsed.Before(oldest) {
				oldestKey, oldest = k, e.lastUsed
			}
		}
		if oldestKey == "" {
			return // everything remaining is pinned
		}
		e := c.entries[oldestKey]
		os.Remove(filepath.Join(c.root, oldestKey))
		c.used -= e.size
		delete(c.entries, oldestKey)
	}
}

// Stats reports current cache occupancy, surfaced by the Stats route.
type Stats struct {
	UsedBytes int64
	MaxBytes  int64
	Files     int
}

func (c *Cache) StatsSnapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{UsedBytes: c.used, MaxBytes: c.maxBytes, Files: len(c.entries)}
}
