// Package cache memoises prediction probabilities in Redis. Keys hash the
// query vector together with the index fingerprint, K and the weighting mode,
// so a rebuilt index or a different configuration never reads stale entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/redis"
)

const keyPrefix = "knn:"

// Store is the key/value backend. *pkgredis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Scope identifies the index and settings a cached probability belongs to.
type Scope struct {
	Fingerprint string
	K           int
	Weighted    bool
}

type PredictionCache struct {
	store  Store
	ttl    time.Duration
	scope  string
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(store Store, ttl time.Duration, scope Scope) *PredictionCache {
	return &PredictionCache{
		store:  store,
		ttl:    ttl,
		scope:  fmt.Sprintf("%s:k=%d:w=%t", scope.Fingerprint, scope.K, scope.Weighted),
		logger: slog.Default().With("component", "prediction-cache"),
	}
}

// Get returns the cached probability. Backend failures are logged and
// reported as misses.
func (c *PredictionCache) Get(ctx context.Context, query index.SparseVector) (float64, bool) {
	key := c.buildKey(query)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return 0, false
	}
	probability, err := strconv.ParseFloat(data, 64)
	if err != nil {
		c.logger.Error("cache value malformed", "key", key, "error", err)
		c.misses.Add(1)
		return 0, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "row_id", query.RowID, "key", key)
	return probability, true
}

func (c *PredictionCache) Set(ctx context.Context, query index.SparseVector, probability float64) {
	key := c.buildKey(query)
	value := strconv.FormatFloat(probability, 'g', -1, 64)
	if err := c.store.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached probability, or runs compute once per key
// across concurrent callers and stores its result. The boolean is false only
// for the caller whose compute ran; a result shared from another caller's
// computation counts as cached.
func (c *PredictionCache) GetOrCompute(
	ctx context.Context,
	query index.SparseVector,
	compute func() (float64, error),
) (float64, bool, error) {
	if probability, ok := c.Get(ctx, query); ok {
		return probability, true, nil
	}
	key := c.buildKey(query)
	ran := false
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		ran = true
		probability, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, query, probability)
		return probability, nil
	})
	if err != nil {
		return 0, false, err
	}
	return val.(float64), !ran, nil
}

// Invalidate deletes every cached prediction, whatever its scope.
func (c *PredictionCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *PredictionCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the feature ids and counts. The row id is not part of the
// key: two rows with the same covariates share one entry.
func (c *PredictionCache) buildKey(query index.SparseVector) string {
	h := sha256.New()
	h.Write([]byte(c.scope))
	var buf [16]byte
	for _, f := range query.Features {
		binary.LittleEndian.PutUint64(buf[:8], uint64(f.ID))
		binary.LittleEndian.PutUint64(buf[8:], uint64(f.Count))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:16])
}

// Fingerprint hashes the documents and postings of a finalized index.
func Fingerprint(idx *index.InvertedIndex) (string, error) {
	docs, entries, err := idx.Snapshot()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	var buf [16]byte
	for _, d := range docs {
		binary.LittleEndian.PutUint64(buf[:8], uint64(d.RowID))
		binary.LittleEndian.PutUint64(buf[8:], uint64(d.Label))
		h.Write(buf[:])
	}
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[:8], uint64(e.FeatureID))
		binary.LittleEndian.PutUint64(buf[8:], uint64(len(e.Postings)))
		h.Write(buf[:])
		for _, p := range e.Postings {
			binary.LittleEndian.PutUint64(buf[:8], uint64(p.DocID))
			binary.LittleEndian.PutUint64(buf[8:], uint64(p.Frequency))
			h.Write(buf[:])
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:8]), nil
}
