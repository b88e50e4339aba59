package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/bigknn/internal/indexer/index"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bigknn/pkg/redis"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string]string
	failGet bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return "", errors.New("connection refused")
	}
	v, ok := s.data[key]
	if !ok {
		return "", pkgredis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value.(string)
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func query(rowID int64, ids ...int64) index.SparseVector {
	v := index.SparseVector{RowID: rowID}
	for _, id := range ids {
		v.Features = append(v.Features, index.Feature{ID: id, Count: 1})
	}
	return v
}

func TestGetOrComputeStoresResult(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, Scope{Fingerprint: "abc", K: 5, Weighted: true})
	ctx := context.Background()

	calls := 0
	compute := func() (float64, error) {
		calls++
		return 0.25, nil
	}
	p, hit, err := c.GetOrCompute(ctx, query(1, 3, 4), compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0.25, p)

	// same covariates on another row id share the entry
	p, hit, err = c.GetOrCompute(ctx, query(2, 3, 4), compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 0.25, p)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestScopeSeparatesKeys(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	a := New(store, time.Minute, Scope{Fingerprint: "abc", K: 5, Weighted: true})
	b := New(store, time.Minute, Scope{Fingerprint: "abc", K: 5, Weighted: false})

	a.Set(ctx, query(1, 3), 0.5)
	_, ok := b.Get(ctx, query(1, 3))
	assert.False(t, ok)
	p, ok := a.Get(ctx, query(1, 3))
	assert.True(t, ok)
	assert.Equal(t, 0.5, p)

	require.NoError(t, a.Invalidate(ctx))
	_, ok = a.Get(ctx, query(1, 3))
	assert.False(t, ok)
}

func TestBackendFailureIsAMiss(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	c := New(store, time.Minute, Scope{Fingerprint: "abc", K: 1})

	p, hit, err := c.GetOrCompute(context.Background(), query(1, 3), func() (float64, error) { return 1, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1.0, p)
}

func TestComputeErrorIsReturnedAndNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, Scope{Fingerprint: "abc", K: 1})
	boom := errors.New("boom")

	_, _, err := c.GetOrCompute(context.Background(), query(1, 3), func() (float64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.data)
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, Scope{Fingerprint: "abc", K: 1})
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func() (float64, error) {
		calls.Add(1)
		<-release
		return 0.75, nil
	}

	var wg sync.WaitGroup
	var computedHere atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, cached, err := c.GetOrCompute(context.Background(), query(1, 9), compute)
			assert.NoError(t, err)
			assert.Equal(t, 0.75, p)
			if !cached {
				computedHere.Add(1)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	// callers handed another caller's result report it as cached
	assert.Equal(t, calls.Load(), computedHere.Load())
}

func TestFingerprintTracksContents(t *testing.T) {
	build := func(label int64) *index.InvertedIndex {
		outcomes := index.NewOutcomeSet()
		outcomes.Add(label)
		idx, err := index.Open(outcomes)
		require.NoError(t, err)
		for _, r := range []index.SparseVector{query(1, 10, 11), query(2, 11)} {
			_, err := idx.Insert(r)
			require.NoError(t, err)
		}
		require.NoError(t, idx.Finalize())
		return idx
	}
	a, err := Fingerprint(build(1))
	require.NoError(t, err)
	again, err := Fingerprint(build(1))
	require.NoError(t, err)
	other, err := Fingerprint(build(2))
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, other)
}
