package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
)

type memStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("connection refused")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func result(q string, gen uint64) *Result {
	return &Result{
		Query:      q,
		Generation: gen,
		Total:      1,
		Records: []symbolindex.Record{{Key: "operator bool", Entries: []symbolindex.Entry{
			{DisplayName: "operator bool", AnchorURL: "../classmatrix.html#ae84", ContainingFile: "matrix::operator bool()"},
		}}},
	}
}

func TestGetOrCompute(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute)
	var computed int
	compute := func() (*Result, error) {
		computed++
		return result("op", 1), nil
	}

	got, hit, err := c.GetOrCompute(context.Background(), "fp1", "op", 20, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, result("op", 1), got)

	got, hit, err = c.GetOrCompute(context.Background(), "fp1", "OP", 20, compute)
	require.NoError(t, err)
	assert.True(t, hit, "folded prefixes share an entry")
	assert.Equal(t, result("op", 1), got)
	assert.Equal(t, 1, computed)

	_, hit, err = c.GetOrCompute(context.Background(), "fp2", "op", 20, compute)
	require.NoError(t, err)
	assert.False(t, hit, "different index content misses")
	assert.Equal(t, 2, computed)

	st := c.Stats()
	assert.Equal(t, Stats{Hits: 1, Misses: 2, Total: 3, HitRate: 1.0 / 3}, st)
}

func TestGetOrComputeErrorIsNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute)
	boom := errors.New("index not loaded")

	_, _, err := c.GetOrCompute(context.Background(), "fp1", "o", 10, func() (*Result, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, store.len())
}

func TestGetOrComputeSurvivesStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failGet = true
	c := New(store, time.Minute)

	got, hit, err := c.GetOrCompute(context.Background(), "fp1", "o", 10, func() (*Result, error) { return result("o", 1), nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "o", got.Query)
	assert.Equal(t, int64(1), c.Stats().Errors)
}

func TestConcurrentMissesShareComputation(t *testing.T) {
	c := New(newMemStore(), time.Minute)
	release := make(chan struct{})
	var computed atomic.Int32

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "fp1", "o", 10, func() (*Result, error) {
				computed.Add(1)
				<-release
				return result("o", 1), nil
			})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), computed.Load())
}

func buildIndex(t *testing.T, gen uint64, keys ...string) *symbolindex.Index {
	t.Helper()
	raw := make([]symbolindex.RawRecord, len(keys))
	for i, k := range keys {
		raw[i] = symbolindex.RawRecord{Key: k, Entries: []symbolindex.Entry{
			{DisplayName: k, AnchorURL: "../classmatrix.html#" + k, ContainingFile: "matrix.h"},
		}}
	}
	idx, err := symbolindex.Build(raw, symbolindex.WithGeneration(gen))
	require.NoError(t, err)
	return idx
}

func TestOnSwapInvalidates(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute)
	_, _, err := c.GetOrCompute(context.Background(), "fp1", "o", 10, func() (*Result, error) { return result("o", 1), nil })
	require.NoError(t, err)
	store.Set(context.Background(), "unrelated", []byte("x"), 0)

	first := buildIndex(t, 1, "operator")
	same := buildIndex(t, 2, "operator")
	second := buildIndex(t, 3, "orthonormalize")

	c.OnSwap(context.Background(), nil, first)
	assert.Equal(t, 2, store.len())

	c.OnSwap(context.Background(), first, same)
	assert.Equal(t, 2, store.len(), "unchanged content keeps its entries")

	c.OnSwap(context.Background(), same, second)
	assert.Equal(t, 1, store.len())
}

func TestProcessesShareStoreByContent(t *testing.T) {
	store := newMemStore()
	older := buildIndex(t, 1, "operatorOld")
	newer := buildIndex(t, 1, "operatorNew")
	require.Equal(t, older.Generation(), newer.Generation())

	compute := func(idx *symbolindex.Index) func() (*Result, error) {
		return func() (*Result, error) {
			records, total := symbolindex.Collect(idx.Query("op"), 10)
			return &Result{Query: "op", Generation: idx.Generation(), Total: total, Records: records}, nil
		}
	}

	first := New(store, time.Minute)
	_, _, err := first.GetOrCompute(context.Background(), older.Fingerprint(), "op", 10, compute(older))
	require.NoError(t, err)

	restarted := New(store, time.Minute)
	restarted.OnSwap(context.Background(), nil, newer)
	got, hit, err := restarted.GetOrCompute(context.Background(), newer.Fingerprint(), "op", 10, compute(newer))
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "operatorNew", got.Records[0].Key)

	replica := New(store, time.Minute)
	_, hit, err = replica.GetOrCompute(context.Background(), buildIndex(t, 7, "operatorNew").Fingerprint(), "op", 10, compute(newer))
	require.NoError(t, err)
	assert.True(t, hit, "same content shares entries across processes")
}

func TestBuildKey(t *testing.T) {
	assert.Equal(t, BuildKey("fp", "Operator", 20), BuildKey("fp", "oPERATOR", 20))
	assert.NotEqual(t, BuildKey("fp3", "op", 20), BuildKey("fp4", "op", 20))
	assert.NotEqual(t, BuildKey("fp", "op", 20), BuildKey("fp", "op", 21))
	assert.Regexp(t, `^symq:[0-9a-f]{32}$`, BuildKey("fp", "o", 1))
}
