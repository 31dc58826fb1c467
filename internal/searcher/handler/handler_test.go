package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/middleware"
)

type fakeIndexes struct {
	idx       *symbolindex.Index
	err       error
	reloadErr error
	reloads   int
}

func (f *fakeIndexes) Current() (*symbolindex.Index, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.idx, nil
}

func (f *fakeIndexes) Reload(ctx context.Context) (catalog.ReloadResult, error) {
	f.reloads++
	if f.reloadErr != nil {
		return catalog.ReloadResult{}, f.reloadErr
	}
	return catalog.ReloadResult{Generation: f.idx.Generation() + 1, Records: f.idx.Len()}, nil
}

func (f *fakeIndexes) Status() catalog.Status {
	s := f.idx.Stats()
	return catalog.Status{Loaded: true, Generation: s.Generation, Records: s.Records, Entries: s.Entries}
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.LookupEvent
}

func (t *recordingTracker) Track(e analytics.LookupEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return true
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func entry(name string) symbolindex.Entry {
	return symbolindex.Entry{DisplayName: name, AnchorURL: "../a.html#" + name, ContainingFile: "a.h"}
}

func testIndex(t *testing.T) *symbolindex.Index {
	t.Helper()
	idx, err := symbolindex.Build([]symbolindex.RawRecord{
		{Key: "orthonormalize", Entries: []symbolindex.Entry{entry("orthonormalize")}},
		{Key: "O", Entries: []symbolindex.Entry{entry("O"), entry("O")}},
		{Key: "operator bool", Entries: []symbolindex.Entry{entry("operator bool")}},
		{Key: "operator/", Entries: []symbolindex.Entry{entry("operator/")}},
		{Key: "abs", Entries: []symbolindex.Entry{entry("abs")}},
	}, symbolindex.WithGeneration(3))
	require.NoError(t, err)
	return idx
}

type testServer struct {
	handler *Handler
	indexes *fakeIndexes
	tracker *recordingTracker
	metrics *metrics.Metrics
	mux     http.Handler
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ts := &testServer{
		indexes: &fakeIndexes{idx: testIndex(t)},
		tracker: &recordingTracker{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	opts.Tracker = ts.tracker
	opts.Metrics = ts.metrics
	ts.handler = New(ts.indexes, opts)
	mux := http.NewServeMux()
	ts.handler.Register(mux)
	ts.mux = middleware.RequestID(mux)
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func keys(records []symbolindex.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Key
	}
	return out
}

func TestSearchFoldsCase(t *testing.T) {
	ts := newTestServer(t, Options{DefaultLimit: 10, MaxResults: 50})

	rec := ts.do(t, http.MethodGet, "/api/v1/symbols?q=o")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	res := decode[cache.Result](t, rec)
	assert.Equal(t, "o", res.Query)
	assert.Equal(t, uint64(3), res.Generation)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, []string{"O", "operator bool", "operator/", "orthonormalize"}, keys(res.Records))
	assert.Len(t, res.Records[0].Entries, 2)
}

func TestSearchLimit(t *testing.T) {
	ts := newTestServer(t, Options{DefaultLimit: 2, MaxResults: 3})

	res := decode[cache.Result](t, ts.do(t, http.MethodGet, "/api/v1/symbols?q=op"))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, []string{"operator bool", "operator/"}, keys(res.Records))

	res = decode[cache.Result](t, ts.do(t, http.MethodGet, "/api/v1/symbols"))
	assert.Equal(t, 5, res.Total)
	assert.Len(t, res.Records, 2)

	res = decode[cache.Result](t, ts.do(t, http.MethodGet, "/api/v1/symbols?limit=100"))
	assert.Len(t, res.Records, 3)

	for _, bad := range []string{"0", "-1", "ten"} {
		rec := ts.do(t, http.MethodGet, "/api/v1/symbols?q=o&limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestSearchZeroResults(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/api/v1/symbols?q=zz")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[cache.Result](t, rec)
	assert.Zero(t, res.Total)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.LookupsTotal.WithLabelValues(metrics.KindPrefix, metrics.ResultZeroResult)))

	require.Len(t, ts.tracker.events, 1)
	ev := ts.tracker.events[0]
	assert.Equal(t, analytics.EventPrefix, ev.Type)
	assert.Equal(t, "zz", ev.Query)
	assert.True(t, ev.Miss())
	assert.NotEmpty(t, ev.RequestID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestSearchRequirePrefix(t *testing.T) {
	ts := newTestServer(t, Options{RequirePrefix: true})
	rec := ts.do(t, http.MethodGet, "/api/v1/symbols?q=")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[errorBody](t, rec)
	assert.Equal(t, "query parameter 'q' is required", body.Error)
	assert.NotEmpty(t, body.RequestID)
	assert.Empty(t, ts.tracker.events)
}

func TestSearchIndexNotLoaded(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.indexes.err = fmt.Errorf("catalog: %w", apperrors.ErrIndexNotLoaded)

	rec := ts.do(t, http.MethodGet, "/api/v1/symbols?q=o")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode[errorBody](t, rec).Error, "index not loaded")

	rec = ts.do(t, http.MethodGet, "/api/v1/symbols/O")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.LookupsTotal.WithLabelValues(metrics.KindPrefix, metrics.ResultError))+
		testutil.ToFloat64(ts.metrics.LookupsTotal.WithLabelValues(metrics.KindExact, metrics.ResultError)))
}

func TestCacheSharedAcrossProcessesServesOwnContent(t *testing.T) {
	store := &memStore{data: map[string][]byte{}}
	serve := func(key string) http.Handler {
		cat := catalog.New(symbolindex.SourceFunc(func(context.Context) ([]symbolindex.RawRecord, error) {
			return []symbolindex.RawRecord{{Key: key, Entries: []symbolindex.Entry{entry(key)}}}, nil
		}), catalog.Options{})
		qc := cache.New(store, time.Minute)
		cat.OnSwap(qc.OnSwap)
		_, err := cat.Reload(context.Background())
		require.NoError(t, err)

		mux := http.NewServeMux()
		New(cat, Options{Cache: qc, Metrics: metrics.New(prometheus.NewRegistry())}).Register(mux)
		return mux
	}
	get := func(h http.Handler) cache.Result {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/symbols?q=op", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[cache.Result](t, rec)
	}

	older := get(serve("operatorOld"))
	newer := get(serve("operatorNew"))

	assert.Equal(t, uint64(1), older.Generation)
	assert.Equal(t, uint64(1), newer.Generation)
	assert.Equal(t, []string{"operatorOld"}, keys(older.Records))
	assert.Equal(t, []string{"operatorNew"}, keys(newer.Records))
}

func TestSearchUsesCache(t *testing.T) {
	qc := cache.New(&memStore{data: map[string][]byte{}}, time.Minute)
	ts := newTestServer(t, Options{Cache: qc})

	first := decode[cache.Result](t, ts.do(t, http.MethodGet, "/api/v1/symbols?q=OP"))
	second := decode[cache.Result](t, ts.do(t, http.MethodGet, "/api/v1/symbols?q=op"))

	assert.Equal(t, "OP", first.Query)
	assert.Equal(t, "op", second.Query)
	assert.Equal(t, first.Records, second.Records)

	stats := qc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	require.Len(t, ts.tracker.events, 2)
	assert.False(t, ts.tracker.events[0].CacheHit)
	assert.True(t, ts.tracker.events[1].CacheHit)
	assert.Equal(t, 2, testutil.CollectAndCount(ts.metrics.LookupLatency, "symbol_lookup_latency_seconds"))

	rec := ts.do(t, http.MethodGet, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[cache.Stats](t, rec).Hits)

	rec = ts.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	decode[cache.Result](t, ts.do(t, http.MethodGet, "/api/v1/symbols?q=op"))
	assert.Equal(t, int64(2), qc.Stats().Misses)
}

func TestCacheDisabled(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodGet, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "disabled"}, decode[map[string]string](t, rec))

	rec = ts.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLookup(t *testing.T) {
	ts := newTestServer(t, Options{})

	t.Run("hit", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/symbols/operator%20bool")
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[symbolindex.Record](t, rec)
		assert.Equal(t, "operator bool", got.Key)
		assert.Equal(t, "../a.html#operator bool", got.Entries[0].AnchorURL)
	})

	t.Run("key with slash", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/symbols/operator/")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "operator/", decode[symbolindex.Record](t, rec).Key)
	})

	t.Run("case sensitive", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/symbols/o")
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, decode[errorBody](t, rec).Error, "symbol not found")
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.LookupsTotal.WithLabelValues(metrics.KindExact, metrics.ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.LookupsTotal.WithLabelValues(metrics.KindExact, metrics.ResultNotFound)))

	require.Len(t, ts.tracker.events, 3)
	miss := ts.tracker.events[2]
	assert.Equal(t, analytics.EventExact, miss.Type)
	assert.Equal(t, "o", miss.Key)
	assert.Zero(t, miss.Hits)
	assert.Equal(t, uint64(3), miss.Generation)
}

func TestReload(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodPost, "/api/v1/index/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[catalog.ReloadResult](t, rec)
	assert.Equal(t, uint64(4), res.Generation)
	assert.Equal(t, 1, ts.indexes.reloads)

	ts.indexes.reloadErr = fmt.Errorf("reloading index: %w", &symbolindex.FormatError{Record: 2, Key: "o", Reason: "duplicate key"})
	rec = ts.do(t, http.MethodPost, "/api/v1/index/reload")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	ts.indexes.reloadErr = fmt.Errorf("reloading index: %w", apperrors.ErrSourceUnavailable)
	rec = ts.do(t, http.MethodPost, "/api/v1/index/reload")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/index/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIndexStats(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/api/v1/index/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[catalog.Status](t, rec)
	assert.True(t, st.Loaded)
	assert.Equal(t, 5, st.Records)
	assert.Equal(t, 6, st.Entries)
}

func TestInternalErrorsAreHidden(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.indexes.reloadErr = fmt.Errorf("pq: relation %q does not exist", "symbol_entries")

	rec := ts.do(t, http.MethodPost, "/api/v1/index/reload")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[errorBody](t, rec).Error)
}
