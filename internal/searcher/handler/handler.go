// Package handler serves symbol lookups and index administration over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/middleware"
)

// IndexProvider is implemented by *catalog.Catalog.
type IndexProvider interface {
	Current() (*symbolindex.Index, error)
	Reload(ctx context.Context) (catalog.ReloadResult, error)
	Status() catalog.Status
}

// Tracker is implemented by *analytics.Collector.
type Tracker interface {
	Track(event analytics.LookupEvent) bool
}

// Options configures result limits. Cache, Tracker and Metrics are
// optional.
type Options struct {
	DefaultLimit  int
	MaxResults    int
	RequirePrefix bool
	Cache         *cache.QueryCache
	Tracker       Tracker
	Metrics       *metrics.Metrics
}

type Handler struct {
	indexes IndexProvider
	opts    Options
	logger  *slog.Logger
}

func New(indexes IndexProvider, opts Options) *Handler {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 200
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > opts.MaxResults {
		opts.DefaultLimit = min(20, opts.MaxResults)
	}
	return &Handler{
		indexes: indexes,
		opts:    opts,
		logger:  slog.Default().With("component", "symbol-handler"),
	}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/symbols", h.Search)
	mux.HandleFunc("GET /api/v1/symbols/{key...}", h.Lookup)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search serves GET /api/v1/symbols?q=<prefix>&limit=<n>.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" && h.opts.RequirePrefix {
		h.writeError(w, r, apperrors.New(apperrors.ErrEmptyQuery, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	limit, err := h.parseLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	idx, err := h.indexes.Current()
	if err != nil {
		h.observe(metrics.KindPrefix, metrics.ResultError, "none", start)
		h.writeError(w, r, err)
		return
	}

	compute := func() (*cache.Result, error) {
		return &cache.Result{
			Query:      query,
			Generation: idx.Generation(),
			Total:      idx.Count(query),
			Records:    take(idx, query, limit),
		}, nil
	}

	var (
		result      *cache.Result
		cacheHit    bool
		cacheStatus = "none"
	)
	if h.opts.Cache != nil {
		result, cacheHit, err = h.opts.Cache.GetOrCompute(ctx, idx.Fingerprint(), query, limit, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
			// Entries are shared across folded prefixes and across
			// processes; report this caller's query and generation.
			result.Query = query
			result.Generation = idx.Generation()
		}
	} else {
		result, err = compute()
	}
	if err != nil {
		h.observe(metrics.KindPrefix, metrics.ResultError, cacheStatus, start)
		log.Error("symbol query failed", "query", query, "error", err)
		h.writeError(w, r, err)
		return
	}

	outcome := metrics.ResultHit
	if result.Total == 0 {
		outcome = metrics.ResultZeroResult
	}
	latency := h.observe(metrics.KindPrefix, outcome, cacheStatus, start)
	log.Info("symbol query completed",
		"query", query,
		"total", result.Total,
		"returned", len(result.Records),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.track(ctx, analytics.LookupEvent{
		Type:       analytics.EventPrefix,
		Query:      query,
		Hits:       result.Total,
		Returned:   len(result.Records),
		LatencyMs:  float64(latency.Microseconds()) / 1000,
		CacheHit:   cacheHit,
		Generation: result.Generation,
	})

	h.writeJSON(w, http.StatusOK, result)
}

// Lookup serves GET /api/v1/symbols/{key}. The key is matched exactly.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	key := r.PathValue("key")
	if key == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "symbol key is required"))
		return
	}

	idx, err := h.indexes.Current()
	if err != nil {
		h.observe(metrics.KindExact, metrics.ResultError, "none", start)
		h.writeError(w, r, err)
		return
	}

	rec, err := idx.ExactLookup(key)
	hits := 1
	outcome := metrics.ResultHit
	if err != nil {
		hits = 0
		outcome = metrics.ResultNotFound
	}
	latency := h.observe(metrics.KindExact, outcome, "none", start)
	h.track(ctx, analytics.LookupEvent{
		Type:       analytics.EventExact,
		Key:        key,
		Hits:       hits,
		Returned:   hits,
		LatencyMs:  float64(latency.Microseconds()) / 1000,
		Generation: idx.Generation(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// Reload serves POST /api/v1/index/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	res, err := h.indexes.Reload(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// IndexStats serves GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.indexes.Status())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.opts.Cache.Stats())
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	if err := h.opts.Cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", apperrors.ErrInternal, err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return h.opts.DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
	}
	return min(limit, h.opts.MaxResults), nil
}

// take returns the first limit records matching prefix.
func take(idx *symbolindex.Index, prefix string, limit int) []symbolindex.Record {
	out := make([]symbolindex.Record, 0, min(limit, idx.Count(prefix)))
	for rec := range idx.Query(prefix) {
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out
}

func (h *Handler) observe(kind, result, cacheStatus string, start time.Time) time.Duration {
	d := time.Since(start)
	if h.opts.Metrics != nil {
		h.opts.Metrics.ObserveLookup(kind, result, cacheStatus, d)
	}
	return d
}

func (h *Handler) track(ctx context.Context, event analytics.LookupEvent) {
	if h.opts.Tracker == nil {
		return
	}
	event.RequestID = middleware.GetRequestID(ctx)
	event.Timestamp = time.Now().UTC()
	h.opts.Tracker.Track(event)
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps err to a status code. Server-side failures are logged and
// answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	log := logger.FromContext(r.Context())
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		log.Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal server error"
	case status == http.StatusServiceUnavailable:
		log.Warn("request failed", "path", r.URL.Path, "error", err)
	default:
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, errorBody{Error: msg, RequestID: middleware.GetRequestID(r.Context())})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
