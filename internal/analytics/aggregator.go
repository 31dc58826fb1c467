package analytics

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/kafka"
)

// latencyWindow bounds the number of samples kept for percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalLookups      int64        `json:"total_lookups"`
	PrefixLookups     int64        `json:"prefix_lookups"`
	ExactLookups      int64        `json:"exact_lookups"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	ExactMissCount    int64        `json:"exact_miss_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      float64      `json:"p50_latency_ms"`
	P95LatencyMs      float64      `json:"p95_latency_ms"`
	P99LatencyMs      float64      `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	MissedKeys        []QueryCount `json:"missed_keys"`
	LookupsPerMinute  float64      `json:"lookups_per_minute"`
	LastGeneration    uint64       `json:"last_generation"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds LookupEvents into running totals.
type Aggregator struct {
	prefixLookups atomic.Int64
	exactLookups  atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	zeroResults   atomic.Int64
	exactMisses   atomic.Int64
	lastGen       atomic.Uint64

	mu                sync.RWMutex
	latencies         []float64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	missedKeys        map[string]int64
	startTime         time.Time

	now    func() time.Time
	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]float64, 0, 1024),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		missedKeys:        make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent adapts agg to a Kafka consumer. Undecodable messages are
// logged and acknowledged.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[LookupEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode lookup event", "key", string(key), "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record adds one event.
func (a *Aggregator) Record(event LookupEvent) {
	switch event.Type {
	case EventExact:
		a.exactLookups.Add(1)
		if event.Miss() {
			a.exactMisses.Add(1)
		}
	default:
		a.prefixLookups.Add(1)
		if event.Miss() {
			a.zeroResults.Add(1)
		}
	}
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	for {
		seen := a.lastGen.Load()
		if event.Generation <= seen || a.lastGen.CompareAndSwap(seen, event.Generation) {
			break
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
	switch event.Type {
	case EventExact:
		if event.Miss() {
			a.missedKeys[event.Key]++
		}
	default:
		a.queryCounts[event.Query]++
		if event.Miss() {
			a.zeroResultQueries[event.Query]++
		}
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	stats := AggregatedStats{
		PrefixLookups:   a.prefixLookups.Load(),
		ExactLookups:    a.exactLookups.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		ZeroResultCount: a.zeroResults.Load(),
		ExactMissCount:  a.exactMisses.Load(),
		LastGeneration:  a.lastGen.Load(),
	}
	stats.TotalLookups = stats.PrefixLookups + stats.ExactLookups

	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)
		var sum float64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = sum / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.MissedKeys = topN(a.missedKeys, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.LookupsPerMinute = float64(stats.TotalLookups) / elapsed
	}
	return stats
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count descending, then by query for a stable result.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for _, query := range slices.Sorted(maps.Keys(counts)) {
		result = append(result, QueryCount{Query: query, Count: counts[query]})
	}
	slices.SortStableFunc(result, func(x, y QueryCount) int {
		return cmp.Compare(y.Count, x.Count)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
