package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config describes one load run against a symbol search service.
type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	// ExactEvery sends every Nth request to the exact lookup endpoint.
	// Zero disables exact lookups.
	ExactEvery int
	Prefixes   []string
	Keys       []string
}

type kind int

const (
	kindPrefix kind = iota
	kindExact
)

func (k kind) String() string {
	if k == kindExact {
		return "exact"
	}
	return "prefix"
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	notFound      atomic.Int64

	mu          sync.Mutex
	latencies   map[kind][]time.Duration
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make(map[kind][]time.Duration),
		statusCodes: make(map[int]int64),
	}
}

// RecordRequest counts one response. A 404 on an exact lookup is a miss,
// not an error.
func (s *Stats) RecordRequest(k kind, duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		s.successCount.Add(1)
	case statusCode == http.StatusNotFound && k == kindExact:
		s.notFound.Add(1)
	default:
		s.errorCount.Add(1)
	}

	s.mu.Lock()
	s.latencies[k] = append(s.latencies[k], duration)
	s.statusCodes[statusCode]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the symbol search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 20, "limit parameter for prefix queries")
	exactEvery := flag.Int("exact-every", 4, "send every Nth request as an exact lookup (0 disables)")
	prefixes := flag.String("prefixes", "o,op,oper,operator,operator=,orth,a,ab,s,set,get,Q", "comma-separated prefixes")
	keys := flag.String("keys", "operator=,operator[],operator<<,orthonormalize,abs,size", "comma-separated exact keys")
	flag.Parse()

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: *concurrency,
		Duration:    *duration,
		Limit:       *limit,
		ExactEvery:  *exactEvery,
		Prefixes:    splitList(*prefixes),
		Keys:        splitList(*keys),
	}
	if len(cfg.Prefixes) == 0 {
		fmt.Fprintln(os.Stderr, "at least one prefix is required")
		os.Exit(2)
	}
	if len(cfg.Keys) == 0 {
		cfg.ExactEvery = 0
	}

	fmt.Println("=== Symbol Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Prefixes:    %d unique\n", len(cfg.Prefixes))
	fmt.Printf("Keys:        %d unique\n", len(cfg.Keys))
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	stats := runLoadTest(ctx, cfg, newClient(cfg.Concurrency))
	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newClient(concurrency int) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// requestURL picks the n-th request of the rotation.
func requestURL(cfg Config, n int) (kind, string) {
	if cfg.ExactEvery > 0 && n%cfg.ExactEvery == cfg.ExactEvery-1 {
		key := cfg.Keys[(n/cfg.ExactEvery)%len(cfg.Keys)]
		return kindExact, cfg.BaseURL + "/api/v1/symbols/" + url.PathEscape(key)
	}
	prefix := cfg.Prefixes[n%len(cfg.Prefixes)]
	return kindPrefix, fmt.Sprintf("%s/api/v1/symbols?q=%s&limit=%d",
		cfg.BaseURL, url.QueryEscape(prefix), cfg.Limit)
}

func runLoadTest(ctx context.Context, cfg Config, client *http.Client) *Stats {
	stats := NewStats()
	var wg sync.WaitGroup

	for w := range cfg.Concurrency {
		wg.Go(func() {
			for n := w; ctx.Err() == nil; n += cfg.Concurrency {
				k, target := requestURL(cfg, n)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					stats.RecordRequest(k, 0, 0, err)
					continue
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.RecordRequest(k, elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(k, elapsed, resp.StatusCode, nil)
			}
		})
	}

	wg.Wait()
	return stats
}

// printReport writes the summary and reports whether any request completed.
func printReport(w io.Writer, stats *Stats, duration time.Duration) bool {
	total := stats.totalRequests.Load()
	errs := stats.errorCount.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", stats.successCount.Load())
	fmt.Fprintf(w, "Exact Misses:    %d\n", stats.notFound.Load())
	fmt.Fprintf(w, "Errors:          %d\n", errs)
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(errs)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	for _, k := range []kind{kindPrefix, kindExact} {
		latencies := slices.Clone(stats.latencies[k])
		if len(latencies) == 0 {
			continue
		}
		slices.Sort(latencies)

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l - avg)
			sumSquared += diff * diff
		}

		fmt.Fprintln(w)
		fmt.Fprintf(w, "=== Latency (%s, %d requests) ===\n", k, len(latencies))
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
		fmt.Fprintf(w, "StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := slices.Sorted(maps.Keys(stats.statusCodes))
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, stats.statusCodes[code])
	}

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
