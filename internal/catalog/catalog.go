// Package catalog owns the symbol index currently being served. Readers get
// the current *symbolindex.Index without locking; a reload builds a complete
// new index off to the side and swaps it in with a single atomic store, so a
// failed reload leaves the previous index serving.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/tracing"
)

// SwapHook runs after a new index has been swapped in. old is nil on the
// first load.
type SwapHook func(ctx context.Context, old, current *symbolindex.Index)

// Options tunes reloads. OnFailure, when set, observes every failed reload.
type Options struct {
	Retry     resilience.RetryConfig
	Timeout   time.Duration
	Now       func() time.Time
	OnFailure func(err error)
}

// ReloadResult describes one completed reload.
type ReloadResult struct {
	Generation uint64        `json:"generation"`
	Records    int           `json:"records"`
	Entries    int           `json:"entries"`
	Duration   time.Duration `json:"duration_ns"`
	Shared     bool          `json:"shared"`
}

// Status summarises the serving index and the reload history.
type Status struct {
	Loaded      bool      `json:"loaded"`
	Generation  uint64    `json:"generation"`
	Records     int       `json:"records"`
	Entries     int       `json:"entries"`
	BuiltAt     time.Time `json:"built_at,omitzero"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	Reloads     uint64    `json:"reloads"`
	Failures    uint64    `json:"failures"`
}

type Catalog struct {
	src        symbolindex.Source
	opts       Options
	current    atomic.Pointer[symbolindex.Index]
	generation atomic.Uint64
	group      singleflight.Group
	logger     *slog.Logger

	mu          sync.Mutex
	hooks       []SwapHook
	lastAttempt time.Time
	lastErr     error
	reloads     uint64
	failures    uint64
}

func New(src symbolindex.Source, opts Options) *Catalog {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Catalog{
		src:    src,
		opts:   opts,
		logger: slog.Default().With("component", "catalog"),
	}
}

// OnSwap registers a hook. Hooks run in registration order on the
// goroutine that performed the reload.
func (c *Catalog) OnSwap(hook SwapHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Current returns the serving index, or ErrIndexNotLoaded before the first
// successful reload.
func (c *Catalog) Current() (*symbolindex.Index, error) {
	idx := c.current.Load()
	if idx == nil {
		return nil, apperrors.ErrIndexNotLoaded
	}
	return idx, nil
}

// Reload builds a new index from the source and swaps it in. Concurrent
// calls share one build. The build ignores cancellation of any single
// caller and is bounded by Options.Timeout per attempt; a caller whose ctx
// ends stops waiting but the build continues for the others. On failure the
// previous index keeps serving and the generation is unchanged.
func (c *Catalog) Reload(ctx context.Context) (ReloadResult, error) {
	ch := c.group.DoChan("reload", func() (any, error) {
		return c.reload(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return ReloadResult{}, fmt.Errorf("waiting for index reload: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return ReloadResult{}, r.Err
		}
		res := r.Val.(ReloadResult)
		res.Shared = r.Shared
		return res, nil
	}
}

func (c *Catalog) reload(ctx context.Context) (ReloadResult, error) {
	start := c.opts.Now()
	gen := c.generation.Load() + 1

	ctx, span := startSpan(ctx)
	span.SetAttr("generation", gen)

	var (
		built   atomic.Pointer[symbolindex.Index]
		attempt int
	)
	err := resilience.Retry(ctx, "index reload", c.opts.Retry, func() error {
		attempt++
		actx, as := tracing.StartChild(ctx, "index.load")
		as.SetAttr("attempt", attempt)
		err := resilience.WithTimeout(actx, c.opts.Timeout, "index load", func(ctx context.Context) error {
			idx, err := symbolindex.Load(ctx, c.src,
				symbolindex.WithGeneration(gen),
				symbolindex.WithClock(c.opts.Now),
			)
			if errors.Is(err, apperrors.ErrFormat) {
				return resilience.Permanent(err)
			}
			if err != nil {
				return err
			}
			built.Store(idx)
			return nil
		})
		as.End(err)
		return err
	})
	span.End(err)
	span.Log(ctx, c.logger)

	c.mu.Lock()
	c.lastAttempt = start
	c.lastErr = err
	if err != nil {
		c.failures++
	} else {
		c.reloads++
	}
	hooks := append([]SwapHook(nil), c.hooks...)
	c.mu.Unlock()

	if err != nil {
		attrs := []any{"generation", gen - 1, "error", err}
		if c.current.Load() == nil {
			c.logger.Error("index load failed, nothing to serve", attrs...)
		} else {
			c.logger.Error("index reload failed, keeping previous index", attrs...)
		}
		if c.opts.OnFailure != nil {
			c.opts.OnFailure(err)
		}
		return ReloadResult{}, fmt.Errorf("reloading index: %w", err)
	}

	idx := built.Load()
	c.generation.Store(gen)
	old := c.current.Swap(idx)
	for _, hook := range hooks {
		hook(ctx, old, idx)
	}

	stats := idx.Stats()
	res := ReloadResult{
		Generation: gen,
		Records:    stats.Records,
		Entries:    stats.Entries,
		Duration:   c.opts.Now().Sub(start),
	}
	c.logger.Info("index swapped",
		"generation", gen,
		"records", res.Records,
		"entries", res.Entries,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// startSpan nests the reload under the caller's span, or starts a trace
// keyed by the request id.
func startSpan(ctx context.Context) (context.Context, *tracing.Span) {
	if tracing.FromContext(ctx) != nil {
		return tracing.StartChild(ctx, "index.reload")
	}
	traceID := logger.RequestID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return tracing.Start(ctx, "index.reload", traceID)
}

// Status reports the serving index and reload counters.
func (c *Catalog) Status() Status {
	c.mu.Lock()
	st := Status{
		LastAttempt: c.lastAttempt,
		Reloads:     c.reloads,
		Failures:    c.failures,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	if idx := c.current.Load(); idx != nil {
		s := idx.Stats()
		st.Loaded = true
		st.Generation = s.Generation
		st.Records = s.Records
		st.Entries = s.Entries
		st.BuiltAt = s.BuiltAt
	}
	return st
}

// HealthCheck is down until an index is loaded and degraded while the most
// recent reload has failed.
func (c *Catalog) HealthCheck() health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		st := c.Status()
		switch {
		case !st.Loaded:
			return health.ComponentHealth{Status: health.StatusDown, Message: "no index loaded"}
		case st.LastError != "":
			return health.ComponentHealth{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("serving generation %d; last reload failed: %s", st.Generation, st.LastError),
			}
		default:
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: fmt.Sprintf("generation %d, %d records", st.Generation, st.Records),
			}
		}
	}
}
