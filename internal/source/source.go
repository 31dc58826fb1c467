// Package source provides the places a symbol index can be loaded from:
// search data files on disk, a fragment served over HTTP, and the
// symbol_entries table in PostgreSQL.
package source

import (
	"fmt"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/resilience"
)

// Deps carries the shared clients a Source may need.
type Deps struct {
	// DB is required for the postgres kind.
	DB *postgres.Client
	// OnBreakerStateChange observes the HTTP source's circuit breaker.
	OnBreakerStateChange func(name string, from, to resilience.State)
}

// FromConfig builds the Source selected by cfg.Source.
func FromConfig(cfg config.IndexConfig, deps Deps) (symbolindex.Source, error) {
	switch cfg.Source {
	case config.SourceFile:
		return &FileSource{
			Paths:   cfg.Paths,
			Pattern: cfg.Pattern,
			Workers: cfg.DecodeWorkers,
		}, nil
	case config.SourceHTTP:
		return &HTTPSource{
			URL:     cfg.URL,
			Client:  &http.Client{Timeout: cfg.LoadTimeout},
			Retry:   resilience.RetryConfig{MaxAttempts: cfg.LoadAttempts},
			Breaker: resilience.NewCircuitBreaker("index-http", resilience.CircuitBreakerConfig{
				OnStateChange: deps.OnBreakerStateChange,
			}),
		}, nil
	case config.SourcePostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("source %q needs a postgres connection", cfg.Source)
		}
		return NewStore(deps.DB), nil
	default:
		return nil, fmt.Errorf("unknown index source %q", cfg.Source)
	}
}
