package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/resilience"
)

const snapshotInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting symbol search service", "port", cfg.Server.Port, "source", cfg.Index.Source)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Goroutines that must finish before exit (collector drain, final
	// snapshot) register here.
	var background sync.WaitGroup

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()

	var db *postgres.Client
	if cfg.Index.Source == config.SourcePostgres {
		db, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.PingCheck(db.Ping, health.StatusDown))
	}

	src, err := source.FromConfig(cfg.Index, source.Deps{
		DB: db,
		OnBreakerStateChange: func(name string, from, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	if err != nil {
		slog.Error("failed to configure index source", "error", err)
		os.Exit(1)
	}

	cat := catalog.New(src, catalog.Options{
		Retry:   resilience.RetryConfig{MaxAttempts: cfg.Index.LoadAttempts},
		Timeout: cfg.Index.LoadTimeout,
		OnFailure: func(error) {
			m.IndexReloadsTotal.WithLabelValues("failure").Inc()
		},
	})
	cat.OnSwap(func(ctx context.Context, old, current *symbolindex.Index) {
		s := current.Stats()
		m.ObserveIndex(s.Records, s.Entries, s.Generation, s.BuiltAt)
	})
	checker.Register("index", cat.HealthCheck())

	var queryCache *cache.QueryCache
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL)
			cat.OnSwap(queryCache.OnSwap)
			checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	// The service starts even when the first load fails; readiness stays
	// down until a reload succeeds.
	if _, err := cat.Reload(ctx); err != nil {
		slog.Error("initial index load failed", "error", err)
	}

	if fs, ok := src.(*source.FileSource); ok && cfg.Index.Watch {
		w := catalog.NewWatcher(cat, fs, cfg.Index.WatchDebounce)
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("index watcher stopped", "error", err)
			}
		}()
	}

	aggregator := analytics.NewAggregator()
	var (
		collector *analytics.Collector
		snapshots analytics.SnapshotStore
	)
	if len(cfg.Kafka.Brokers) > 0 {
		// Every replica must reload, so each one consumes rebuild events
		// in a group of its own.
		reloadConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocsRebuilt, catalog.ReloadHandler(cat),
			kafka.WithGroupID(cfg.Kafka.ConsumerGroup+"-reload-"+instanceID()))
		go func() {
			if err := reloadConsumer.Start(ctx); err != nil {
				slog.Error("rebuild consumer error", "error", err)
			}
		}()

		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.LookupAnalytics)
		defer producer.Close()
		collector = analytics.NewCollector(producer, analytics.CollectorOptions{
			OnOutcome: func(outcome string, n int) {
				m.AnalyticsEventsTotal.WithLabelValues(outcome).Add(float64(n))
			},
		})
		collector.Start(ctx)
		background.Add(1)
		go func() {
			defer background.Done()
			collector.Wait()
		}()

		analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.LookupAnalytics, analytics.HandleEvent(aggregator))
		go func() {
			if err := analyticsConsumer.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "error", err)
			}
		}()
		slog.Info("kafka integrations started",
			"rebuilt_topic", cfg.Kafka.Topics.DocsRebuilt,
			"analytics_topic", cfg.Kafka.Topics.LookupAnalytics,
		)

		if db != nil {
			store := analytics.NewStore(db)
			snapshots = store
			background.Add(1)
			go func() {
				defer background.Done()
				analytics.RunSnapshots(ctx, store, aggregator, snapshotInterval)
			}()
		}
	}

	opts := handler.Options{
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxResults:    cfg.Search.MaxResults,
		RequirePrefix: cfg.Search.RequirePrefix,
		Cache:         queryCache,
		Metrics:       m,
	}
	if collector != nil {
		opts.Tracker = collector
	}
	h := handler.New(cat, opts)
	analyticsH := analytics.NewHandler(aggregator, snapshots)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics/stats", analyticsH.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", analyticsH.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if len(cfg.Server.AdminKeys) > 0 {
		chain = middleware.AdminKey(cfg.Server.AdminKeys)(chain)
	} else {
		slog.Warn("no admin keys configured, reload and cache invalidation are open")
	}
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		go limiter.Cleanup(ctx)
		chain = middleware.RateLimit(limiter)(chain)
	}
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	chain = middleware.CORS(corsCfg)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("symbol search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	background.Wait()
	slog.Info("symbol search service stopped")
}

// instanceID names this replica for per-instance consumer groups. The host
// name is stable across restarts so committed offsets survive them.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
