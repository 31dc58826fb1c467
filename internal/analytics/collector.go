package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/kafka"
)

// Outcome labels reported through CollectorOptions.OnOutcome.
const (
	OutcomePublished = "published"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// CollectorOptions tunes buffering. Zero values take defaults.
type CollectorOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// OnOutcome is called with an outcome label and an event count.
	OnOutcome func(outcome string, n int)
}

// Collector buffers lookup events and publishes them in batches. Track
// never blocks: when the buffer is full the event is dropped.
type Collector struct {
	publisher kafka.Publisher
	eventCh   chan LookupEvent
	batchSize int
	interval  time.Duration
	onOutcome func(string, int)
	logger    *slog.Logger
	done      chan struct{}
}

func NewCollector(publisher kafka.Publisher, opts CollectorOptions) *Collector {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	onOutcome := opts.OnOutcome
	if onOutcome == nil {
		onOutcome = func(string, int) {}
	}
	return &Collector{
		publisher: publisher,
		eventCh:   make(chan LookupEvent, opts.BufferSize),
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
		onOutcome: onOutcome,
		logger:    slog.Default().With("component", "analytics-collector"),
		done:      make(chan struct{}),
	}
}

// Start launches the publish loop. When ctx is cancelled the loop drains
// whatever is still buffered and exits.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		for {
			select {
			case event := <-c.eventCh:
				batch = append(batch, toKafka(event))
				if len(batch) >= c.batchSize {
					batch = c.flush(ctx, batch)
				}
			case <-ticker.C:
				batch = c.flush(ctx, batch)
			case <-ctx.Done():
				c.drainRemaining(batch)
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"flush_interval", c.interval,
	)
}

// Track enqueues event. It returns false if the event was dropped.
func (c *Collector) Track(event LookupEvent) bool {
	select {
	case c.eventCh <- event:
		return true
	default:
		c.onOutcome(OutcomeDropped, 1)
		c.logger.Warn("analytics event dropped (buffer full)", "type", event.Type)
		return false
	}
}

// Wait blocks until the publish loop has drained and exited.
func (c *Collector) Wait() {
	<-c.done
}

// Buffered returns the number of events waiting to be batched.
func (c *Collector) Buffered() int {
	return len(c.eventCh)
}

func (c *Collector) flush(ctx context.Context, batch []kafka.Event) []kafka.Event {
	if len(batch) == 0 {
		return batch
	}
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.onOutcome(OutcomeFailed, len(batch))
		c.logger.Error("failed to publish analytics batch", "events", len(batch), "error", err)
	} else {
		c.onOutcome(OutcomePublished, len(batch))
	}
	return batch[:0]
}

func (c *Collector) drainRemaining(batch []kafka.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-c.eventCh:
			batch = append(batch, toKafka(event))
			if len(batch) >= c.batchSize {
				batch = c.flush(ctx, batch)
			}
		default:
			c.flush(ctx, batch)
			return
		}
	}
}

func toKafka(event LookupEvent) kafka.Event {
	return kafka.Event{Key: event.PartitionKey(), Value: event}
}
