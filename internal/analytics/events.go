// Package analytics records symbol lookups as Kafka events, aggregates them
// on the consuming side and serves the aggregate over HTTP.
package analytics

import "time"

type EventType string

const (
	EventPrefix EventType = "prefix"
	EventExact  EventType = "exact"
)

// LookupEvent describes one answered lookup. For prefix lookups Hits is the
// total number of matching records and Returned the number sent back; for
// exact lookups Hits is 1 or 0.
type LookupEvent struct {
	Type       EventType `json:"type"`
	Query      string    `json:"query,omitempty"`
	Key        string    `json:"key,omitempty"`
	Hits       int       `json:"hits"`
	Returned   int       `json:"returned"`
	LatencyMs  float64   `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	Generation uint64    `json:"generation"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PartitionKey keeps events for the same term on one partition.
func (e LookupEvent) PartitionKey() string {
	if e.Type == EventExact {
		return "exact:" + e.Key
	}
	return "prefix:" + e.Query
}

// Miss reports whether the lookup found nothing.
func (e LookupEvent) Miss() bool {
	return e.Hits == 0
}
