package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/kafka"
)

// RebuiltEvent announces that a documentation build published new search
// data. It is the value of messages on the docs.rebuilt topic.
type RebuiltEvent struct {
	Project string    `json:"project"`
	Source  string    `json:"source"`
	Records int       `json:"records"`
	BuiltAt time.Time `json:"built_at"`
}

// ReloadHandler returns a Kafka handler that reloads r for every
// RebuiltEvent. Undecodable messages are logged and acknowledged; a failed
// reload is returned so the consumer retries it.
func ReloadHandler(r Reloader) kafka.MessageHandler {
	logger := slog.Default().With("component", "reload-consumer")
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[RebuiltEvent](value)
		if err != nil {
			logger.Warn("ignoring malformed rebuild event", "key", string(key), "error", err)
			return nil
		}
		res, err := r.Reload(ctx)
		if err != nil {
			return err
		}
		logger.Info("reloaded after docs rebuild",
			"project", ev.Project,
			"source", ev.Source,
			"generation", res.Generation,
			"records", res.Records,
		)
		return nil
	}
}
