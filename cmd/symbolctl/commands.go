package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/searchdata"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/source"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/internal/symbolindex"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/postgres"
)

// loadConfig reads --config and applies --source.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if paths := c.StringSlice("source"); len(paths) > 0 {
		return config.LoadWith(c.String("config"), func(cfg *config.Config) {
			cfg.Index.Source = config.SourceFile
			cfg.Index.Paths = paths
		})
	}
	return config.Load(c.String("config"))
}

// openSource builds the configured source. The returned close function
// releases any database connection.
func openSource(cfg *config.Config) (symbolindex.Source, func(), error) {
	var (
		deps    source.Deps
		closeFn = func() {}
	)
	if cfg.Index.Source == config.SourcePostgres {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		deps.DB = db
		closeFn = func() { db.Close() }
	}
	src, err := source.FromConfig(cfg.Index, deps)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return src, closeFn, nil
}

func loadIndex(c *cli.Context) (*symbolindex.Index, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	src, closeFn, err := openSource(cfg)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return symbolindex.Load(c.Context, src)
}

func queryCommand(c *cli.Context) error {
	if c.NArg() > 1 {
		return fmt.Errorf("query takes one prefix argument, got %d", c.NArg())
	}
	prefix := c.Args().First()
	idx, err := loadIndex(c)
	if err != nil {
		return err
	}
	records, total := symbolindex.Collect(idx.Query(prefix), c.Int("limit"))

	if c.Bool("json") {
		return writeJSON(c.App.Writer, map[string]any{
			"query":   prefix,
			"total":   total,
			"records": records,
		})
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, rec := range records {
		writeRecord(tw, rec)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d of %d records\n", len(records), total)
	return nil
}

func lookupCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("lookup takes exactly one key argument")
	}
	idx, err := loadIndex(c)
	if err != nil {
		return err
	}
	rec, err := idx.ExactLookup(c.Args().First())
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, rec)
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	writeRecord(tw, rec)
	return tw.Flush()
}

func validateCommand(c *cli.Context) error {
	start := time.Now()
	idx, err := loadIndex(c)
	if err != nil {
		var fe *symbolindex.FormatError
		if errors.As(err, &fe) {
			return fmt.Errorf("invalid search data: %w", err)
		}
		return err
	}
	s := idx.Stats()
	fmt.Fprintf(c.App.Writer, "ok: %d records, %d entries (%s)\n",
		s.Records, s.Entries, time.Since(start).Round(time.Millisecond))
	return nil
}

func importCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Index.Source != config.SourceFile {
		return fmt.Errorf("import reads search data files; pass --source or configure index.source %q", config.SourceFile)
	}
	src := &source.FileSource{Paths: cfg.Index.Paths, Pattern: cfg.Index.Pattern, Workers: cfg.Index.DecodeWorkers}
	records, err := src.Records(c.Context)
	if err != nil {
		return err
	}
	// Reject what the service would reject before touching the table.
	if _, err := symbolindex.Build(records); err != nil {
		return fmt.Errorf("invalid search data: %w", err)
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(c.Context); err != nil {
		return err
	}
	n, err := source.NewStore(db).Replace(c.Context, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "imported %d records (%d entries)\n", len(records), n)

	if !c.Bool("notify") {
		return nil
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("--notify needs kafka.brokers")
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocsRebuilt)
	defer producer.Close()
	event := catalog.RebuiltEvent{
		Project: c.String("project"),
		Source:  strings.Join(cfg.Index.Paths, ","),
		Records: len(records),
		BuiltAt: time.Now().UTC(),
	}
	if err := producer.Publish(c.Context, kafka.Event{Key: event.Project, Value: event}); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "published rebuild event to %s\n", cfg.Kafka.Topics.DocsRebuilt)
	return nil
}

func exportCommand(c *cli.Context) error {
	idx, err := loadIndex(c)
	if err != nil {
		return err
	}
	records, _ := symbolindex.Collect(idx.Query(""), 0)
	return searchdata.Encode(c.App.Writer, records)
}

func writeRecord(w io.Writer, rec symbolindex.Record) {
	fmt.Fprintf(w, "%s\n", rec.Key)
	for _, e := range rec.Entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", e.ContainingFile, e.Signature, e.AnchorURL)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
