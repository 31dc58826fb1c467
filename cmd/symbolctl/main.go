// Command symbolctl queries, validates and moves symbol search data from the
// command line.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/symbolsearch/pkg/logger"
)

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "symbolctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "symbolctl",
		Usage:     "Query and manage Doxygen symbol search data",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (defaults and SS_* environment variables apply without one)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringSliceFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "Search data directory or file; overrides the configured index source",
			},
		},
		Before: func(c *cli.Context) error {
			slog.SetDefault(logger.New(stderr, c.String("log-level"), "text"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "query",
				Usage:     "List symbols whose key starts with a prefix (case-insensitive)",
				ArgsUsage: "<prefix>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of records to print (0 for all)",
						Value:   20,
					},
					jsonFlag,
				},
			},
			{
				Name:      "lookup",
				Usage:     "Print the record stored under an exact key",
				ArgsUsage: "<key>",
				Action:    lookupCommand,
				Flags:     []cli.Flag{jsonFlag},
			},
			{
				Name:   "validate",
				Usage:  "Load the index source and report its size or the first format error",
				Action: validateCommand,
			},
			{
				Name:   "import",
				Usage:  "Copy search data files into the PostgreSQL symbol_entries table",
				Action: importCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project name announced with --notify",
					},
					&cli.BoolFlag{
						Name:  "notify",
						Usage: "Publish a rebuild event so running services reload",
					},
				},
			},
			{
				Name:   "export",
				Usage:  "Write the index as a searchData fragment to stdout",
				Action: exportCommand,
			},
		},
	}
}

var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Print JSON instead of text",
}
