// metricagg aggregates raw usage metrics into derived metrics as described by
// transform spec documents.
//
// Usage:
//
//	metricagg run --config configs/metricagg.yaml
//	metricagg replay --specs configs/specs --input envelopes.ndjson
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	app := &cli.App{
		Name:    "metricagg",
		Usage:   "Spec-driven usage aggregation and publish pipeline",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
				EnvVars: []string{"METRICAGG_CONFIG"},
			},
		},

		Commands: []*cli.Command{
			runCommand(),
			replayCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
