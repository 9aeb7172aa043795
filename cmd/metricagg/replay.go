package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/internal/conf"
	"github.com/chrisconley/metricagg/internal/infra/sinks"
	"github.com/chrisconley/metricagg/internal/infra/specfile"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Aggregate a file of inbound envelopes as one batch and print the output",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Newline-delimited JSON envelopes, - for stdin",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "specs",
				Usage: "Spec document or directory (overrides specs.path)",
			},
			&cli.StringFlag{
				Name:  "tenant-id",
				Usage: "Tenant stamped on output metrics (overrides publish.tenant_id)",
			},
			&cli.TimestampFlag{
				Name:   "publish-time",
				Usage:  "Fixed publish time for reproducible output",
				Layout: time.RFC3339,
			},
		},
		Action: func(c *cli.Context) error {
			config, err := conf.Load(c.String("config"))
			if err != nil {
				return err
			}
			if path := c.String("specs"); path != "" {
				config.Specs.Path = path
			}
			if tenant := c.String("tenant-id"); tenant != "" {
				config.Publish.TenantID = tenant
			}
			config.Observability.LogFormat = "console"
			logger, err := conf.NewLogger(config.Observability)
			if err != nil {
				return errors.Wrap(err, "init logger")
			}
			defer logger.Sync()

			input := io.Reader(os.Stdin)
			if name := c.String("input"); name != "-" {
				f, err := os.Open(name)
				if err != nil {
					return errors.Wrap(err, "open input")
				}
				defer f.Close()
				input = f
			}

			var opts []internal.PublisherOption
			if at := c.Timestamp("publish-time"); at != nil {
				fixed := at.UTC()
				opts = append(opts, internal.WithClock(func() time.Time { return fixed }))
			}
			return replay(c.Context, config, input, c.App.Writer, logger, opts...)
		},
	}
}

func replay(ctx context.Context, config *conf.Config, input io.Reader, output io.Writer, logger *zap.Logger, opts ...internal.PublisherOption) error {
	repo, err := specfile.Load(config.Specs.Path)
	if err != nil {
		return errors.Wrap(err, "load specs")
	}

	envelopes, err := readEnvelopes(input)
	if err != nil {
		return err
	}
	records, dropped, err := internal.PreTransformBatch(ctx, repo, envelopes)
	if err != nil {
		return err
	}

	sink := sinks.NewWriterSink(output)
	publisher := internal.NewMetricPublisher(internal.PublisherConfig{
		TenantID: config.Publish.TenantID,
		Region:   config.Publish.Region,
	}, sink, opts...)
	processor := internal.NewBatchProcessor(repo, publisher, internal.NewMemoryLedger(),
		internal.WithPreHourlySink(sink),
		internal.WithLogger(logger),
		internal.WithWorkers(config.Processing.Workers),
		internal.WithRetryPolicy(internal.NoRetry()),
	)

	result, err := processor.Process(ctx, specs.BatchSpec{Records: records})
	if err != nil {
		return err
	}
	logger.Info("replay finished",
		zap.Int("envelopes", len(envelopes)),
		zap.Int("dropped", dropped),
		zap.Int("metrics", len(result.Published)),
		zap.Int("pre_hourly", result.PreHourly),
	)
	return nil
}

func readEnvelopes(r io.Reader) ([]specs.InboundMetricSpec, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var envelopes []specs.InboundMetricSpec
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var envelope specs.InboundMetricSpec
		if err := json.Unmarshal(scanner.Bytes(), &envelope); err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		envelopes = append(envelopes, envelope)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	return envelopes, nil
}
