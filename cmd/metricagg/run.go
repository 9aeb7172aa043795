package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/internal/conf"
	"github.com/chrisconley/metricagg/internal/infra"
	kafkainfra "github.com/chrisconley/metricagg/internal/infra/kafka"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Consume raw metrics, aggregate every batch and publish the results",
		Action: func(c *cli.Context) error {
			config, err := conf.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger, err := conf.NewLogger(config.Observability)
			if err != nil {
				return errors.Wrap(err, "init logger")
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, config, logger)
		},
	}
}

func run(ctx context.Context, config *conf.Config, logger *zap.Logger) error {
	logger.Info("starting metricagg",
		zap.String("version", version),
		zap.Strings("brokers", config.Kafka.Brokers),
		zap.String("input_topic", config.Kafka.InputTopic),
		zap.String("ledger", config.Ledger.Backend),
	)

	c := &components{logger: logger}
	defer c.close()

	if err := buildSpecs(ctx, c, config, logger); err != nil {
		return err
	}
	if err := buildLedger(ctx, c, config); err != nil {
		return err
	}
	if err := buildSinks(ctx, c, config, logger); err != nil {
		return err
	}

	bus := infra.NewBus()
	infra.NewMetrics(prometheus.DefaultRegisterer).Observe(bus)

	publisher := internal.NewMetricPublisher(internal.PublisherConfig{
		TenantID: config.Publish.TenantID,
		Region:   config.Publish.Region,
	}, c.sink)
	processor := newProcessor(c, config, publisher, bus, logger)

	source := kafkainfra.NewSource(kafkainfra.SourceConfig{
		Brokers:          config.Kafka.Brokers,
		Topic:            config.Kafka.InputTopic,
		Partitions:       config.Kafka.Partitions,
		MaxBatchMessages: config.Kafka.MaxBatchMessages,
		BatchInterval:    config.Kafka.BatchInterval,
	}, c.preResolver, c.ledger, logger)
	c.onClose(source.Close)

	metricsSrv := &http.Server{
		Addr:    config.Server.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("metrics server starting", zap.String("addr", config.Server.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	consume(ctx, source, processor, logger)

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
	return nil
}

type batchSource interface {
	Next(ctx context.Context) (specs.BatchSpec, error)
	Rewind()
}

// failurePause is how long consume waits before replaying a failed batch.
var failurePause = 5 * time.Second

// consume processes batches until ctx is done. A failed batch rewinds the
// source to the committed offsets and is read again after a pause.
func consume(ctx context.Context, source batchSource, processor *internal.BatchProcessor, logger *zap.Logger) {
	for ctx.Err() == nil {
		batch, err := source.Next(ctx)
		if err == nil && len(batch.Offsets) > 0 {
			_, err = processor.Process(ctx, batch)
		}
		if err == nil || ctx.Err() != nil {
			continue
		}

		logger.Error("batch failed, replaying from last commit",
			zap.String("batch_id", batch.ID),
			zap.Bool("config_error", internal.IsConfigError(err)),
			zap.Error(err),
		)
		source.Rewind()
		select {
		case <-ctx.Done():
		case <-time.After(failurePause):
		}
	}
}
