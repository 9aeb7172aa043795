package main

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/internal/conf"
	"github.com/chrisconley/metricagg/internal/infra"
	"github.com/chrisconley/metricagg/internal/infra/clickhouse"
	kafkainfra "github.com/chrisconley/metricagg/internal/infra/kafka"
	"github.com/chrisconley/metricagg/internal/infra/postgres"
	redisinfra "github.com/chrisconley/metricagg/internal/infra/redis"
	"github.com/chrisconley/metricagg/internal/infra/sinks"
	"github.com/chrisconley/metricagg/internal/infra/specfile"
	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// components are the wired backends of one process. close releases them in
// reverse order of creation.
type components struct {
	resolver    internal.SpecResolver
	preResolver internal.PreTransformResolver
	ledger      internal.OffsetLedger
	sink        internal.Sink
	preHourly   internal.PreHourlySink
	closers     []func() error
	db          *sql.DB
	redis       *goredis.Client
	logger      *zap.Logger
}

func (c *components) onClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("closing component failed", zap.Error(err))
		}
	}
}

func (c *components) postgres(ctx context.Context, config conf.PostgresConfig) (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := postgres.Open(ctx, withPassword(config.DSN, config.Password))
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	c.db = db
	c.onClose(db.Close)
	return db, nil
}

func (c *components) redisClient(ctx context.Context, config conf.RedisConfig) (*goredis.Client, error) {
	if c.redis != nil {
		return c.redis, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	c.redis = client
	c.onClose(client.Close)
	return client, nil
}

// buildSpecs wires the spec repositories.
func buildSpecs(ctx context.Context, c *components, config *conf.Config, logger *zap.Logger) error {
	switch config.Specs.Source {
	case "postgres":
		db, err := c.postgres(ctx, config.Postgres)
		if err != nil {
			return err
		}
		repo := postgres.NewSpecRepository(db)
		c.resolver, c.preResolver = repo, repo
	default:
		repo, err := specfile.Load(config.Specs.Path)
		if err != nil {
			return errors.Wrap(err, "load specs")
		}
		logger.Info("specs loaded", zap.String("path", config.Specs.Path), zap.Strings("metric_groups", repo.MetricGroups()))
		c.resolver, c.preResolver = repo, repo
	}

	if config.Specs.RedisCache {
		client, err := c.redisClient(ctx, config.Redis)
		if err != nil {
			return err
		}
		c.resolver = redisinfra.NewSpecCache(client, c.resolver, config.Specs.CacheTTL, logger)
	}
	return nil
}

func buildLedger(ctx context.Context, c *components, config *conf.Config) error {
	switch config.Ledger.Backend {
	case "redis":
		client, err := c.redisClient(ctx, config.Redis)
		if err != nil {
			return err
		}
		c.ledger = redisinfra.NewLedger(client, config.Observability.ServiceName)
	case "postgres":
		db, err := c.postgres(ctx, config.Postgres)
		if err != nil {
			return err
		}
		c.ledger = postgres.NewLedger(db)
	default:
		c.ledger = internal.NewMemoryLedger()
	}
	return nil
}

func buildSinks(ctx context.Context, c *components, config *conf.Config, logger *zap.Logger) error {
	switch config.Kafka.Driver {
	case "sarama":
		sink, err := kafkainfra.NewSaramaSink(config.Kafka.Brokers, config.Kafka.OutputTopic)
		if err != nil {
			return err
		}
		c.onClose(sink.Close)
		c.sink = sink
	default:
		sink := kafkainfra.NewMetricSink(config.Kafka.Brokers, config.Kafka.OutputTopic)
		c.onClose(sink.Close)
		c.sink = sink
	}

	if cb := config.Processing.CircuitBreaker; cb.Enabled {
		c.sink = sinks.NewBreakerSink(c.sink, breakerConfig(config.Kafka.OutputTopic, cb), logger)
	}

	switch config.Processing.PreHourlySink {
	case "clickhouse":
		conn, err := clickhouse.Open(ctx, clickhouse.Config{
			Addr:     config.ClickHouse.Addr,
			Database: config.ClickHouse.Database,
			Username: config.ClickHouse.Username,
			Password: config.ClickHouse.Password,
		})
		if err != nil {
			return err
		}
		store := clickhouse.NewInstanceUsageStore(conn)
		c.onClose(store.Close)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		c.preHourly = store
	case "kafka":
		sink := kafkainfra.NewPreHourlySink(config.Kafka.Brokers, config.Kafka.PreHourlyTopic)
		c.onClose(sink.Close)
		c.preHourly = sink
	}
	return nil
}

// breakerConfig overlays the configured breaker settings on the defaults.
// Zero values keep the default.
func breakerConfig(name string, cb conf.CircuitBreakerConfig) sinks.BreakerConfig {
	config := sinks.DefaultBreakerConfig(name)
	if cb.MaxRequests > 0 {
		config.MaxRequests = cb.MaxRequests
	}
	if cb.MinRequests > 0 {
		config.MinRequests = cb.MinRequests
	}
	if cb.Interval > 0 {
		config.Interval = cb.Interval
	}
	if cb.Timeout > 0 {
		config.Timeout = cb.Timeout
	}
	if cb.Threshold > 0 {
		config.FailureThreshold = cb.Threshold
	}
	return config
}

func retryPolicy(config conf.RetryConfig, logger *zap.Logger) internal.RetryPolicy {
	return internal.RetryPolicy{
		MaxRetries:        config.MaxRetries,
		InitialDelay:      config.InitialDelay,
		MaxDelay:          config.MaxDelay,
		BackoffMultiplier: config.BackoffMultiplier,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		},
	}
}

func newProcessor(c *components, config *conf.Config, publisher *internal.MetricPublisher, bus *infra.Bus, logger *zap.Logger) *internal.BatchProcessor {
	opts := []internal.ProcessorOption{
		internal.WithBus(bus),
		internal.WithLogger(logger),
		internal.WithWorkers(config.Processing.Workers),
		internal.WithRetryPolicy(retryPolicy(config.Processing.Retry, logger)),
	}
	if c.preHourly != nil {
		opts = append(opts, internal.WithPreHourlySink(c.preHourly))
	}
	return internal.NewBatchProcessor(c.resolver, publisher, c.ledger, opts...)
}

// withPassword adds password to a URL-style DSN that has a user but none.
func withPassword(dsn, password string) string {
	if password == "" {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), password)
	return u.String()
}
