package internal

import (
	"context"
	"sort"
	"time"

	"github.com/chrisconley/metricagg/internal/infra"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchResult describes a committed batch.
type BatchResult struct {
	BatchID   string
	Published []specs.OutputMetricSpec
	PreHourly int
	Committed []specs.OffsetRangeSpec

	// Records rejected before grouping (no metric group or timestamp).
	Skipped int
}

// BatchProcessor runs one batch end to end: build every pipeline, aggregate
// groups in parallel, stage the output, flush it and commit the offsets.
type BatchProcessor struct {
	resolver  SpecResolver
	publisher *MetricPublisher
	ledger    OffsetLedger
	preHourly PreHourlySink
	bus       *infra.Bus
	logger    *zap.Logger
	workers   int
	retry     RetryPolicy
}

type ProcessorOption func(*BatchProcessor)

func WithPreHourlySink(sink PreHourlySink) ProcessorOption {
	return func(p *BatchProcessor) { p.preHourly = sink }
}

func WithBus(bus *infra.Bus) ProcessorOption {
	return func(p *BatchProcessor) { p.bus = bus }
}

func WithLogger(logger *zap.Logger) ProcessorOption {
	return func(p *BatchProcessor) { p.logger = logger }
}

// WithWorkers bounds concurrent group aggregation and sends.
func WithWorkers(n int) ProcessorOption {
	return func(p *BatchProcessor) { p.workers = n }
}

func WithRetryPolicy(policy RetryPolicy) ProcessorOption {
	return func(p *BatchProcessor) { p.retry = policy }
}

func NewBatchProcessor(resolver SpecResolver, publisher *MetricPublisher, ledger OffsetLedger, opts ...ProcessorOption) *BatchProcessor {
	p := &BatchProcessor{
		resolver:  resolver,
		publisher: publisher,
		ledger:    ledger,
		bus:       infra.NewBus(),
		logger:    zap.NewNop(),
		workers:   4,
		retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

func (p *BatchProcessor) Bus() *infra.Bus {
	return p.bus
}

type groupWork struct {
	metricGroup string
	records     []RawUsageRecord
	pipeline    *Pipeline
}

// Process handles one batch. On error nothing has been committed; the caller
// retries the whole batch.
func (p *BatchProcessor) Process(ctx context.Context, batch specs.BatchSpec) (BatchResult, error) {
	result := BatchResult{BatchID: batch.ID}
	if result.BatchID == "" {
		result.BatchID = uuid.NewString()
	}
	logger := p.logger.With(zap.String("batch_id", result.BatchID))

	work, skipped := p.split(batch.Records, logger)
	result.Skipped = skipped
	p.bus.Publish(infra.BatchReceivedEvent{BatchID: result.BatchID, Records: len(batch.Records), Groups: len(work)})

	builder := NewPipelineBuilder(NewBatchSpecCache(p.resolver), p.publisher, logger)
	for _, w := range work {
		pipeline, err := builder.Build(ctx, w.metricGroup)
		if err != nil {
			return result, p.abort(result.BatchID, "build", err, logger)
		}
		w.pipeline = pipeline
	}

	staged, err := p.aggregate(ctx, result.BatchID, work)
	if err != nil {
		return result, p.abort(result.BatchID, "aggregate", err, logger)
	}

	published, err := p.flush(ctx, result.BatchID, staged)
	if err != nil {
		return result, p.abort(result.BatchID, "flush", err, logger)
	}
	result.Published = published
	result.PreHourly = len(staged.PreHourly)

	err = p.retry.Do(ctx, func() error {
		if err := p.ledger.Commit(ctx, batch.Offsets); err != nil {
			return errors.Mark(errors.Wrap(err, "commit offsets"), ErrLedger)
		}
		return nil
	})
	if err != nil {
		return result, p.abort(result.BatchID, "commit", err, logger)
	}
	result.Committed = batch.Offsets
	p.bus.Publish(infra.BatchCommittedEvent{BatchID: result.BatchID, Partitions: len(batch.Offsets)})

	logger.Info("batch committed",
		zap.Int("records", len(batch.Records)),
		zap.Int("skipped", result.Skipped),
		zap.Int("metrics", len(result.Published)),
		zap.Int("pre_hourly", result.PreHourly),
		zap.Int("partitions", len(batch.Offsets)),
	)
	return result, nil
}

// split converts record specs and buckets them by metric group, in name order.
func (p *BatchProcessor) split(recordSpecs []specs.RawUsageRecordSpec, logger *zap.Logger) ([]*groupWork, int) {
	byGroup := make(map[string]*groupWork)
	skipped := 0
	for i, spec := range recordSpecs {
		record, err := NewRawUsageRecord(spec)
		if err != nil {
			skipped++
			logger.Warn("skipping raw usage record", zap.Int("index", i), zap.Error(err))
			continue
		}
		name := record.MetricGroup.ToString()
		w, ok := byGroup[name]
		if !ok {
			w = &groupWork{metricGroup: name}
			byGroup[name] = w
		}
		w.records = append(w.records, record)
	}

	work := make([]*groupWork, 0, len(byGroup))
	for _, w := range byGroup {
		work = append(work, w)
	}
	sort.Slice(work, func(i, j int) bool { return work[i].metricGroup < work[j].metricGroup })
	return work, skipped
}

func (p *BatchProcessor) aggregate(ctx context.Context, batchID string, work []*groupWork) (Staged, error) {
	results := make([]Staged, len(work))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, w := range work {
		g.Go(func() error {
			start := time.Now()
			usages, err := w.pipeline.Aggregate(w.records)
			if err != nil {
				return errors.Wrapf(err, "metric group %s", w.metricGroup)
			}
			results[i] = w.pipeline.Insert(usages)
			p.bus.Publish(infra.GroupAggregatedEvent{
				BatchID:     batchID,
				MetricGroup: w.metricGroup,
				Usages:      len(usages),
				Duration:    time.Since(start),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Staged{}, err
	}

	var staged Staged
	for i, r := range results {
		staged.Append(r)
		p.bus.Publish(infra.MetricStagedEvent{
			BatchID:     batchID,
			MetricGroup: work[i].metricGroup,
			Metrics:     len(r.Metrics),
			PreHourly:   len(r.PreHourly),
		})
	}
	return staged, nil
}

// flush publishes every staged metric, then stores the deferred records. The
// pre-hourly store is the last side effect before the commit.
func (p *BatchProcessor) flush(ctx context.Context, batchID string, staged Staged) ([]specs.OutputMetricSpec, error) {
	if len(staged.PreHourly) > 0 && p.preHourly == nil {
		return nil, errors.Wrap(ErrInvalidSpec, "insert_data_pre_hourly configured without a pre-hourly sink")
	}

	published := make([]specs.OutputMetricSpec, len(staged.Metrics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, m := range staged.Metrics {
		g.Go(func() error {
			return p.retry.Do(gctx, func() error {
				metric, err := p.publisher.Publish(gctx, m.Usage, m.DimensionList)
				if err != nil {
					return err
				}
				published[i] = metric
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(staged.PreHourly) > 0 {
		err := p.retry.Do(ctx, func() error {
			return MarkTransport(p.preHourly.Store(ctx, staged.PreHourly), "store pre-hourly records")
		})
		if err != nil {
			return nil, err
		}
		p.bus.Publish(infra.PreHourlyStoredEvent{BatchID: batchID, Records: len(staged.PreHourly)})
	}

	p.bus.Publish(infra.BatchPublishedEvent{BatchID: batchID, Metrics: len(published)})
	return published, nil
}

func (p *BatchProcessor) abort(batchID, stage string, err error, logger *zap.Logger) error {
	logger.Error("batch aborted",
		zap.String("stage", stage),
		zap.Bool("config_error", IsConfigError(err)),
		zap.Bool("retryable", IsRetryable(err)),
		zap.Error(err),
	)
	p.bus.Publish(infra.BatchAbortedEvent{BatchID: batchID, Reason: stage, Err: err})
	return errors.Wrapf(err, "batch %s", batchID)
}
