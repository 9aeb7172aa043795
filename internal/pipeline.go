package internal

import (
	"context"
	"sync"

	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// SpecResolver looks up the transform spec of a metric group. Unknown groups
// fail with ErrSpecNotFound.
type SpecResolver interface {
	Resolve(ctx context.Context, metricGroup string) (specs.TransformSpec, error)
}

// StaticResolver serves specs from a map keyed by metric group.
type StaticResolver map[string]specs.TransformSpec

func NewStaticResolver(transformSpecs ...specs.TransformSpec) StaticResolver {
	r := make(StaticResolver, len(transformSpecs))
	for _, spec := range transformSpecs {
		r[spec.MetricGroup] = spec
	}
	return r
}

func (r StaticResolver) Resolve(_ context.Context, metricGroup string) (specs.TransformSpec, error) {
	spec, ok := r[metricGroup]
	if !ok {
		return specs.TransformSpec{}, errors.Wrapf(ErrSpecNotFound, "%q", metricGroup)
	}
	return spec, nil
}

// BatchSpecCache memoizes resolutions for the lifetime of one batch.
type BatchSpecCache struct {
	resolver SpecResolver

	mu    sync.RWMutex
	specs map[string]specs.TransformSpec
}

func NewBatchSpecCache(resolver SpecResolver) *BatchSpecCache {
	return &BatchSpecCache{
		resolver: resolver,
		specs:    make(map[string]specs.TransformSpec),
	}
}

func (c *BatchSpecCache) Resolve(ctx context.Context, metricGroup string) (specs.TransformSpec, error) {
	c.mu.RLock()
	spec, ok := c.specs[metricGroup]
	c.mu.RUnlock()
	if ok {
		return spec, nil
	}

	spec, err := c.resolver.Resolve(ctx, metricGroup)
	if err != nil {
		return specs.TransformSpec{}, err
	}

	c.mu.Lock()
	c.specs[metricGroup] = spec
	c.mu.Unlock()
	return spec, nil
}

// InsertStep is the closed catalog of terminal pipeline steps.
type InsertStep int

const (
	InsertPrepareData InsertStep = iota + 1
	InsertData
	InsertDataPreHourly
)

var insertStepNames = map[InsertStep]string{
	InsertPrepareData:   "prepare_data",
	InsertData:          "insert_data",
	InsertDataPreHourly: "insert_data_pre_hourly",
}

func (s InsertStep) String() string {
	if name, ok := insertStepNames[s]; ok {
		return name
	}
	return "unknown"
}

func ParseInsertStep(name string) (InsertStep, error) {
	for step, stepName := range insertStepNames {
		if stepName == name {
			return step, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownInsert, "%q", name)
}

// Usage components of an aggregation pipeline.
const (
	usageComponentFetchQuantity = "fetch_quantity"
	usageComponentCalculateRate = "calculate_rate"
)

// PipelineBuilder turns metric groups into validated pipelines.
type PipelineBuilder struct {
	resolver  SpecResolver
	publisher *MetricPublisher
	logger    *zap.Logger
}

func NewPipelineBuilder(resolver SpecResolver, publisher *MetricPublisher, logger *zap.Logger) *PipelineBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineBuilder{
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
	}
}

// Build resolves the spec of metricGroup and validates every operation it
// names. No record is touched until every name has resolved.
func (b *PipelineBuilder) Build(ctx context.Context, metricGroup string) (*Pipeline, error) {
	spec, err := b.resolver.Resolve(ctx, metricGroup)
	if err != nil {
		return nil, errors.Wrapf(err, "metric group %s", metricGroup)
	}

	pipeline, err := newPipeline(spec, b.publisher)
	if err != nil {
		return nil, errors.Wrapf(err, "metric group %s", metricGroup)
	}

	b.logger.Debug("built pipeline",
		zap.String("metric_group", metricGroup),
		zap.String("usage_fetch_operation", pipeline.usageOp.String()),
		zap.Int("setters", len(pipeline.setters.steps)),
	)
	return pipeline, nil
}

// Pipeline is the validated form of one transform spec.
type Pipeline struct {
	metricGroup   string
	metricID      string
	groupBy       []string
	dimensionList []string
	usageOp       UsageFetchOperation
	setters       SetterChain
	publish       bool
	preHourly     bool
	publisher     *MetricPublisher
}

func newPipeline(spec specs.TransformSpec, publisher *MetricPublisher) (*Pipeline, error) {
	params := spec.AggregationParams

	var usageOp UsageFetchOperation
	var err error
	switch params.Pipeline.Usage {
	case usageComponentFetchQuantity, "":
		usageOp, err = ParseUsageFetchOperation(params.UsageFetchOperation)
		if err != nil {
			return nil, err
		}
	case usageComponentCalculateRate:
		usageOp = UsageRate
	default:
		return nil, errors.Wrapf(ErrUnknownOperation, "usage component %q", params.Pipeline.Usage)
	}

	setters, err := NewSetterChain(spec)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		metricGroup:   spec.MetricGroup,
		metricID:      spec.MetricID,
		groupBy:       params.AggregationGroupByList,
		dimensionList: params.DimensionList,
		usageOp:       usageOp,
		setters:       setters,
		publisher:     publisher,
	}
	for i, name := range params.Pipeline.Insert {
		step, err := ParseInsertStep(name)
		if err != nil {
			return nil, errors.Wrapf(err, "insert[%d]", i)
		}
		switch step {
		case InsertData:
			p.publish = true
		case InsertDataPreHourly:
			p.preHourly = true
		}
	}
	if !p.publish && !p.preHourly {
		return nil, errors.Wrap(ErrInvalidSpec, "insert names neither insert_data nor insert_data_pre_hourly")
	}
	return p, nil
}

func (p *Pipeline) MetricGroup() string {
	return p.metricGroup
}

// Aggregate groups records, fetches usage per group and runs the setters.
// Empty groups produce nothing.
func (p *Pipeline) Aggregate(records []RawUsageRecord) ([]InstanceUsage, error) {
	groups := GroupRecords(records, p.groupBy, p.metricID)

	usages := make([]InstanceUsage, 0, len(groups))
	for _, group := range groups {
		usage, err := FetchUsage(group.Records, p.usageOp)
		if errors.Is(err, ErrEmptyGroup) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "group %v", group.Key)
		}
		usages = append(usages, usage)
	}
	return p.setters.Apply(usages), nil
}

// StagedMetric is a usage waiting to be published.
type StagedMetric struct {
	MetricGroup   string
	Usage         InstanceUsage
	DimensionList []string
}

// Staged is the buffered output of one batch. Nothing in it is visible
// downstream until the processor flushes it.
type Staged struct {
	Metrics   []StagedMetric
	PreHourly []specs.InstanceUsageSpec
}

func (s *Staged) Append(other Staged) {
	s.Metrics = append(s.Metrics, other.Metrics...)
	s.PreHourly = append(s.PreHourly, other.PreHourly...)
}

// Insert stages usages according to the spec's insert steps.
func (p *Pipeline) Insert(usages []InstanceUsage) Staged {
	var staged Staged
	for _, usage := range usages {
		if p.publish {
			staged.Metrics = append(staged.Metrics, StagedMetric{
				MetricGroup:   p.metricGroup,
				Usage:         usage,
				DimensionList: p.dimensionList,
			})
		}
		if p.preHourly {
			staged.PreHourly = append(staged.PreHourly, p.publisher.PreHourlyRecord(usage, p.metricID))
		}
	}
	return staged
}
