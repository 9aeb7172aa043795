package internal

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chrisconley/metricagg/specs"
)

// DefaultRegion is stamped on every metric unless configured otherwise.
const DefaultRegion = "useast"

// PublisherConfig is the deployment identity carried in metric meta. Every
// metric of a deployment shares it; it is not derived from the records.
type PublisherConfig struct {
	TenantID string
	Region   string
}

// Sink delivers output metrics downstream. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, metric specs.OutputMetricSpec) error
}

// PreHourlySink persists deferred instance usage records for a later
// re-aggregation pass.
type PreHourlySink interface {
	Store(ctx context.Context, records []specs.InstanceUsageSpec) error
}

// MetricPublisher is the insert step: it turns finalized instance usage into
// wire metrics.
type MetricPublisher struct {
	config PublisherConfig
	sink   Sink
	now    func() time.Time
}

type PublisherOption func(*MetricPublisher)

// WithClock replaces time.Now for metric timestamps.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *MetricPublisher) {
		p.now = now
	}
}

func NewMetricPublisher(config PublisherConfig, sink Sink, opts ...PublisherOption) *MetricPublisher {
	if config.Region == "" {
		config.Region = DefaultRegion
	}
	p := &MetricPublisher{
		config: config,
		sink:   sink,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MetricPublisher) Config() PublisherConfig {
	return p.config
}

// PrepareMetric builds the wire metric for usage. Every name in dimensionList
// becomes a dimension; unknown values are NotAvailable. timestamp and
// creation_time come from the clock at call time.
func (p *MetricPublisher) PrepareMetric(usage InstanceUsage, dimensionList []string) specs.OutputMetricSpec {
	dimensions := make(map[string]string, len(dimensionList))
	for _, name := range dimensionList {
		dimensions[name] = usage.lookupOrNA(name)
	}

	now := p.now()
	return specs.OutputMetricSpec{
		Metric: specs.MetricBodySpec{
			Name:       usage.lookupOrNA(FieldAggregatedMetricName),
			Dimensions: dimensions,
			Timestamp:  now.UnixMilli(),
			Value:      usage.Quantity.Float64(),
			ValueMeta: specs.ValueMetaSpec{
				RecordCount:          float64(usage.RecordCount),
				FirstRecordTimestamp: usage.lookupOrNA(FieldFirstRecordTimestamp),
				LastRecordTimestamp:  usage.lookupOrNA(FieldLastRecordTimestamp),
			},
		},
		Meta: specs.MetricMetaSpec{
			TenantID: p.config.TenantID,
			Region:   p.config.Region,
		},
		CreationTime: now.Unix(),
	}
}

// Publish prepares the metric and sends it. Sink failures are transport
// errors.
func (p *MetricPublisher) Publish(ctx context.Context, usage InstanceUsage, dimensionList []string) (specs.OutputMetricSpec, error) {
	metric := p.PrepareMetric(usage, dimensionList)
	if err := p.sink.Send(ctx, metric); err != nil {
		return specs.OutputMetricSpec{}, MarkTransport(err, "send %s", metric.Metric.Name)
	}
	return metric, nil
}

// PreHourlyRecord renders usage as a deferred record tagged with metricID.
// It is never sent to the metric sink.
func (p *MetricPublisher) PreHourlyRecord(usage InstanceUsage, metricID string) specs.InstanceUsageSpec {
	tagged := usage.clone()
	if tagged.ProcessingMeta == nil {
		tagged.ProcessingMeta = make(map[string]string, 1)
	}
	tagged.ProcessingMeta[FieldMetricID] = metricID
	return tagged.ToSpec()
}

// PreHourlyKey identifies a deferred record across retries of its batch. It
// covers the metric id, every dimension field and the aggregated window.
// Stores key on it so that storing the same batch twice keeps one record.
func PreHourlyKey(record specs.InstanceUsageSpec) string {
	return strings.Join([]string{
		record.ProcessingMeta[FieldMetricID],
		record.TenantID,
		record.UserID,
		record.ResourceUUID,
		record.Geolocation,
		record.Region,
		record.Zone,
		record.Host,
		record.ProjectID,
		record.ServiceGroup,
		record.ServiceID,
		record.AggregationPeriod,
		strconv.FormatFloat(record.FirstRecordTimestampUnix, 'f', -1, 64),
		strconv.FormatFloat(record.LastRecordTimestampUnix, 'f', -1, 64),
	}, "|")
}

// MemorySink records sent metrics.
type MemorySink struct {
	mu      sync.Mutex
	metrics []specs.OutputMetricSpec
	err     error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Send(_ context.Context, metric specs.OutputMetricSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.metrics = append(s.metrics, metric)
	return nil
}

// FailWith makes every following Send return err. Nil restores delivery.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemorySink) Metrics() []specs.OutputMetricSpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]specs.OutputMetricSpec, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// MemoryPreHourlySink records stored pre-hourly records.
type MemoryPreHourlySink struct {
	mu      sync.Mutex
	records []specs.InstanceUsageSpec
	err     error
}

func NewMemoryPreHourlySink() *MemoryPreHourlySink {
	return &MemoryPreHourlySink{}
}

func (s *MemoryPreHourlySink) Store(_ context.Context, records []specs.InstanceUsageSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *MemoryPreHourlySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryPreHourlySink) Records() []specs.InstanceUsageSpec {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]specs.InstanceUsageSpec, len(s.records))
	copy(out, s.records)
	return out
}
