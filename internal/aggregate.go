package internal

import (
	"context"
	"fmt"

	"github.com/chrisconley/metricagg/specs"
)

// Aggregate implements specs.Aggregate.
// Runs one transform spec over records and returns the metrics it would
// publish, without sending them anywhere.
func Aggregate(recordSpecs []specs.RawUsageRecordSpec, spec specs.TransformSpec, meta specs.MetricMetaSpec) ([]specs.OutputMetricSpec, error) {
	records := make([]RawUsageRecord, 0, len(recordSpecs))
	for i, recordSpec := range recordSpecs {
		if recordSpec.MetricGroup == "" {
			recordSpec.MetricGroup = spec.MetricGroup
		}
		record, err := NewRawUsageRecord(recordSpec)
		if err != nil {
			return nil, fmt.Errorf("invalid record at index %d: %w", i, err)
		}
		records = append(records, record)
	}

	sink := NewMemorySink()
	publisher := NewMetricPublisher(PublisherConfig{TenantID: meta.TenantID, Region: meta.Region}, sink)

	pipeline, err := NewPipelineBuilder(NewStaticResolver(spec), publisher, nil).Build(context.Background(), spec.MetricGroup)
	if err != nil {
		return nil, err
	}

	usages, err := pipeline.Aggregate(records)
	if err != nil {
		return nil, err
	}

	metrics := make([]specs.OutputMetricSpec, 0, len(usages))
	for _, usage := range usages {
		metrics = append(metrics, publisher.PrepareMetric(usage, spec.AggregationParams.DimensionList))
	}
	return metrics, nil
}
