package internal

import (
	"testing"
	"time"

	"github.com/chrisconley/metricagg/specs"
	"github.com/stretchr/testify/require"
)

// Test helpers

type rawRecordOption func(*specs.RawUsageRecordSpec)

func withQuantity(q float64) rawRecordOption {
	return func(s *specs.RawUsageRecordSpec) { s.Quantity = q }
}

func withEventTime(t time.Time) rawRecordOption {
	return func(s *specs.RawUsageRecordSpec) { s.EventTimestamp = t }
}

func withHost(host string) rawRecordOption {
	return func(s *specs.RawUsageRecordSpec) { s.Host = host }
}

func withProjectID(projectID string) rawRecordOption {
	return func(s *specs.RawUsageRecordSpec) { s.ProjectID = projectID }
}

func withMetricGroup(group string) rawRecordOption {
	return func(s *specs.RawUsageRecordSpec) { s.MetricGroup = group }
}

func withSequence(seq int64) rawRecordOption {
	return func(s *specs.RawUsageRecordSpec) { s.Sequence = seq }
}

// newTestRawRecordSpec builds a mini-mon mem_total_all record.
// Quantity defaults to 1, time to 2016-01-20 16:40:00 UTC.
func newTestRawRecordSpec(opts ...rawRecordOption) specs.RawUsageRecordSpec {
	spec := specs.RawUsageRecordSpec{
		TenantID:       "tenant-a",
		Host:           "mini-mon",
		ProjectID:      "project-a",
		ServiceID:      "host_metrics",
		Quantity:       1,
		EventTimestamp: at(0),
		MetricGroup:    "mem_total_all",
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

func newTestRawRecord(t *testing.T, opts ...rawRecordOption) RawUsageRecord {
	t.Helper()
	record, err := NewRawUsageRecord(newTestRawRecordSpec(opts...))
	require.NoError(t, err)
	return record
}

// at returns 2016-01-20 16:40:00 UTC plus the given seconds.
func at(seconds int) time.Time {
	return time.Date(2016, 1, 20, 16, 40, seconds, 0, time.UTC)
}

// miniMonRecordSpecs are four mem.total_mb readings from one host, given out
// of time order and spread over two projects.
func miniMonRecordSpecs() []specs.RawUsageRecordSpec {
	return []specs.RawUsageRecordSpec{
		newTestRawRecordSpec(withQuantity(2048), withEventTime(at(15)), withSequence(0)),
		newTestRawRecordSpec(withQuantity(1024), withEventTime(at(46)), withSequence(1), withProjectID("project-b")),
		newTestRawRecordSpec(withQuantity(4096), withEventTime(at(0)), withSequence(2)),
		newTestRawRecordSpec(withQuantity(8192), withEventTime(at(30)), withSequence(3), withProjectID("project-b")),
	}
}

func miniMonRecords(t *testing.T) []RawUsageRecord {
	t.Helper()
	var records []RawUsageRecord
	for _, spec := range miniMonRecordSpecs() {
		record, err := NewRawUsageRecord(spec)
		require.NoError(t, err)
		records = append(records, record)
	}
	return records
}

type transformSpecOption func(*specs.TransformSpec)

func withUsageFetchOperation(op string) transformSpecOption {
	return func(s *specs.TransformSpec) { s.AggregationParams.UsageFetchOperation = op }
}

func withSetters(names ...string) transformSpecOption {
	return func(s *specs.TransformSpec) {
		s.AggregationParams.Pipeline.Setters = nil
		for _, name := range names {
			s.AggregationParams.Pipeline.Setters = append(s.AggregationParams.Pipeline.Setters, specs.SetterStepSpec{Operation: name})
		}
	}
}

func withInsert(names ...string) transformSpecOption {
	return func(s *specs.TransformSpec) { s.AggregationParams.Pipeline.Insert = names }
}

func withGroupBy(names ...string) transformSpecOption {
	return func(s *specs.TransformSpec) { s.AggregationParams.AggregationGroupByList = names }
}

func withDimensionList(names ...string) transformSpecOption {
	return func(s *specs.TransformSpec) { s.AggregationParams.DimensionList = names }
}

func withRollup(op string, groupBy ...string) transformSpecOption {
	return func(s *specs.TransformSpec) {
		s.AggregationParams.SetterRollupOperation = op
		s.AggregationParams.SetterRollupGroupByList = groupBy
	}
}

func withTransformMetricGroup(group string) transformSpecOption {
	return func(s *specs.TransformSpec) {
		s.MetricGroup = group
		s.MetricID = group
	}
}

// newTestTransformSpec returns the mem_total_all spec used by the sample
// pipeline, with usage_fetch_operation "sum".
func newTestTransformSpec(opts ...transformSpecOption) specs.TransformSpec {
	spec := specs.TransformSpec{
		MetricGroup: "mem_total_all",
		MetricID:    "mem_total_all",
		AggregationParams: specs.AggregationParamsSpec{
			Pipeline: specs.AggregationPipelineSpec{
				Source: "streaming",
				Usage:  "fetch_quantity",
				Setters: []specs.SetterStepSpec{
					{Operation: "rollup_quantity"},
					{Operation: "set_aggregated_metric_name"},
					{Operation: "set_aggregated_period"},
				},
				Insert: []string{"prepare_data", "insert_data"},
			},
			AggregatedMetricName:    "mem.total_mb_agg",
			AggregationPeriod:       "hourly",
			AggregationGroupByList:  []string{"host", "metric_id"},
			UsageFetchOperation:     "sum",
			SetterRollupGroupByList: []string{"host"},
			SetterRollupOperation:   "sum",
			DimensionList:           []string{"aggregation_period", "host", "project_id"},
		},
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// fixedClock returns a clock frozen at t.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
