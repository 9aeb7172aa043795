package internal

import (
	"context"
	"testing"
	"time"

	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	inner SpecResolver
	calls map[string]int
}

func (r *countingResolver) Resolve(ctx context.Context, metricGroup string) (specs.TransformSpec, error) {
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[metricGroup]++
	return r.inner.Resolve(ctx, metricGroup)
}

func newTestBuilder(transformSpecs ...specs.TransformSpec) *PipelineBuilder {
	publisher := NewMetricPublisher(PublisherConfig{TenantID: "t"}, NewMemorySink())
	return NewPipelineBuilder(NewStaticResolver(transformSpecs...), publisher, nil)
}

func TestBatchSpecCache(t *testing.T) {
	t.Run("resolves each metric group once", func(t *testing.T) {
		resolver := &countingResolver{inner: NewStaticResolver(newTestTransformSpec())}
		cache := NewBatchSpecCache(resolver)

		for i := 0; i < 3; i++ {
			spec, err := cache.Resolve(context.Background(), "mem_total_all")
			require.NoError(t, err)
			assert.Equal(t, "mem_total_all", spec.MetricID)
		}

		assert.Equal(t, 1, resolver.calls["mem_total_all"])
	})

	t.Run("does not cache misses", func(t *testing.T) {
		resolver := &countingResolver{inner: NewStaticResolver()}
		cache := NewBatchSpecCache(resolver)

		_, err := cache.Resolve(context.Background(), "cpu")
		require.ErrorIs(t, err, ErrSpecNotFound)
		_, err = cache.Resolve(context.Background(), "cpu")
		require.ErrorIs(t, err, ErrSpecNotFound)

		assert.Equal(t, 2, resolver.calls["cpu"])
	})
}

func TestPipelineBuilderBuild(t *testing.T) {
	t.Run("builds a pipeline for a valid spec", func(t *testing.T) {
		pipeline, err := newTestBuilder(newTestTransformSpec()).Build(context.Background(), "mem_total_all")

		require.NoError(t, err)
		assert.Equal(t, "mem_total_all", pipeline.MetricGroup())
	})

	cases := []struct {
		name string
		spec specs.TransformSpec
		want error
	}{
		{"unknown usage operation", newTestTransformSpec(withUsageFetchOperation("median")), ErrUnknownOperation},
		{"unknown setter", newTestTransformSpec(withSetters("set_colour")), ErrUnknownSetter},
		{"unknown insert step", newTestTransformSpec(withInsert("insert_everywhere")), ErrUnknownInsert},
		{"no terminal insert step", newTestTransformSpec(withInsert("prepare_data")), ErrInvalidSpec},
		{"unknown usage component", func() specs.TransformSpec {
			s := newTestTransformSpec()
			s.AggregationParams.Pipeline.Usage = "fetch_quantity_util"
			return s
		}(), ErrUnknownOperation},
	}
	for _, tc := range cases {
		t.Run("with "+tc.name+" returns a configuration error", func(t *testing.T) {
			_, err := newTestBuilder(tc.spec).Build(context.Background(), "mem_total_all")

			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want))
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), "metric group mem_total_all")
		})
	}

	t.Run("with an unknown metric group returns ErrSpecNotFound", func(t *testing.T) {
		_, err := newTestBuilder().Build(context.Background(), "cpu_util")

		assert.ErrorIs(t, err, ErrSpecNotFound)
	})

	t.Run("calculate_rate forces the rate operation", func(t *testing.T) {
		spec := newTestTransformSpec(withUsageFetchOperation("anything"))
		spec.AggregationParams.Pipeline.Usage = "calculate_rate"

		pipeline, err := newTestBuilder(spec).Build(context.Background(), "mem_total_all")

		require.NoError(t, err)
		usages, err := pipeline.Aggregate(miniMonRecords(t))
		require.NoError(t, err)
		require.Len(t, usages, 1)
		assert.Equal(t, 7168.0, usages[0].Quantity.Float64())
	})
}

func TestPipeline(t *testing.T) {
	t.Run("aggregates, rolls up and stages one metric per group", func(t *testing.T) {
		pipeline, err := newTestBuilder(newTestTransformSpec(withUsageFetchOperation("avg"))).Build(context.Background(), "mem_total_all")
		require.NoError(t, err)

		usages, err := pipeline.Aggregate(miniMonRecords(t))
		require.NoError(t, err)
		staged := pipeline.Insert(usages)

		require.Len(t, staged.Metrics, 1)
		assert.Empty(t, staged.PreHourly)
		assert.Equal(t, 3840.0, staged.Metrics[0].Usage.Quantity.Float64())
		assert.Equal(t, "mem_total_all", staged.Metrics[0].MetricGroup)
		assert.Equal(t, []string{"aggregation_period", "host", "project_id"}, staged.Metrics[0].DimensionList)
	})

	t.Run("produces one usage per group-by key", func(t *testing.T) {
		spec := newTestTransformSpec(withGroupBy("host", "project_id"), withSetters("set_aggregated_metric_name"))
		pipeline, err := newTestBuilder(spec).Build(context.Background(), "mem_total_all")
		require.NoError(t, err)

		usages, err := pipeline.Aggregate(miniMonRecords(t))

		require.NoError(t, err)
		require.Len(t, usages, 2)
		assert.Equal(t, 6144.0, usages[0].Quantity.Float64())
		assert.Equal(t, 9216.0, usages[1].Quantity.Float64())
	})

	t.Run("produces nothing for no records", func(t *testing.T) {
		pipeline, err := newTestBuilder(newTestTransformSpec()).Build(context.Background(), "mem_total_all")
		require.NoError(t, err)

		usages, err := pipeline.Aggregate(nil)

		require.NoError(t, err)
		assert.Empty(t, usages)
		assert.Empty(t, pipeline.Insert(usages).Metrics)
	})

	t.Run("stages deferred records for insert_data_pre_hourly", func(t *testing.T) {
		spec := newTestTransformSpec(withInsert("prepare_data", "insert_data_pre_hourly"))
		pipeline, err := newTestBuilder(spec).Build(context.Background(), "mem_total_all")
		require.NoError(t, err)

		usages, err := pipeline.Aggregate(miniMonRecords(t))
		require.NoError(t, err)
		staged := pipeline.Insert(usages)

		assert.Empty(t, staged.Metrics)
		require.Len(t, staged.PreHourly, 1)
		assert.Equal(t, "mem_total_all", staged.PreHourly[0].ProcessingMeta["metric_id"])
		assert.Equal(t, 15360.0, staged.PreHourly[0].Quantity)
	})
}

func TestAggregate(t *testing.T) {
	t.Run("returns the metrics a spec produces for the records", func(t *testing.T) {
		metrics, err := Aggregate(miniMonRecordSpecs(), newTestTransformSpec(withUsageFetchOperation("max")), specs.MetricMetaSpec{TenantID: "t"})

		require.NoError(t, err)
		require.Len(t, metrics, 1)
		assert.Equal(t, 8192.0, metrics[0].Metric.Value)
		assert.Equal(t, "useast", metrics[0].Meta.Region)
	})

	t.Run("with an invalid record returns error", func(t *testing.T) {
		records := miniMonRecordSpecs()
		records[1].EventTimestamp = time.Time{}

		_, err := Aggregate(records, newTestTransformSpec(), specs.MetricMetaSpec{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid record at index 1")
		assert.Contains(t, err.Error(), "event timestamp is required")
	})
}
