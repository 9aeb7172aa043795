package internal

import (
	"testing"

	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projectUsages(t *testing.T) []InstanceUsage {
	t.Helper()
	var usages []InstanceUsage
	for _, group := range GroupRecords(miniMonRecords(t), []string{"host", "project_id"}, "mem_total_all") {
		usage, err := FetchUsage(group.Records, UsageMax)
		require.NoError(t, err)
		usages = append(usages, usage)
	}
	require.Len(t, usages, 2)
	return usages
}

func TestNewSetterChain(t *testing.T) {
	t.Run("with an unknown setter returns a configuration error", func(t *testing.T) {
		_, err := NewSetterChain(newTestTransformSpec(withSetters("rollup_quantity", "set_colour")))

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownSetter))
		assert.True(t, IsConfigError(err))
		assert.Contains(t, err.Error(), "setter[1]")
	})

	t.Run("with an unknown rollup operation returns error", func(t *testing.T) {
		_, err := NewSetterChain(newTestTransformSpec(withRollup("median", "host")))

		assert.ErrorIs(t, err, ErrUnknownOperation)
	})

	t.Run("with a non-string operation param returns error", func(t *testing.T) {
		spec := newTestTransformSpec()
		spec.AggregationParams.Pipeline.Setters[0].Params = map[string]any{"operation": 3.0}

		_, err := NewSetterChain(spec)

		assert.ErrorIs(t, err, ErrInvalidSpec)
	})
}

func TestSetterChainApply(t *testing.T) {
	t.Run("rolls usages up to the rollup key", func(t *testing.T) {
		chain, err := NewSetterChain(newTestTransformSpec(withSetters("rollup_quantity")))
		require.NoError(t, err)

		result := chain.Apply(projectUsages(t))

		require.Len(t, result, 1)
		rolled := result[0]
		assert.Equal(t, 4096.0+8192.0, rolled.Quantity.Float64())
		assert.Equal(t, int64(4), rolled.RecordCount)
		assert.Equal(t, "2016-01-20 16:40:00", rolled.FirstRecordTimestamp())
		assert.Equal(t, "2016-01-20 16:40:46", rolled.LastRecordTimestamp())

		host, _ := rolled.Lookup(FieldHost)
		project, _ := rolled.Lookup(FieldProjectID)
		tenant, _ := rolled.Lookup(FieldTenantID)
		assert.Equal(t, "mini-mon", host)
		assert.Equal(t, RolledUp, project)
		assert.Equal(t, RolledUp, tenant)
	})

	t.Run("uses the configured rollup operation", func(t *testing.T) {
		for op, want := range map[string]float64{"sum": 12288, "max": 8192, "min": 4096, "avg": 6144} {
			chain, err := NewSetterChain(newTestTransformSpec(withSetters("rollup_quantity"), withRollup(op, "host")))
			require.NoError(t, err)

			result := chain.Apply(projectUsages(t))

			require.Len(t, result, 1, op)
			assert.Equal(t, want, result[0].Quantity.Float64(), op)
		}
	})

	t.Run("rolls up decimal quantities exactly", func(t *testing.T) {
		var usages []InstanceUsage
		for i, q := range []float64{0.1, 0.2} {
			usage, err := FetchUsage([]RawUsageRecord{newTestRawRecord(t, withQuantity(q), withSequence(int64(i)))}, UsageSum)
			require.NoError(t, err)
			usages = append(usages, usage)
		}
		chain, err := NewSetterChain(newTestTransformSpec(withSetters("rollup_quantity"), withRollup("sum", "host")))
		require.NoError(t, err)

		result := chain.Apply(usages)

		require.Len(t, result, 1)
		assert.Equal(t, 0.3, result[0].Quantity.Float64())
	})

	t.Run("lets step params override the rollup key and operation", func(t *testing.T) {
		spec := newTestTransformSpec()
		spec.AggregationParams.Pipeline.Setters = []specs.SetterStepSpec{{
			Operation: "rollup_quantity",
			Params:    map[string]any{"group_by_list": []any{"project_id"}, "operation": "min"},
		}}
		chain, err := NewSetterChain(spec)
		require.NoError(t, err)

		result := chain.Apply(projectUsages(t))

		require.Len(t, result, 2)
		host, _ := result[0].Lookup(FieldHost)
		project, _ := result[0].Lookup(FieldProjectID)
		assert.Equal(t, RolledUp, host)
		assert.Equal(t, "project-a", project)
	})

	t.Run("stamps the aggregated metric name and period", func(t *testing.T) {
		chain, err := NewSetterChain(newTestTransformSpec(withSetters("set_aggregated_metric_name", "set_aggregated_period")))
		require.NoError(t, err)

		result := chain.Apply(projectUsages(t))

		require.Len(t, result, 2)
		for _, u := range result {
			assert.Equal(t, "mem.total_mb_agg", u.AggregatedMetricName)
			assert.Equal(t, "hourly", u.AggregationPeriod)
		}
	})

	t.Run("applies steps in order", func(t *testing.T) {
		nameFirst, err := NewSetterChain(newTestTransformSpec(withSetters("set_aggregated_metric_name", "rollup_quantity")))
		require.NoError(t, err)
		rollupOnly, err := NewSetterChain(newTestTransformSpec(withSetters("rollup_quantity")))
		require.NoError(t, err)

		named := nameFirst.Apply(projectUsages(t))
		unnamed := rollupOnly.Apply(projectUsages(t))

		assert.Equal(t, "mem.total_mb_agg", named[0].AggregatedMetricName)
		assert.Empty(t, unnamed[0].AggregatedMetricName)
	})

	t.Run("leaves the input usages untouched", func(t *testing.T) {
		usages := projectUsages(t)
		chain, err := NewSetterChain(newTestTransformSpec())
		require.NoError(t, err)

		chain.Apply(usages)

		project, _ := usages[0].Lookup(FieldProjectID)
		assert.Equal(t, "project-a", project)
		assert.Empty(t, usages[0].AggregatedMetricName)
	})
}
