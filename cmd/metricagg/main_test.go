package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/internal/conf"
	"github.com/chrisconley/metricagg/internal/infra/sinks"
	"github.com/chrisconley/metricagg/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const specDocument = `{
  "transform_specs": [{
    "metric_group": "mem_total_all",
    "metric_id": "mem_total_all",
    "aggregation_params_map": {
      "aggregation_pipeline": {"source": "streaming", "usage": "fetch_quantity",
                               "setters": ["rollup_quantity", "set_aggregated_metric_name", "set_aggregated_period"],
                               "insert": ["prepare_data", "insert_data"]},
      "aggregated_metric_name": "mem.total_mb_agg",
      "aggregation_period": "hourly",
      "aggregation_group_by_list": ["host", "metric_id"],
      "usage_fetch_operation": "sum",
      "setter_rollup_group_by_list": ["host"],
      "setter_rollup_operation": "sum",
      "dimension_list": ["aggregation_period", "host", "project_id"]}}],
  "pre_transform_specs": [{
    "event_type": "mem.total_mb",
    "metric_id_list": ["mem_total_all"],
    "required_raw_fields_list": ["creation_time"],
    "service_id": "host_metrics",
    "event_processing_params": {"set_default_zone_to": "1", "set_default_geolocation_to": "1", "set_default_region_to": "W"}}]
}`

const envelopes = `{"metric":{"name":"mem.total_mb","dimensions":{"hostname":"mini-mon"},"timestamp":1453308015000,"value":2048.0},"meta":{"tenantId":"admin"},"creation_time":1453308015}
{"metric":{"name":"mem.total_mb","dimensions":{"hostname":"mini-mon"},"timestamp":1453308046000,"value":1024.0},"meta":{"tenantId":"demo"},"creation_time":1453308046}

{"metric":{"name":"cpu.idle_perc","dimensions":{"hostname":"mini-mon"},"timestamp":1453308046000,"value":99.0},"meta":{"tenantId":"demo"},"creation_time":1453308046}
`

func replayConfig(t *testing.T) *conf.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "specs.json")
	require.NoError(t, os.WriteFile(path, []byte(specDocument), 0o644))

	return &conf.Config{
		Publish:    conf.PublishConfig{TenantID: "admin-tenant", Region: "useast"},
		Specs:      conf.SpecsConfig{Source: "file", Path: path},
		Processing: conf.ProcessingConfig{Workers: 2},
	}
}

func TestReplay(t *testing.T) {
	t.Run("prints the aggregated metrics as JSON lines", func(t *testing.T) {
		var out bytes.Buffer
		publishAt := time.Date(2016, 3, 1, 18, 46, 56, 0, time.UTC)

		err := replay(context.Background(), replayConfig(t), strings.NewReader(envelopes), &out, zap.NewNop(),
			internal.WithClock(func() time.Time { return publishAt }))

		require.NoError(t, err)
		scanner := bufio.NewScanner(&out)
		var metrics []specs.OutputMetricSpec
		for scanner.Scan() {
			var metric specs.OutputMetricSpec
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &metric))
			metrics = append(metrics, metric)
		}
		require.Len(t, metrics, 1)
		assert.Equal(t, "mem.total_mb_agg", metrics[0].Metric.Name)
		assert.Equal(t, 3072.0, metrics[0].Metric.Value)
		assert.Equal(t, 2.0, metrics[0].Metric.ValueMeta.RecordCount)
		assert.Equal(t, publishAt.UnixMilli(), metrics[0].Metric.Timestamp)
		assert.Equal(t, "admin-tenant", metrics[0].Meta.TenantID)
	})

	t.Run("with a malformed envelope returns error", func(t *testing.T) {
		err := replay(context.Background(), replayConfig(t), strings.NewReader("{not json\n"), &bytes.Buffer{}, zap.NewNop())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})
}

type scriptedSource struct {
	mu       sync.Mutex
	batches  []specs.BatchSpec
	rewinds  int
	consumed chan struct{}
}

func (s *scriptedSource) Next(ctx context.Context) (specs.BatchSpec, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()
	close(s.consumed)
	<-ctx.Done()
	return specs.BatchSpec{}, ctx.Err()
}

func (s *scriptedSource) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewinds++
}

func TestConsume(t *testing.T) {
	t.Run("processes batches and rewinds after a failure", func(t *testing.T) {
		ledger := internal.NewMemoryLedger()
		sink := internal.NewMemorySink()
		processor := internal.NewBatchProcessor(internal.NewStaticResolver(), internal.NewMetricPublisher(internal.PublisherConfig{}, sink),
			ledger, internal.WithRetryPolicy(internal.NoRetry()))
		offsets := []specs.OffsetRangeSpec{{Topic: "metrics", Partition: 0, FromOffset: 0, UntilOffset: 5}}
		source := &scriptedSource{
			batches: []specs.BatchSpec{
				{ID: "unknown-group", Records: []specs.RawUsageRecordSpec{{MetricGroup: "disk_total_all", EventTimestamp: time.Now()}}, Offsets: offsets},
				{ID: "empty", Offsets: offsets},
			},
			consumed: make(chan struct{}),
		}
		failurePause = time.Millisecond
		t.Cleanup(func() { failurePause = 5 * time.Second })
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		go func() {
			consume(ctx, source, processor, zap.NewNop())
			close(done)
		}()
		<-source.consumed
		cancel()
		<-done

		assert.Equal(t, 1, source.rewinds)
		r, ok, err := ledger.Committed(context.Background(), "metrics", 0)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(5), r.UntilOffset)
	})
}

func TestWithPassword(t *testing.T) {
	t.Run("adds a password to a dsn without one", func(t *testing.T) {
		assert.Equal(t, "postgres://app:s3cret@db:5432/metricagg", withPassword("postgres://app@db:5432/metricagg", "s3cret"))
	})

	t.Run("keeps an explicit password", func(t *testing.T) {
		assert.Equal(t, "postgres://app:old@db/metricagg", withPassword("postgres://app:old@db/metricagg", "new"))
	})
}

func TestBreakerConfig(t *testing.T) {
	t.Run("keeps the defaults for unset values", func(t *testing.T) {
		config := breakerConfig("metrics", conf.CircuitBreakerConfig{Enabled: true})

		assert.Equal(t, sinks.DefaultBreakerConfig("metrics"), config)
	})

	t.Run("overrides the configured values", func(t *testing.T) {
		config := breakerConfig("metrics", conf.CircuitBreakerConfig{MinRequests: 3, Timeout: time.Second, Threshold: 0.9})

		assert.Equal(t, "metrics", config.Name)
		assert.Equal(t, uint32(3), config.MinRequests)
		assert.Equal(t, time.Second, config.Timeout)
		assert.Equal(t, 0.9, config.FailureThreshold)
		assert.Equal(t, uint32(1), config.MaxRequests)
	})
}
