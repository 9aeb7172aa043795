package benchmarks

import (
	"encoding/json"
	"testing"

	"github.com/chrisconley/metricagg/specs"
)

func realisticOutputMetric() specs.OutputMetricSpec {
	return specs.OutputMetricSpec{
		Metric: specs.MetricBodySpec{
			Name: "mem.total_mb_agg",
			Dimensions: map[string]string{
				"aggregation_period": "hourly",
				"host":               "mini-mon",
				"project_id":         "all",
			},
			Timestamp: 1456858016000,
			Value:     15360,
			ValueMeta: specs.ValueMetaSpec{
				RecordCount:          4,
				FirstRecordTimestamp: "2016-01-20 16:40:00",
				LastRecordTimestamp:  "2016-01-20 16:40:46",
			},
		},
		Meta:         specs.MetricMetaSpec{TenantID: "8eadcf71fc5441d8956cb9cbb691704e", Region: "useast"},
		CreationTime: 1456858016,
	}
}

// Benchmark OutputMetricSpec construction
func BenchmarkOutputMetric_Realistic_Memory(b *testing.B) {
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = realisticOutputMetric()
	}
}

// Benchmark JSON serialization of the published wire format
func BenchmarkOutputMetric_Realistic_JSONMarshal(b *testing.B) {
	metric := realisticOutputMetric()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := json.Marshal(metric)
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark JSON deserialization of an inbound envelope
func BenchmarkInboundMetric_Realistic_JSONUnmarshal(b *testing.B) {
	jsonData := []byte(`{
		"metric": {"name": "mem.total_mb",
		           "dimensions": {"hostname": "mini-mon", "service": "monitoring"},
		           "timestamp": 1453308000000,
		           "value": 4096.0},
		"meta": {"tenantId": "8eadcf71fc5441d8956cb9cbb691704e", "region": "useast"},
		"creation_time": 1453308006
	}`)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		var envelope specs.InboundMetricSpec
		err := json.Unmarshal(jsonData, &envelope)
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Measure actual JSON wire size
func BenchmarkOutputMetric_JSONSize(b *testing.B) {
	wide := realisticOutputMetric()
	wide.Metric.Dimensions = map[string]string{
		"aggregation_period": "hourly",
		"host":               "compute-0042.dc1.example.net",
		"project_id":         "9a4f2c1e7b3d4e5f8a9b0c1d2e3f4a5b",
		"resource_uuid":      "550e8400-e29b-41d4-a716-446655440000",
		"zone":               "nova",
		"geolocation":        "NA",
	}

	scenarios := []struct {
		name   string
		metric specs.OutputMetricSpec
	}{
		{name: "Minimal", metric: specs.OutputMetricSpec{}},
		{name: "Realistic", metric: realisticOutputMetric()},
		{name: "WideDimensions", metric: wide},
	}

	for _, scenario := range scenarios {
		b.Run(scenario.name, func(b *testing.B) {
			jsonData, err := json.Marshal(scenario.metric)
			if err != nil {
				b.Fatal(err)
			}

			b.ReportMetric(float64(len(jsonData)), "bytes")
			b.Logf("%s JSON size: %d bytes", scenario.name, len(jsonData))
		})
	}
}
