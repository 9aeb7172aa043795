package specs

// OutputMetricSpec is the wire metric written to the downstream metric bus.
//
// Field names and nesting are fixed by the metric store that consumes them:
//
//	{"metric":{"name":"mem.total_mb_agg",
//	           "dimensions":{"aggregation_period":"hourly","host":"mini-mon","project_id":"all"},
//	           "timestamp":1456858016000,
//	           "value":15360.0,
//	           "value_meta":{"record_count":4.0,
//	                         "firstrecord_timestamp":"2016-01-20 16:40:00",
//	                         "lastrecord_timestamp":"2016-01-20 16:40:46"}},
//	 "meta":{"tenantId":"8eadcf71fc5441d8956cb9cbb691704e","region":"useast"},
//	 "creation_time":1456858034}
//
// An output metric is constructed fresh for every publish and never mutated
// afterwards.
type OutputMetricSpec struct {
	Metric       MetricBodySpec `json:"metric"`
	Meta         MetricMetaSpec `json:"meta"`
	CreationTime int64          `json:"creation_time"`
}

// MetricBodySpec is the "metric" part of an output metric.
type MetricBodySpec struct {
	// Aggregated metric name from the transform spec.
	Name string `json:"name"`

	// One entry per key of the transform spec's dimension_list. Keys the source
	// record does not carry are present with the "NA" sentinel.
	Dimensions map[string]string `json:"dimensions"`

	// Publish time in epoch milliseconds, not aggregation time.
	Timestamp int64 `json:"timestamp"`

	// Aggregated quantity.
	Value float64 `json:"value"`

	ValueMeta ValueMetaSpec `json:"value_meta"`
}

// ValueMetaSpec carries the provenance of an aggregated value.
type ValueMetaSpec struct {
	// Number of raw records folded into the value. Serialized as a float to
	// match the metric store's value_meta schema.
	RecordCount float64 `json:"record_count"`

	// Event timestamps of the oldest and newest records in the window, formatted
	// as "2006-01-02 15:04:05" UTC.
	FirstRecordTimestamp string `json:"firstrecord_timestamp"`
	LastRecordTimestamp  string `json:"lastrecord_timestamp"`
}

// MetricMetaSpec identifies the tenant and region a metric is stored under.
type MetricMetaSpec struct {
	TenantID string `json:"tenantId"`
	Region   string `json:"region"`
}
