package specs

// InstanceUsageSpec is the persisted form of an aggregated instance usage record.
//
// The pre-hourly insert step emits these instead of output metrics: the record
// is stored for a later re-aggregation pass (typically an hourly rollup over
// several minute-level batches) and is never sent to the metric bus. The JSON
// keys match the records written by earlier deployments so stored data can be
// replayed.
type InstanceUsageSpec struct {
	TenantID     string `json:"tenant_id"`
	UserID       string `json:"user_id"`
	ResourceUUID string `json:"resource_uuid"`
	Geolocation  string `json:"geolocation"`
	Region       string `json:"region"`
	Zone         string `json:"zone"`
	Host         string `json:"host"`
	ProjectID    string `json:"project_id"`
	ServiceGroup string `json:"service_group"`
	ServiceID    string `json:"service_id"`

	AggregatedMetricName string  `json:"aggregated_metric_name"`
	Quantity             float64 `json:"quantity"`

	// Provenance of the aggregated window, string and unix-seconds forms.
	FirstRecordTimestamp     string  `json:"firstrecord_timestamp"`
	LastRecordTimestamp      string  `json:"lastrecord_timestamp"`
	FirstRecordTimestampUnix float64 `json:"firstrecord_timestamp_unix"`
	LastRecordTimestampUnix  float64 `json:"lastrecord_timestamp_unix"`
	RecordCount              float64 `json:"record_count"`

	// Calendar position of the first record: "2016-01-20", "16", "40".
	UsageDate   string `json:"usage_date"`
	UsageHour   string `json:"usage_hour"`
	UsageMinute string `json:"usage_minute"`

	AggregationPeriod string `json:"aggregation_period"`

	// Set by the pre-hourly path. Holds "metric_id", the transform spec the
	// record was produced by, so the re-aggregation pass can find its spec.
	ProcessingMeta map[string]string `json:"processing_meta,omitempty"`
}
