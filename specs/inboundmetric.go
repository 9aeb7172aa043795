package specs

// InboundMetricSpec is the envelope read from the raw metrics topic.
//
// It has the same shape as the envelope the publisher writes (see
// OutputMetricSpec) but the inner metric carries an unconstrained value_meta and
// dimensions map. Example:
//
//	{"metric":{"name":"mem.total_mb",
//	           "dimensions":{"hostname":"mini-mon","service":"monitoring"},
//	           "timestamp":1453308000000,
//	           "value":4096.0},
//	 "meta":{"tenantId":"8eadcf71fc5441d8956cb9cbb691704e","region":"useast"},
//	 "creation_time":1453308006}
type InboundMetricSpec struct {
	Metric       InboundMetricBodySpec `json:"metric"`
	Meta         map[string]string     `json:"meta,omitempty"`
	CreationTime int64                 `json:"creation_time,omitempty"`
}

// InboundMetricBodySpec is the "metric" part of an inbound envelope.
type InboundMetricBodySpec struct {
	// Event type. Selects the pre-transform spec that applies to this metric.
	Name string `json:"name"`

	// Free-form dimensions as reported by the agent.
	Dimensions map[string]string `json:"dimensions,omitempty"`

	// Event time in epoch milliseconds.
	Timestamp float64 `json:"timestamp"`

	Value     float64           `json:"value"`
	ValueMeta map[string]string `json:"value_meta,omitempty"`
}
