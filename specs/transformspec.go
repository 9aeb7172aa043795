package specs

import (
	"encoding/json"
	"fmt"
)

// TransformSpec is the per metric group aggregation specification.
//
// Transform specs are data, not code: the pipeline builder reads the operation
// names below and wires the matching catalog entries together. Adding a new
// derived metric means adding a document, never a code change.
type TransformSpec struct {
	// Metric group this spec aggregates. Raw records are routed here by their
	// MetricGroup field.
	MetricGroup string `json:"metric_group"`

	// Identifier of the spec itself. Recorded as processing_meta.metric_id on
	// pre-hourly records and usable as a group-by key.
	MetricID string `json:"metric_id"`

	AggregationParams AggregationParamsSpec `json:"aggregation_params_map"`
}

// AggregationParamsSpec holds the pipeline description and its parameters.
type AggregationParamsSpec struct {
	Pipeline AggregationPipelineSpec `json:"aggregation_pipeline"`

	// Name given to the derived metric, e.g. "mem.total_mb_agg".
	AggregatedMetricName string `json:"aggregated_metric_name"`

	// Period label stamped on the aggregate, e.g. "hourly" or "minutely".
	AggregationPeriod string `json:"aggregation_period"`

	// Raw record fields defining an aggregation group. "metric_id" refers to
	// the spec's MetricID and is constant within one spec.
	AggregationGroupByList []string `json:"aggregation_group_by_list"`

	// Usage-fetch operation applied to each group:
	//   - "latest": value of the newest record
	//   - "oldest": value of the oldest record
	//   - "min", "max": extreme value in the group
	//   - "sum": total of all values
	//   - "avg": sum divided by record count
	//   - "rate": max value minus min value
	UsageFetchOperation string `json:"usage_fetch_operation"`

	// Coarser grouping used by the rollup_quantity setter and the operation it
	// combines quantities with ("sum", "max", "min", "avg").
	SetterRollupGroupByList []string `json:"setter_rollup_group_by_list,omitempty"`
	SetterRollupOperation   string   `json:"setter_rollup_operation,omitempty"`

	// Record fields that become output metric dimensions, in order.
	DimensionList []string `json:"dimension_list"`
}

// AggregationPipelineSpec names the components chained for a metric group.
type AggregationPipelineSpec struct {
	// Informational. "streaming" for the online pipeline.
	Source string `json:"source,omitempty"`

	// Usage component. Only "fetch_quantity" exists today.
	Usage string `json:"usage"`

	// Setters applied in order after the usage component.
	Setters []SetterStepSpec `json:"setters"`

	// Insert steps, e.g. ["prepare_data", "insert_data"] for immediate publish
	// or ["prepare_data", "insert_data_pre_hourly"] for deferred records.
	Insert []string `json:"insert"`
}

// SetterStepSpec is one step of the setter pipeline.
//
// In documents a step is either a bare operation name or an object:
//
//	"setters": ["set_aggregated_metric_name",
//	            {"operation": "rollup_quantity", "params": {"operation": "max"}}]
type SetterStepSpec struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// UnmarshalJSON accepts both the bare-name and the object form.
func (s *SetterStepSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = SetterStepSpec{Operation: name}
		return nil
	}

	type step SetterStepSpec
	var obj step
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("setter step must be a name or an object: %w", err)
	}
	*s = SetterStepSpec(obj)
	return nil
}

// PreTransformSpec describes how inbound metrics of one event type become raw
// usage records.
type PreTransformSpec struct {
	// Inbound metric name this spec applies to, e.g. "mem.total_mb".
	EventType string `json:"event_type"`

	// Transform spec metric groups that receive a copy of each matching event.
	MetricIDList []string `json:"metric_id_list"`

	// Envelope fields that must be present or the event is dropped. Known
	// names: "creation_time", "value", "timestamp", "name", and any dimension
	// key prefixed with "dimensions.".
	RequiredRawFieldsList []string `json:"required_raw_fields_list,omitempty"`

	// Service the event type belongs to, e.g. "host_metrics".
	ServiceID string `json:"service_id"`

	EventProcessingParams EventProcessingParamsSpec `json:"event_processing_params"`
}

// EventProcessingParamsSpec holds defaults for location fields most agents do
// not report.
type EventProcessingParamsSpec struct {
	SetDefaultZoneTo        string `json:"set_default_zone_to,omitempty"`
	SetDefaultGeolocationTo string `json:"set_default_geolocation_to,omitempty"`
	SetDefaultRegionTo      string `json:"set_default_region_to,omitempty"`
}
