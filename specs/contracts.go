package specs

// PreTransform turns one inbound metric envelope into raw usage records.
//
// Process:
//  1. Drop the envelope if any required raw field is missing
//  2. Map dimensions and meta onto raw record fields
//  3. Fill zone, geolocation and region from the spec defaults when absent
//  4. Emit one record per metric group in the spec's metric_id_list
//
// Returns an empty slice (not an error) when the envelope is dropped.
//
// See internal.PreTransform for the reference implementation.
type PreTransform func(envelope InboundMetricSpec, spec PreTransformSpec, sequence int64) ([]RawUsageRecordSpec, error)

// Aggregate folds the raw records of one metric group into output metrics.
//
// Process:
//  1. Group records by the spec's aggregation_group_by_list
//  2. Apply the usage-fetch operation to each group
//  3. Apply the setter pipeline in order
//  4. Build one output metric per remaining instance usage, stamped with meta
//
// Returns an error without any output if the spec names an unknown operation.
//
// See internal.Aggregate for the reference implementation.
type Aggregate func(records []RawUsageRecordSpec, spec TransformSpec, meta MetricMetaSpec) ([]OutputMetricSpec, error)
