package specs

import "time"

// RawUsageRecordSpec represents a single observed usage event.
//
// Raw usage records are the input boundary of the aggregation core. They are
// produced upstream (see PreTransform) from inbound metric envelopes and are
// consumed read-only: the core never mutates a raw record, it only folds groups
// of them into instance usage records.
//
// Every string field is optional. An empty string means the upstream feed did
// not supply the field; the publisher renders absent fields with the "NA"
// sentinel rather than dropping them.
type RawUsageRecordSpec struct {
	// Tenant (Keystone project owner) the usage was reported under.
	TenantID string `json:"tenant_id,omitempty"`

	// User that generated the usage, when known.
	UserID string `json:"user_id,omitempty"`

	// Identifier of the resource (instance, volume, ...) the usage belongs to.
	ResourceUUID string `json:"resource_uuid,omitempty"`

	// Location attributes. Usually filled from the pre-transform defaults
	// because most host metrics do not carry them.
	Geolocation string `json:"geolocation,omitempty"`
	Region      string `json:"region,omitempty"`
	Zone        string `json:"zone,omitempty"`

	// Host that reported the event. Examples: "mini-mon", "compute-0001".
	Host string `json:"host,omitempty"`

	// Project the usage is attributed to.
	ProjectID string `json:"project_id,omitempty"`

	// Service classification, taken from the pre-transform spec.
	ServiceGroup string `json:"service_group,omitempty"`
	ServiceID    string `json:"service_id,omitempty"`

	// Observed value.
	//
	// Quantities are plain floating point numbers on the wire; the aggregation
	// core accumulates them in decimal arithmetic and converts back when the
	// output metric is built.
	Quantity float64 `json:"quantity"`

	// Business timestamp of the event, UTC.
	//
	// Drives latest/oldest selection and the first/last record timestamps that
	// are carried as provenance on every aggregate.
	EventTimestamp time.Time `json:"event_timestamp"`

	// Metric group (transform spec metric_id) this record is aggregated under.
	//
	// One inbound event can yield several raw records, one per metric group
	// listed in the pre-transform spec's metric_id_list.
	MetricGroup string `json:"metric_group"`

	// Arrival position within the batch.
	//
	// Secondary ordering key: when two records share an event timestamp the one
	// that arrived first wins latest/oldest selection.
	Sequence int64 `json:"sequence"`
}
