package internal

import (
	"fmt"
	"sort"
	"time"

	"github.com/chrisconley/metricagg/specs"
)

// Sentinels written into dimension fields.
const (
	NotAvailable = "NA"
	RolledUp     = "all"
)

// Usage field names, as they appear in group-by and dimension lists.
const (
	FieldTenantID     = "tenant_id"
	FieldUserID       = "user_id"
	FieldResourceUUID = "resource_uuid"
	FieldGeolocation  = "geolocation"
	FieldRegion       = "region"
	FieldZone         = "zone"
	FieldHost         = "host"
	FieldProjectID    = "project_id"
	FieldServiceGroup = "service_group"
	FieldServiceID    = "service_id"
)

var usageFieldNames = []string{
	FieldTenantID, FieldUserID, FieldResourceUUID, FieldGeolocation, FieldRegion,
	FieldZone, FieldHost, FieldProjectID, FieldServiceGroup, FieldServiceID,
}

// RawUsageRecord is one observed event, read-only once built.
type RawUsageRecord struct {
	Fields         UsageFields
	Quantity       Decimal
	EventTimestamp RawUsageEventTimestamp
	MetricGroup    RawUsageMetricGroup
	Sequence       int64
}

// NewRawUsageRecord validates spec. Missing dimension fields are not an error;
// they hold NotAvailable.
func NewRawUsageRecord(spec specs.RawUsageRecordSpec) (RawUsageRecord, error) {
	metricGroup, err := NewRawUsageMetricGroup(spec.MetricGroup)
	if err != nil {
		return RawUsageRecord{}, fmt.Errorf("invalid metric group: %w", err)
	}

	eventTimestamp, err := NewRawUsageEventTimestamp(spec.EventTimestamp)
	if err != nil {
		return RawUsageRecord{}, fmt.Errorf("invalid event timestamp: %w", err)
	}

	quantity, err := NewDecimalFromFloat64(spec.Quantity)
	if err != nil {
		return RawUsageRecord{}, fmt.Errorf("invalid quantity: %w", err)
	}

	fields := NewUsageFields()
	fields.Set(FieldTenantID, spec.TenantID)
	fields.Set(FieldUserID, spec.UserID)
	fields.Set(FieldResourceUUID, spec.ResourceUUID)
	fields.Set(FieldGeolocation, spec.Geolocation)
	fields.Set(FieldRegion, spec.Region)
	fields.Set(FieldZone, spec.Zone)
	fields.Set(FieldHost, spec.Host)
	fields.Set(FieldProjectID, spec.ProjectID)
	fields.Set(FieldServiceGroup, spec.ServiceGroup)
	fields.Set(FieldServiceID, spec.ServiceID)

	return RawUsageRecord{
		Fields:         fields,
		Quantity:       quantity,
		EventTimestamp: eventTimestamp,
		MetricGroup:    metricGroup,
		Sequence:       spec.Sequence,
	}, nil
}

type RawUsageMetricGroup struct {
	value string
}

func NewRawUsageMetricGroup(value string) (RawUsageMetricGroup, error) {
	if value == "" {
		return RawUsageMetricGroup{}, fmt.Errorf("metric group is required")
	}
	return RawUsageMetricGroup{value: value}, nil
}

func (g RawUsageMetricGroup) ToString() string {
	return g.value
}

type RawUsageEventTimestamp struct {
	value time.Time
}

func NewRawUsageEventTimestamp(value time.Time) (RawUsageEventTimestamp, error) {
	if value.IsZero() {
		return RawUsageEventTimestamp{}, fmt.Errorf("event timestamp is required")
	}
	return RawUsageEventTimestamp{value: value.UTC()}, nil
}

func (t RawUsageEventTimestamp) ToTime() time.Time {
	return t.value
}

// UsageFields holds the dimension fields of a record by name.
type UsageFields struct {
	values map[string]string
}

func NewUsageFields() UsageFields {
	return UsageFields{
		values: make(map[string]string, len(usageFieldNames)),
	}
}

// Set stores value, substituting NotAvailable for the empty string.
func (f *UsageFields) Set(name string, value string) {
	if value == "" {
		value = NotAvailable
	}
	f.values[name] = value
}

func (f UsageFields) Get(name string) (string, bool) {
	val, ok := f.values[name]
	return val, ok
}

func (f UsageFields) Clone() UsageFields {
	clone := UsageFields{values: make(map[string]string, len(f.values))}
	for name, value := range f.values {
		clone.values[name] = value
	}
	return clone
}

// SortCanonical orders records by event timestamp, then arrival sequence.
// The sort is stable so equal keys keep their input order.
func SortCanonical(records []RawUsageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].EventTimestamp.ToTime(), records[j].EventTimestamp.ToTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return records[i].Sequence < records[j].Sequence
	})
}
