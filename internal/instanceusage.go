package internal

import (
	"time"

	"github.com/chrisconley/metricagg/specs"
)

// TimestampLayout is the string form of first/last record timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Names readable through Lookup in addition to the usage fields.
const (
	FieldAggregatedMetricName = "aggregated_metric_name"
	FieldAggregationPeriod    = "aggregation_period"
	FieldFirstRecordTimestamp = "firstrecord_timestamp"
	FieldLastRecordTimestamp  = "lastrecord_timestamp"
	FieldUsageDate            = "usage_date"
	FieldUsageHour            = "usage_hour"
	FieldUsageMinute          = "usage_minute"
	FieldMetricID             = "metric_id"
)

// InstanceUsage is the working record for one group. FetchUsage creates it
// and each setter replaces or edits it before the publisher consumes it.
type InstanceUsage struct {
	Fields               UsageFields
	Quantity             Decimal
	RecordCount          int64
	FirstRecordAt        time.Time
	LastRecordAt         time.Time
	AggregatedMetricName string
	AggregationPeriod    string
	ProcessingMeta       map[string]string
}

func (u InstanceUsage) FirstRecordTimestamp() string {
	return u.FirstRecordAt.UTC().Format(TimestampLayout)
}

func (u InstanceUsage) LastRecordTimestamp() string {
	return u.LastRecordAt.UTC().Format(TimestampLayout)
}

// Lookup returns the value a dimension or group-by list refers to by name.
// Unset values report false.
func (u InstanceUsage) Lookup(name string) (string, bool) {
	switch name {
	case FieldAggregatedMetricName:
		return u.AggregatedMetricName, u.AggregatedMetricName != ""
	case FieldAggregationPeriod:
		return u.AggregationPeriod, u.AggregationPeriod != ""
	case FieldFirstRecordTimestamp:
		return u.FirstRecordTimestamp(), !u.FirstRecordAt.IsZero()
	case FieldLastRecordTimestamp:
		return u.LastRecordTimestamp(), !u.LastRecordAt.IsZero()
	case FieldUsageDate:
		return u.FirstRecordAt.UTC().Format("2006-01-02"), !u.FirstRecordAt.IsZero()
	case FieldUsageHour:
		return u.FirstRecordAt.UTC().Format("15"), !u.FirstRecordAt.IsZero()
	case FieldUsageMinute:
		return u.FirstRecordAt.UTC().Format("04"), !u.FirstRecordAt.IsZero()
	case FieldMetricID:
		id, ok := u.ProcessingMeta[FieldMetricID]
		return id, ok && id != ""
	}
	return u.Fields.Get(name)
}

// lookupOrNA is Lookup with the sentinel filled in.
func (u InstanceUsage) lookupOrNA(name string) string {
	if value, ok := u.Lookup(name); ok && value != "" {
		return value
	}
	return NotAvailable
}

func (u InstanceUsage) clone() InstanceUsage {
	c := u
	c.Fields = u.Fields.Clone()
	if u.ProcessingMeta != nil {
		c.ProcessingMeta = make(map[string]string, len(u.ProcessingMeta))
		for k, v := range u.ProcessingMeta {
			c.ProcessingMeta[k] = v
		}
	}
	return c
}

// ToSpec renders the record in its persisted form.
func (u InstanceUsage) ToSpec() specs.InstanceUsageSpec {
	spec := specs.InstanceUsageSpec{
		TenantID:                 u.lookupOrNA(FieldTenantID),
		UserID:                   u.lookupOrNA(FieldUserID),
		ResourceUUID:             u.lookupOrNA(FieldResourceUUID),
		Geolocation:              u.lookupOrNA(FieldGeolocation),
		Region:                   u.lookupOrNA(FieldRegion),
		Zone:                     u.lookupOrNA(FieldZone),
		Host:                     u.lookupOrNA(FieldHost),
		ProjectID:                u.lookupOrNA(FieldProjectID),
		ServiceGroup:             u.lookupOrNA(FieldServiceGroup),
		ServiceID:                u.lookupOrNA(FieldServiceID),
		AggregatedMetricName:     u.lookupOrNA(FieldAggregatedMetricName),
		Quantity:                 u.Quantity.Float64(),
		FirstRecordTimestamp:     u.lookupOrNA(FieldFirstRecordTimestamp),
		LastRecordTimestamp:      u.lookupOrNA(FieldLastRecordTimestamp),
		FirstRecordTimestampUnix: float64(u.FirstRecordAt.Unix()),
		LastRecordTimestampUnix:  float64(u.LastRecordAt.Unix()),
		RecordCount:              float64(u.RecordCount),
		UsageDate:                u.lookupOrNA(FieldUsageDate),
		UsageHour:                u.lookupOrNA(FieldUsageHour),
		UsageMinute:              u.lookupOrNA(FieldUsageMinute),
		AggregationPeriod:        u.lookupOrNA(FieldAggregationPeriod),
	}
	if len(u.ProcessingMeta) > 0 {
		spec.ProcessingMeta = make(map[string]string, len(u.ProcessingMeta))
		for k, v := range u.ProcessingMeta {
			spec.ProcessingMeta[k] = v
		}
	}
	return spec
}
