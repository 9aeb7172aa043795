package internal

import (
	"context"
	"strings"
	"time"

	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
)

const metaTenantID = "tenantId"

// PreTransformResolver looks up the pre-transform spec of an inbound event
// type. Unknown event types fail with ErrSpecNotFound.
type PreTransformResolver interface {
	ResolvePreTransform(ctx context.Context, eventType string) (specs.PreTransformSpec, error)
}

// StaticPreTransformResolver serves pre-transform specs keyed by event type.
type StaticPreTransformResolver map[string]specs.PreTransformSpec

func NewStaticPreTransformResolver(preTransformSpecs ...specs.PreTransformSpec) StaticPreTransformResolver {
	r := make(StaticPreTransformResolver, len(preTransformSpecs))
	for _, spec := range preTransformSpecs {
		r[spec.EventType] = spec
	}
	return r
}

func (r StaticPreTransformResolver) ResolvePreTransform(_ context.Context, eventType string) (specs.PreTransformSpec, error) {
	spec, ok := r[eventType]
	if !ok {
		return specs.PreTransformSpec{}, errors.Wrapf(ErrSpecNotFound, "pre-transform for %q", eventType)
	}
	return spec, nil
}

// PreTransformBatch runs PreTransform over envelopes in arrival order. The
// envelope index is the record sequence. Envelopes without a pre-transform
// spec are dropped and counted; any other error aborts.
func PreTransformBatch(ctx context.Context, resolver PreTransformResolver, envelopes []specs.InboundMetricSpec) ([]specs.RawUsageRecordSpec, int, error) {
	var records []specs.RawUsageRecordSpec
	dropped := 0
	for i, envelope := range envelopes {
		spec, err := resolver.ResolvePreTransform(ctx, envelope.Metric.Name)
		if errors.Is(err, ErrSpecNotFound) {
			dropped++
			continue
		}
		if err != nil {
			return nil, dropped, err
		}

		out, err := PreTransform(envelope, spec, int64(i))
		if err != nil {
			return nil, dropped, err
		}
		if len(out) == 0 {
			dropped++
		}
		records = append(records, out...)
	}
	return records, dropped, nil
}

// PreTransform implements specs.PreTransform.
//
// The envelope is copied once per metric group in the spec's metric_id_list.
// Envelopes missing a required raw field produce no records and no error.
func PreTransform(envelope specs.InboundMetricSpec, spec specs.PreTransformSpec, sequence int64) ([]specs.RawUsageRecordSpec, error) {
	if spec.EventType != "" && spec.EventType != envelope.Metric.Name {
		return nil, errors.Wrapf(ErrInvalidSpec, "pre-transform spec for %q applied to %q", spec.EventType, envelope.Metric.Name)
	}
	if len(spec.MetricIDList) == 0 {
		return nil, errors.Wrapf(ErrInvalidSpec, "pre-transform spec for %q has an empty metric_id_list", spec.EventType)
	}

	for _, field := range spec.RequiredRawFieldsList {
		if !hasRawField(envelope, field) {
			return []specs.RawUsageRecordSpec{}, nil
		}
	}

	dims := envelope.Metric.Dimensions
	defaults := spec.EventProcessingParams

	base := specs.RawUsageRecordSpec{
		TenantID:       firstNonEmpty(dims["tenant_id"], envelope.Meta[metaTenantID]),
		UserID:         dims["user_id"],
		ResourceUUID:   firstNonEmpty(dims["resource_id"], dims["resource_uuid"]),
		Geolocation:    firstNonEmpty(dims["geolocation"], defaults.SetDefaultGeolocationTo),
		Region:         firstNonEmpty(dims["region"], defaults.SetDefaultRegionTo),
		Zone:           firstNonEmpty(dims["zone"], defaults.SetDefaultZoneTo),
		Host:           firstNonEmpty(dims["hostname"], dims["host"]),
		ProjectID:      firstNonEmpty(dims["project_id"], dims["tenant_id"], envelope.Meta[metaTenantID]),
		ServiceGroup:   firstNonEmpty(dims["service_group"], dims["service"]),
		ServiceID:      spec.ServiceID,
		Quantity:       envelope.Metric.Value,
		EventTimestamp: time.UnixMilli(int64(envelope.Metric.Timestamp)).UTC(),
		Sequence:       sequence,
	}

	records := make([]specs.RawUsageRecordSpec, len(spec.MetricIDList))
	for i, metricID := range spec.MetricIDList {
		record := base
		record.MetricGroup = metricID
		records[i] = record
	}
	return records, nil
}

// hasRawField reports whether a required_raw_fields_list entry is present.
// Nested names use a "dimensions.", "meta." or "value_meta." prefix.
func hasRawField(envelope specs.InboundMetricSpec, field string) bool {
	field = strings.TrimPrefix(field, "metric.")
	switch field {
	case "creation_time":
		return envelope.CreationTime != 0
	case "name":
		return envelope.Metric.Name != ""
	case "timestamp":
		return envelope.Metric.Timestamp != 0
	case "value":
		return true
	}

	if prefix, key, ok := strings.Cut(field, "."); ok {
		var values map[string]string
		switch prefix {
		case "dimensions":
			values = envelope.Metric.Dimensions
		case "meta":
			values = envelope.Meta
		case "value_meta":
			values = envelope.Metric.ValueMeta
		}
		return values[key] != ""
	}
	return envelope.Metric.Dimensions[field] != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
