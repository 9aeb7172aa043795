package internal

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// UsageFetchOperation is the closed catalog of per-group aggregations.
type UsageFetchOperation int

const (
	UsageLatest UsageFetchOperation = iota + 1
	UsageOldest
	UsageMin
	UsageMax
	UsageAvg
	UsageSum
	UsageRate
)

var usageFetchOperationNames = map[UsageFetchOperation]string{
	UsageLatest: "latest",
	UsageOldest: "oldest",
	UsageMin:    "min",
	UsageMax:    "max",
	UsageAvg:    "avg",
	UsageSum:    "sum",
	UsageRate:   "rate",
}

func (op UsageFetchOperation) String() string {
	if name, ok := usageFetchOperationNames[op]; ok {
		return name
	}
	return "unknown"
}

// ParseUsageFetchOperation resolves a spec's usage_fetch_operation.
func ParseUsageFetchOperation(name string) (UsageFetchOperation, error) {
	for op, opName := range usageFetchOperationNames {
		if opName == name {
			return op, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownOperation, "%q", name)
}

// fetch computes the quantity for records already in canonical order.
func (op UsageFetchOperation) fetch(records []RawUsageRecord) Decimal {
	switch op {
	case UsageLatest:
		return latestQuantity(records)
	case UsageOldest:
		return records[0].Quantity
	case UsageMin:
		return minQuantity(records)
	case UsageMax:
		return maxQuantity(records)
	case UsageAvg:
		return sumQuantity(records).Div(NewDecimalFromInt64(int64(len(records))))
	case UsageSum:
		return sumQuantity(records)
	case UsageRate:
		return maxQuantity(records).Sub(minQuantity(records))
	}
	panic("unreachable usage fetch operation " + op.String())
}

// FetchUsage folds one group of records into an InstanceUsage.
//
// Dimension fields are copied from the first record in canonical order. The
// caller's slice is not reordered.
func FetchUsage(records []RawUsageRecord, op UsageFetchOperation) (InstanceUsage, error) {
	if len(records) == 0 {
		return InstanceUsage{}, ErrEmptyGroup
	}
	if _, ok := usageFetchOperationNames[op]; !ok {
		return InstanceUsage{}, errors.Wrapf(ErrUnknownOperation, "%d", int(op))
	}

	ordered := make([]RawUsageRecord, len(records))
	copy(ordered, records)
	SortCanonical(ordered)

	first, last := ordered[0], ordered[len(ordered)-1]
	return InstanceUsage{
		Fields:        first.Fields.Clone(),
		Quantity:      op.fetch(ordered),
		RecordCount:   int64(len(ordered)),
		FirstRecordAt: first.EventTimestamp.ToTime(),
		LastRecordAt:  last.EventTimestamp.ToTime(),
	}, nil
}

// latestQuantity picks the first record carrying the greatest timestamp.
func latestQuantity(ordered []RawUsageRecord) Decimal {
	newest := ordered[len(ordered)-1].EventTimestamp.ToTime()
	for _, r := range ordered {
		if r.EventTimestamp.ToTime().Equal(newest) {
			return r.Quantity
		}
	}
	return ordered[len(ordered)-1].Quantity
}

func minQuantity(records []RawUsageRecord) Decimal {
	result := records[0].Quantity
	for _, r := range records[1:] {
		if r.Quantity.Cmp(result) < 0 {
			result = r.Quantity
		}
	}
	return result
}

func maxQuantity(records []RawUsageRecord) Decimal {
	result := records[0].Quantity
	for _, r := range records[1:] {
		if r.Quantity.Cmp(result) > 0 {
			result = r.Quantity
		}
	}
	return result
}

func sumQuantity(records []RawUsageRecord) Decimal {
	total := NewDecimalFromInt64(0)
	for _, r := range records {
		total = total.Add(r.Quantity)
	}
	return total
}

// UsageGroup is the set of records sharing one group-by key tuple.
type UsageGroup struct {
	Key     []string
	Records []RawUsageRecord
}

// GroupRecords splits records by the values of groupBy. The name metric_id
// resolves to metricID for every record. Groups are returned in the canonical
// order of their first record.
func GroupRecords(records []RawUsageRecord, groupBy []string, metricID string) []UsageGroup {
	ordered := make([]RawUsageRecord, len(records))
	copy(ordered, records)
	SortCanonical(ordered)

	index := make(map[string]int)
	var groups []UsageGroup
	for _, r := range ordered {
		key := make([]string, len(groupBy))
		for i, name := range groupBy {
			if name == FieldMetricID {
				key[i] = metricID
				continue
			}
			value, ok := r.Fields.Get(name)
			if !ok {
				value = NotAvailable
			}
			key[i] = value
		}
		k := strings.Join(key, "\x00")
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, UsageGroup{Key: key})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}
