package internal

import (
	"strings"
	"time"

	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
)

// SetterOperation is the closed catalog of post-aggregation transforms.
type SetterOperation int

const (
	SetterRollupQuantity SetterOperation = iota + 1
	SetterAggregatedMetricName
	SetterAggregatedPeriod
)

var setterOperationNames = map[SetterOperation]string{
	SetterRollupQuantity:       "rollup_quantity",
	SetterAggregatedMetricName: "set_aggregated_metric_name",
	SetterAggregatedPeriod:     "set_aggregated_period",
}

func (op SetterOperation) String() string {
	if name, ok := setterOperationNames[op]; ok {
		return name
	}
	return "unknown"
}

func ParseSetterOperation(name string) (SetterOperation, error) {
	for op, opName := range setterOperationNames {
		if opName == name {
			return op, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownSetter, "%q", name)
}

// RollupOperation combines the quantities of usages sharing a rollup key.
type RollupOperation int

const (
	RollupSum RollupOperation = iota + 1
	RollupMax
	RollupMin
	RollupAvg
)

var rollupOperationNames = map[RollupOperation]string{
	RollupSum: "sum",
	RollupMax: "max",
	RollupMin: "min",
	RollupAvg: "avg",
}

func (op RollupOperation) String() string {
	if name, ok := rollupOperationNames[op]; ok {
		return name
	}
	return "unknown"
}

func ParseRollupOperation(name string) (RollupOperation, error) {
	for op, opName := range rollupOperationNames {
		if opName == name {
			return op, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownOperation, "rollup %q", name)
}

func (op RollupOperation) combine(quantities []Decimal) Decimal {
	result := quantities[0]
	switch op {
	case RollupSum, RollupAvg:
		for _, q := range quantities[1:] {
			result = result.Add(q)
		}
		if op == RollupAvg {
			result = result.Div(NewDecimalFromInt64(int64(len(quantities))))
		}
	case RollupMax:
		for _, q := range quantities[1:] {
			if q.Cmp(result) > 0 {
				result = q
			}
		}
	case RollupMin:
		for _, q := range quantities[1:] {
			if q.Cmp(result) < 0 {
				result = q
			}
		}
	}
	return result
}

type setterStep struct {
	op       SetterOperation
	rollupBy []string
	rollupOp RollupOperation
}

// SetterChain applies the setter steps of one transform spec, in order.
type SetterChain struct {
	steps                []setterStep
	metricID             string
	aggregatedMetricName string
	aggregationPeriod    string
}

// NewSetterChain resolves every step name and rollup operation up front.
// Step params "group_by_list" and "operation" override the spec-level
// setter_rollup_group_by_list and setter_rollup_operation.
func NewSetterChain(spec specs.TransformSpec) (SetterChain, error) {
	params := spec.AggregationParams
	chain := SetterChain{
		metricID:             spec.MetricID,
		aggregatedMetricName: params.AggregatedMetricName,
		aggregationPeriod:    params.AggregationPeriod,
	}

	for i, stepSpec := range params.Pipeline.Setters {
		op, err := ParseSetterOperation(stepSpec.Operation)
		if err != nil {
			return SetterChain{}, errors.Wrapf(err, "setter[%d]", i)
		}
		step := setterStep{op: op}

		if op == SetterRollupQuantity {
			groupBy := params.SetterRollupGroupByList
			if raw, ok := stepSpec.Params["group_by_list"]; ok {
				groupBy, err = stringList(raw)
				if err != nil {
					return SetterChain{}, errors.Wrapf(err, "setter[%d] group_by_list", i)
				}
			}

			opName := params.SetterRollupOperation
			if raw, ok := stepSpec.Params["operation"]; ok {
				name, isString := raw.(string)
				if !isString {
					return SetterChain{}, errors.Wrapf(ErrInvalidSpec, "setter[%d] operation must be a string", i)
				}
				opName = name
			}
			if opName == "" {
				opName = RollupSum.String()
			}
			step.rollupOp, err = ParseRollupOperation(opName)
			if err != nil {
				return SetterChain{}, errors.Wrapf(err, "setter[%d]", i)
			}
			step.rollupBy = groupBy
		}

		chain.steps = append(chain.steps, step)
	}

	return chain, nil
}

func stringList(raw any) ([]string, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.Wrap(ErrInvalidSpec, "expected a list of names")
	}
	names := make([]string, len(items))
	for i, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidSpec, "item %d is not a string", i)
		}
		names[i] = name
	}
	return names, nil
}

// Apply runs every step over usages. The input slice is left untouched.
func (c SetterChain) Apply(usages []InstanceUsage) []InstanceUsage {
	current := make([]InstanceUsage, len(usages))
	for i, u := range usages {
		current[i] = u.clone()
	}

	for _, step := range c.steps {
		switch step.op {
		case SetterRollupQuantity:
			current = c.rollup(current, step)
		case SetterAggregatedMetricName:
			for i := range current {
				current[i].AggregatedMetricName = c.aggregatedMetricName
			}
		case SetterAggregatedPeriod:
			for i := range current {
				current[i].AggregationPeriod = c.aggregationPeriod
			}
		}
	}
	return current
}

func (c SetterChain) rollup(usages []InstanceUsage, step setterStep) []InstanceUsage {
	keep := make(map[string]bool, len(step.rollupBy))
	for _, name := range step.rollupBy {
		keep[name] = true
	}

	index := make(map[string]int)
	var buckets [][]InstanceUsage
	for _, u := range usages {
		key := make([]string, len(step.rollupBy))
		for i, name := range step.rollupBy {
			if name == FieldMetricID {
				key[i] = c.metricID
				continue
			}
			key[i] = u.lookupOrNA(name)
		}
		k := strings.Join(key, "\x00")
		i, ok := index[k]
		if !ok {
			i = len(buckets)
			index[k] = i
			buckets = append(buckets, nil)
		}
		buckets[i] = append(buckets[i], u)
	}

	result := make([]InstanceUsage, 0, len(buckets))
	for _, bucket := range buckets {
		rolled := bucket[0].clone()
		for _, name := range usageFieldNames {
			if !keep[name] {
				rolled.Fields.Set(name, RolledUp)
			}
		}

		quantities := make([]Decimal, len(bucket))
		var count int64
		first, last := bucket[0].FirstRecordAt, bucket[0].LastRecordAt
		for i, u := range bucket {
			quantities[i] = u.Quantity
			count += u.RecordCount
			first = minTime(first, u.FirstRecordAt)
			last = maxTime(last, u.LastRecordAt)
		}
		rolled.Quantity = step.rollupOp.combine(quantities)
		rolled.RecordCount = count
		rolled.FirstRecordAt = first
		rolled.LastRecordAt = last
		result = append(result, rolled)
	}
	return result
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
