package internal

import (
	"context"
	"sync"

	"github.com/chrisconley/metricagg/specs"
)

// OffsetLedger records, per source partition, how far processing has been
// committed. A batch's ranges are committed only after all of its metrics
// were published.
type OffsetLedger interface {
	// Committed returns the last committed range for the partition. The bool
	// is false when nothing has been committed yet.
	Committed(ctx context.Context, topic string, partition int) (specs.OffsetRangeSpec, bool, error)

	// Commit stores every range that moves its partition forward. Ranges at or
	// behind the stored position are ignored without error.
	Commit(ctx context.Context, ranges []specs.OffsetRangeSpec) error
}

// ShouldAdvance reports whether next moves a partition past current.
func ShouldAdvance(current specs.OffsetRangeSpec, exists bool, next specs.OffsetRangeSpec) bool {
	return !exists || next.UntilOffset > current.UntilOffset
}

type partitionKey struct {
	topic     string
	partition int
}

// MemoryLedger keeps committed ranges in process memory.
type MemoryLedger struct {
	mu     sync.Mutex
	ranges map[partitionKey]specs.OffsetRangeSpec
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{ranges: make(map[partitionKey]specs.OffsetRangeSpec)}
}

func (l *MemoryLedger) Committed(_ context.Context, topic string, partition int) (specs.OffsetRangeSpec, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.ranges[partitionKey{topic: topic, partition: partition}]
	return r, ok, nil
}

func (l *MemoryLedger) Commit(_ context.Context, ranges []specs.OffsetRangeSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range ranges {
		key := partitionKey{topic: r.Topic, partition: r.Partition}
		current, ok := l.ranges[key]
		if ShouldAdvance(current, ok, r) {
			l.ranges[key] = r
		}
	}
	return nil
}
