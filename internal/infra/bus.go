package infra

import (
	"sync"
	"time"
)

// EventType represents a stage in the life of a batch
type EventType int

const (
	BatchReceived EventType = iota
	GroupAggregated
	MetricStaged
	PreHourlyStored
	BatchPublished
	BatchCommitted
	BatchAborted
)

// String returns the string representation of the EventType
func (et EventType) String() string {
	switch et {
	case BatchReceived:
		return "BatchReceived"
	case GroupAggregated:
		return "GroupAggregated"
	case MetricStaged:
		return "MetricStaged"
	case PreHourlyStored:
		return "PreHourlyStored"
	case BatchPublished:
		return "BatchPublished"
	case BatchCommitted:
		return "BatchCommitted"
	case BatchAborted:
		return "BatchAborted"
	default:
		return "Unknown"
	}
}

type Event interface{ EventType() EventType }
type Handler func(Event)

// Bus is safe for concurrent Publish and Subscribe. Handlers run on the
// publishing goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Handler
}

func NewBus() *Bus { return &Bus{subs: map[EventType][]Handler{}} }

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.EventType()]
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) Subscribe(evt EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[evt] = append(b.subs[evt], h)
}

type BatchReceivedEvent struct {
	BatchID string
	Records int
	Groups  int
}

func (BatchReceivedEvent) EventType() EventType { return BatchReceived }

type GroupAggregatedEvent struct {
	BatchID     string
	MetricGroup string
	Usages      int
	Duration    time.Duration
}

func (GroupAggregatedEvent) EventType() EventType { return GroupAggregated }

type MetricStagedEvent struct {
	BatchID     string
	MetricGroup string
	Metrics     int
	PreHourly   int
}

func (MetricStagedEvent) EventType() EventType { return MetricStaged }

type PreHourlyStoredEvent struct {
	BatchID string
	Records int
}

func (PreHourlyStoredEvent) EventType() EventType { return PreHourlyStored }

type BatchPublishedEvent struct {
	BatchID string
	Metrics int
}

func (BatchPublishedEvent) EventType() EventType { return BatchPublished }

type BatchCommittedEvent struct {
	BatchID    string
	Partitions int
}

func (BatchCommittedEvent) EventType() EventType { return BatchCommitted }

type BatchAbortedEvent struct {
	BatchID string
	Reason  string
	Err     error
}

func (BatchAbortedEvent) EventType() EventType { return BatchAborted }
