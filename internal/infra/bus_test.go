package infra

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeEnum(t *testing.T) {
	t.Run("EventType.String() returns correct values", func(t *testing.T) {
		assert.Equal(t, "BatchReceived", BatchReceived.String())
		assert.Equal(t, "BatchCommitted", BatchCommitted.String())
		assert.Equal(t, "BatchAborted", BatchAborted.String())
		assert.Equal(t, "Unknown", EventType(999).String())
	})
}

func TestBusWithEnumEventTypes(t *testing.T) {
	t.Run("can subscribe to and publish events using enum types", func(t *testing.T) {
		// Arrange
		bus := NewBus()
		var receivedEvents []Event

		handler := func(e Event) {
			receivedEvents = append(receivedEvents, e)
		}

		bus.Subscribe(BatchReceived, handler)
		bus.Subscribe(BatchCommitted, handler)

		// Act
		bus.Publish(BatchReceivedEvent{BatchID: "b-1", Records: 4, Groups: 1})
		bus.Publish(BatchCommittedEvent{BatchID: "b-1", Partitions: 2})

		// Assert
		assert.Len(t, receivedEvents, 2)
		assert.Equal(t, BatchReceived, receivedEvents[0].EventType())
		assert.Equal(t, BatchCommitted, receivedEvents[1].EventType())
		assert.Equal(t, 4, receivedEvents[0].(BatchReceivedEvent).Records)
	})

	t.Run("handlers only receive events they subscribed to", func(t *testing.T) {
		// Arrange
		bus := NewBus()
		var committed []Event
		var aborted []Event

		bus.Subscribe(BatchCommitted, func(e Event) { committed = append(committed, e) })
		bus.Subscribe(BatchAborted, func(e Event) { aborted = append(aborted, e) })

		// Act
		bus.Publish(BatchCommittedEvent{BatchID: "b-1"})
		bus.Publish(BatchAbortedEvent{BatchID: "b-2", Reason: "build"})
		bus.Publish(MetricStagedEvent{BatchID: "b-1", Metrics: 3})

		// Assert
		assert.Len(t, committed, 1)
		assert.Len(t, aborted, 1)
		assert.Equal(t, "build", aborted[0].(BatchAbortedEvent).Reason)
	})

	t.Run("accepts publishes from concurrent goroutines", func(t *testing.T) {
		bus := NewBus()
		var mu sync.Mutex
		count := 0
		bus.Subscribe(GroupAggregated, func(Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bus.Publish(GroupAggregatedEvent{MetricGroup: "mem_total_all"})
			}()
		}
		wg.Wait()

		assert.Equal(t, 16, count)
	})
}
