package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports batch lifecycle counters. It only observes the bus, so the
// processor never depends on Prometheus.
type Metrics struct {
	BatchesCommitted prometheus.Counter
	BatchesAborted   *prometheus.CounterVec
	RecordsReceived  prometheus.Counter
	MetricsPublished prometheus.Counter
	PreHourlyStored  prometheus.Counter
	GroupDuration    *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "metricagg_batches_committed_total",
			Help: "Batches whose offsets were committed",
		}),
		BatchesAborted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metricagg_batches_aborted_total",
			Help: "Batches aborted before commit, by stage",
		}, []string{"reason"}),
		RecordsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "metricagg_records_received_total",
			Help: "Raw usage records received",
		}),
		MetricsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "metricagg_metrics_published_total",
			Help: "Output metrics sent downstream",
		}),
		PreHourlyStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "metricagg_pre_hourly_records_stored_total",
			Help: "Instance usage records stored for re-aggregation",
		}),
		GroupDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metricagg_group_aggregation_duration_seconds",
			Help:    "Time to aggregate one metric group",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"metric_group"}),
	}
}

// Observe subscribes the collectors to bus.
func (m *Metrics) Observe(bus *Bus) {
	bus.Subscribe(BatchReceived, func(e Event) {
		m.RecordsReceived.Add(float64(e.(BatchReceivedEvent).Records))
	})
	bus.Subscribe(GroupAggregated, func(e Event) {
		evt := e.(GroupAggregatedEvent)
		m.GroupDuration.WithLabelValues(evt.MetricGroup).Observe(evt.Duration.Seconds())
	})
	bus.Subscribe(PreHourlyStored, func(e Event) {
		m.PreHourlyStored.Add(float64(e.(PreHourlyStoredEvent).Records))
	})
	bus.Subscribe(BatchPublished, func(e Event) {
		m.MetricsPublished.Add(float64(e.(BatchPublishedEvent).Metrics))
	})
	bus.Subscribe(BatchCommitted, func(Event) {
		m.BatchesCommitted.Inc()
	})
	bus.Subscribe(BatchAborted, func(e Event) {
		m.BatchesAborted.WithLabelValues(e.(BatchAbortedEvent).Reason).Inc()
	})
}
