package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the sinks use.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
}

// MetricSink writes output metrics as JSON to the metrics topic, keyed by
// metric name so one metric stays on one partition.
type MetricSink struct {
	writer Writer
}

var _ internal.Sink = (*MetricSink)(nil)

func NewMetricSink(brokers []string, topic string) *MetricSink {
	return NewMetricSinkWithWriter(newWriter(brokers, topic))
}

func NewMetricSinkWithWriter(w Writer) *MetricSink {
	return &MetricSink{writer: w}
}

func (s *MetricSink) Send(ctx context.Context, metric specs.OutputMetricSpec) error {
	data, err := json.Marshal(metric)
	if err != nil {
		return errors.Wrap(err, "encode metric")
	}

	message := kafka.Message{
		Key:   []byte(metric.Metric.Name),
		Value: data,
		Time:  time.Now(),
	}
	if err := s.writer.WriteMessages(ctx, message); err != nil {
		return errors.Wrap(err, "write metric")
	}
	return nil
}

func (s *MetricSink) Close() error {
	return s.writer.Close()
}

// PreHourlySink writes deferred instance usage records to the pre-hourly
// topic in one request per batch. Messages are keyed by internal.PreHourlyKey,
// so a compacted topic keeps one record per window when a batch is retried.
type PreHourlySink struct {
	writer Writer
}

var _ internal.PreHourlySink = (*PreHourlySink)(nil)

func NewPreHourlySink(brokers []string, topic string) *PreHourlySink {
	return NewPreHourlySinkWithWriter(newWriter(brokers, topic))
}

func NewPreHourlySinkWithWriter(w Writer) *PreHourlySink {
	return &PreHourlySink{writer: w}
}

func (s *PreHourlySink) Store(ctx context.Context, records []specs.InstanceUsageSpec) error {
	if len(records) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(records))
	for i, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return errors.Wrapf(err, "encode pre-hourly record %d", i)
		}
		messages[i] = kafka.Message{
			Key:   []byte(internal.PreHourlyKey(record)),
			Value: data,
		}
	}

	if err := s.writer.WriteMessages(ctx, messages...); err != nil {
		return errors.Wrapf(err, "write %d pre-hourly records", len(messages))
	}
	return nil
}

func (s *PreHourlySink) Close() error {
	return s.writer.Close()
}
