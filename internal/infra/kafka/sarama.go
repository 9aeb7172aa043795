package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
)

// SaramaSink is the metric sink on the sarama driver, for clusters where the
// deployment already tunes a sarama producer.
type SaramaSink struct {
	producer sarama.SyncProducer
	topic    string
}

var _ internal.Sink = (*SaramaSink)(nil)

// NewSaramaConfig returns the producer settings the sink expects: synchronous
// acks from all replicas and successes reported back.
func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

func NewSaramaSink(brokers []string, topic string) (*SaramaSink, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, errors.Wrap(err, "create sarama producer")
	}
	return NewSaramaSinkWithProducer(producer, topic), nil
}

func NewSaramaSinkWithProducer(producer sarama.SyncProducer, topic string) *SaramaSink {
	return &SaramaSink{producer: producer, topic: topic}
}

func (s *SaramaSink) Send(ctx context.Context, metric specs.OutputMetricSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(metric)
	if err != nil {
		return errors.Wrap(err, "encode metric")
	}

	msg := &sarama.ProducerMessage{
		Topic:     s.topic,
		Key:       sarama.StringEncoder(metric.Metric.Name),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return errors.Wrapf(err, "produce to %s", s.topic)
	}
	return nil
}

func (s *SaramaSink) Close() error {
	return s.producer.Close()
}
