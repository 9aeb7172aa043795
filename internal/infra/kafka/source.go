package kafka

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reader is the part of *kafka.Reader the source uses. Readers are bound to a
// single partition and never join a consumer group: positions live in the
// offset ledger.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	SetOffset(offset int64) error
	Close() error
}

type SourceConfig struct {
	Brokers    []string
	Topic      string
	Partitions []int

	// Upper bound on messages per batch across all partitions.
	MaxBatchMessages int

	// How long Next waits for messages before cutting the batch.
	BatchInterval time.Duration
}

// Source cuts the raw metrics topic into batches. Each batch carries the
// offset range it was read from so the processor can commit it.
type Source struct {
	topic       string
	partitions  []int
	readers     map[int]Reader
	resolver    internal.PreTransformResolver
	ledger      internal.OffsetLedger
	maxMessages int
	interval    time.Duration
	logger      *zap.Logger

	positioned bool
	next       map[int]int64
}

func NewSource(config SourceConfig, resolver internal.PreTransformResolver, ledger internal.OffsetLedger, logger *zap.Logger) *Source {
	readers := make(map[int]Reader, len(config.Partitions))
	for _, partition := range config.Partitions {
		readers[partition] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:   config.Brokers,
			Topic:     config.Topic,
			Partition: partition,
			MinBytes:  1,
			MaxBytes:  10e6,
		})
	}
	return NewSourceWithReaders(config, readers, resolver, ledger, logger)
}

func NewSourceWithReaders(config SourceConfig, readers map[int]Reader, resolver internal.PreTransformResolver, ledger internal.OffsetLedger, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	partitions := make([]int, 0, len(readers))
	for partition := range readers {
		partitions = append(partitions, partition)
	}
	sort.Ints(partitions)

	maxMessages := config.MaxBatchMessages
	if maxMessages <= 0 {
		maxMessages = 10000
	}
	interval := config.BatchInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &Source{
		topic:       config.Topic,
		partitions:  partitions,
		readers:     readers,
		resolver:    resolver,
		ledger:      ledger,
		maxMessages: maxMessages,
		interval:    interval,
		logger:      logger.With(zap.String("topic", config.Topic)),
		next:        make(map[int]int64, len(readers)),
	}
}

// Rewind moves every reader back to the committed position. Call it after a
// batch failed so the next batch replays the same messages.
func (s *Source) Rewind() {
	s.positioned = false
}

func (s *Source) position(ctx context.Context) error {
	for _, partition := range s.partitions {
		committed, ok, err := s.ledger.Committed(ctx, s.topic, partition)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "read committed offset of partition %d", partition), internal.ErrLedger)
		}

		offset := kafka.FirstOffset
		delete(s.next, partition)
		if ok {
			offset = committed.UntilOffset
			s.next[partition] = offset
		}
		if err := s.readers[partition].SetOffset(offset); err != nil {
			return internal.MarkTransport(err, "seek partition %d to %d", partition, offset)
		}
		s.logger.Debug("partition positioned", zap.Int("partition", partition), zap.Int64("offset", offset))
	}
	s.positioned = true
	return nil
}

// Next blocks until MaxBatchMessages were read or BatchInterval elapsed and
// returns the batch. A batch with no records still carries the offsets of
// messages that were read and dropped.
func (s *Source) Next(ctx context.Context) (specs.BatchSpec, error) {
	if !s.positioned {
		if err := s.position(ctx); err != nil {
			return specs.BatchSpec{}, err
		}
	}

	fetched, err := s.fetch(ctx)
	if err != nil {
		return specs.BatchSpec{}, err
	}

	batch := specs.BatchSpec{ID: uuid.NewString()}
	var envelopes []specs.InboundMetricSpec
	undecodable := 0
	for _, partition := range s.partitions {
		messages := fetched[partition]
		from, known := s.next[partition]
		if len(messages) > 0 {
			if !known {
				from = messages[0].Offset
			}
			until := messages[len(messages)-1].Offset + 1
			s.next[partition] = until
			batch.Offsets = append(batch.Offsets, specs.OffsetRangeSpec{
				Topic: s.topic, Partition: partition, FromOffset: from, UntilOffset: until,
			})
		}

		for _, message := range messages {
			var envelope specs.InboundMetricSpec
			if err := json.Unmarshal(message.Value, &envelope); err != nil {
				undecodable++
				s.logger.Warn("dropping undecodable message",
					zap.Int("partition", partition), zap.Int64("offset", message.Offset), zap.Error(err))
				continue
			}
			envelopes = append(envelopes, envelope)
		}
	}

	records, dropped, err := internal.PreTransformBatch(ctx, s.resolver, envelopes)
	if err != nil {
		return specs.BatchSpec{}, err
	}
	batch.Records = records

	s.logger.Debug("batch cut",
		zap.String("batch_id", batch.ID),
		zap.Int("envelopes", len(envelopes)),
		zap.Int("undecodable", undecodable),
		zap.Int("dropped", dropped),
		zap.Int("records", len(records)),
	)
	return batch, nil
}

// fetch reads every partition in parallel until the shared message budget is
// spent or the interval elapses.
func (s *Source) fetch(ctx context.Context) (map[int][]kafka.Message, error) {
	window, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	var budget atomic.Int64
	budget.Store(int64(s.maxMessages))

	var mu sync.Mutex
	fetched := make(map[int][]kafka.Message, len(s.partitions))

	g, _ := errgroup.WithContext(window)
	for _, partition := range s.partitions {
		reader := s.readers[partition]
		g.Go(func() error {
			for budget.Add(-1) >= 0 {
				message, err := reader.FetchMessage(window)
				if err != nil {
					if window.Err() != nil && ctx.Err() == nil {
						return nil
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return internal.MarkTransport(err, "fetch partition %d", partition)
				}

				mu.Lock()
				fetched[partition] = append(fetched[partition], message)
				mu.Unlock()
			}
			cancel()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetched, nil
}

func (s *Source) Close() error {
	var errs error
	for _, partition := range s.partitions {
		if err := s.readers[partition].Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "close reader of partition %d", partition))
		}
	}
	return errs
}
