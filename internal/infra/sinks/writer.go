package sinks

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
)

// WriterSink writes one JSON document per line. Used by replay to print
// metrics and pre-hourly records instead of producing them.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

var (
	_ internal.Sink          = (*WriterSink)(nil)
	_ internal.PreHourlySink = (*WriterSink)(nil)
)

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

func (s *WriterSink) Send(_ context.Context, metric specs.OutputMetricSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.enc.Encode(metric), "write metric")
}

func (s *WriterSink) Store(_ context.Context, records []specs.InstanceUsageSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		if err := s.enc.Encode(record); err != nil {
			return errors.Wrap(err, "write pre-hourly record")
		}
	}
	return nil
}
