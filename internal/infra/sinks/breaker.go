package sinks

import (
	"context"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	Name string

	// Requests let through while half-open.
	MaxRequests uint32

	// Window the failure counts are reset after while closed.
	Interval time.Duration

	// How long the breaker stays open before probing.
	Timeout time.Duration

	// The breaker opens once MinRequests were seen and the failure ratio
	// reaches FailureThreshold.
	MinRequests      uint32
	FailureThreshold float64
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		MinRequests:      10,
		FailureThreshold: 0.5,
	}
}

// BreakerSink stops calling a failing sink for a while. Sends rejected by an
// open breaker fail fast as transport errors so the batch is retried later.
type BreakerSink struct {
	next    internal.Sink
	breaker *gobreaker.CircuitBreaker
}

var _ internal.Sink = (*BreakerSink)(nil)

func NewBreakerSink(next internal.Sink, config BreakerConfig, logger *zap.Logger) *BreakerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("sink breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerSink{next: next, breaker: breaker}
}

func (s *BreakerSink) Send(ctx context.Context, metric specs.OutputMetricSpec) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, metric)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return internal.MarkTransport(err, "sink %s", s.breaker.Name())
	}
	return err
}

func (s *BreakerSink) State() gobreaker.State {
	return s.breaker.State()
}
