package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SpecCache is a read-through cache of transform specs in front of a slower
// resolver. A cache outage degrades to reading through; it never fails a
// lookup the backing resolver can answer.
type SpecCache struct {
	client *redis.Client
	next   internal.SpecResolver
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

var _ internal.SpecResolver = (*SpecCache)(nil)

func NewSpecCache(client *redis.Client, next internal.SpecResolver, ttl time.Duration, logger *zap.Logger) *SpecCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SpecCache{client: client, next: next, ttl: ttl, prefix: "metricagg:spec:", logger: logger}
}

func (c *SpecCache) Resolve(ctx context.Context, metricGroup string) (specs.TransformSpec, error) {
	key := c.prefix + metricGroup

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var spec specs.TransformSpec
		if err := json.Unmarshal(data, &spec); err == nil {
			return spec, nil
		}
		c.logger.Warn("discarding corrupt cached spec", zap.String("metric_group", metricGroup))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("spec cache unavailable", zap.String("metric_group", metricGroup), zap.Error(err))
	}

	spec, err := c.next.Resolve(ctx, metricGroup)
	if err != nil {
		return specs.TransformSpec{}, err
	}

	if data, err := json.Marshal(spec); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("caching spec failed", zap.String("metric_group", metricGroup), zap.Error(err))
		}
	}
	return spec, nil
}

// Invalidate drops a cached spec so the next lookup reads through.
func (c *SpecCache) Invalidate(ctx context.Context, metricGroup string) error {
	return errors.Wrap(c.client.Del(ctx, c.prefix+metricGroup).Err(), "invalidate spec")
}
