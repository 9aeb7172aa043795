package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// advanceScript stores each KEYS[i] range (ARGV[2i-1], ARGV[2i]) only when it
// moves that partition forward. All partitions of one commit apply together.
var advanceScript = redis.NewScript(`
local advanced = 0
for i, key in ipairs(KEYS) do
	local from = ARGV[2 * i - 1]
	local upto = ARGV[2 * i]
	local current = redis.call('HGET', key, 'until_offset')
	if not current or tonumber(current) < tonumber(upto) then
		redis.call('HSET', key, 'from_offset', from, 'until_offset', upto)
		advanced = advanced + 1
	end
end
return advanced
`)

// Ledger keeps committed offset ranges in one hash per partition.
type Ledger struct {
	client *redis.Client
	prefix string
}

var _ internal.OffsetLedger = (*Ledger)(nil)

func NewLedger(client *redis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = "metricagg"
	}
	return &Ledger{client: client, prefix: prefix}
}

func (l *Ledger) key(topic string, partition int) string {
	return fmt.Sprintf("%s:offsets:%s:%d", l.prefix, topic, partition)
}

// Commit advances every partition of ranges in one atomic script run.
func (l *Ledger) Commit(ctx context.Context, ranges []specs.OffsetRangeSpec) error {
	if len(ranges) == 0 {
		return nil
	}

	keys := make([]string, len(ranges))
	args := make([]interface{}, 0, 2*len(ranges))
	for i, r := range ranges {
		keys[i] = l.key(r.Topic, r.Partition)
		args = append(args, r.FromOffset, r.UntilOffset)
	}
	if err := advanceScript.Run(ctx, l.client, keys, args...).Err(); err != nil {
		return errors.Wrapf(err, "commit offsets of %d partitions", len(ranges))
	}
	return nil
}
