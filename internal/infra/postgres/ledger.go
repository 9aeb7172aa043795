package postgres

import (
	"context"
	"database/sql"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
)

// Ledger stores committed ranges in the offset_ledger table. The upsert only
// fires when until_offset grows, so stale commits are no-ops.
type Ledger struct {
	db *sql.DB
}

var _ internal.OffsetLedger = (*Ledger)(nil)

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Committed(ctx context.Context, topic string, partition int) (specs.OffsetRangeSpec, bool, error) {
	query := `
		SELECT from_offset, until_offset
		FROM offset_ledger
		WHERE topic = $1 AND partition = $2
	`

	r := specs.OffsetRangeSpec{Topic: topic, Partition: partition}
	err := l.db.QueryRowContext(ctx, query, topic, partition).Scan(&r.FromOffset, &r.UntilOffset)
	if errors.Is(err, sql.ErrNoRows) {
		return specs.OffsetRangeSpec{}, false, nil
	}
	if err != nil {
		return specs.OffsetRangeSpec{}, false, errors.Wrapf(err, "read offsets of %s/%d", topic, partition)
	}
	return r, true, nil
}

func (l *Ledger) Commit(ctx context.Context, ranges []specs.OffsetRangeSpec) error {
	query := `
		INSERT INTO offset_ledger (topic, partition, from_offset, until_offset, committed_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (topic, partition) DO UPDATE
		SET from_offset = EXCLUDED.from_offset,
		    until_offset = EXCLUDED.until_offset,
		    committed_at = EXCLUDED.committed_at
		WHERE offset_ledger.until_offset < EXCLUDED.until_offset
	`

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin commit")
	}
	defer tx.Rollback()

	for _, r := range ranges {
		if _, err := tx.ExecContext(ctx, query, r.Topic, r.Partition, r.FromOffset, r.UntilOffset); err != nil {
			return errors.Wrapf(err, "commit offsets of %s/%d", r.Topic, r.Partition)
		}
	}
	return errors.Wrap(tx.Commit(), "commit offsets")
}
