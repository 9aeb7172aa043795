package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// SpecRepository serves transform and pre-transform specs stored as JSONB
// documents.
type SpecRepository struct {
	db *sql.DB
}

var (
	_ internal.SpecResolver         = (*SpecRepository)(nil)
	_ internal.PreTransformResolver = (*SpecRepository)(nil)
)

func NewSpecRepository(db *sql.DB) *SpecRepository {
	return &SpecRepository{db: db}
}

func (r *SpecRepository) Resolve(ctx context.Context, metricGroup string) (specs.TransformSpec, error) {
	var spec specs.TransformSpec
	err := r.get(ctx, `SELECT spec FROM transform_specs WHERE metric_group = $1`, metricGroup, &spec)
	if errors.Is(err, sql.ErrNoRows) {
		return specs.TransformSpec{}, errors.Wrapf(internal.ErrSpecNotFound, "%q", metricGroup)
	}
	if err != nil {
		return specs.TransformSpec{}, errors.Wrapf(err, "load transform spec %q", metricGroup)
	}
	return spec, nil
}

func (r *SpecRepository) ResolvePreTransform(ctx context.Context, eventType string) (specs.PreTransformSpec, error) {
	var spec specs.PreTransformSpec
	err := r.get(ctx, `SELECT spec FROM pre_transform_specs WHERE event_type = $1`, eventType, &spec)
	if errors.Is(err, sql.ErrNoRows) {
		return specs.PreTransformSpec{}, errors.Wrapf(internal.ErrSpecNotFound, "pre-transform for %q", eventType)
	}
	if err != nil {
		return specs.PreTransformSpec{}, errors.Wrapf(err, "load pre-transform spec %q", eventType)
	}
	return spec, nil
}

func (r *SpecRepository) get(ctx context.Context, query, key string, dest any) error {
	var doc []byte
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&doc); err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(doc, dest), "decode spec document")
}

// ResolveAll loads the specs of several metric groups in one query. Groups
// without a spec are absent from the result.
func (r *SpecRepository) ResolveAll(ctx context.Context, metricGroups []string) (internal.StaticResolver, error) {
	query := `SELECT spec FROM transform_specs WHERE metric_group = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(metricGroups))
	if err != nil {
		return nil, errors.Wrap(err, "query transform specs")
	}
	defer rows.Close()

	var transformSpecs []specs.TransformSpec
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Wrap(err, "scan transform spec")
		}
		var spec specs.TransformSpec
		if err := json.Unmarshal(doc, &spec); err != nil {
			return nil, errors.Wrap(err, "decode transform spec")
		}
		transformSpecs = append(transformSpecs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate transform specs")
	}
	return internal.NewStaticResolver(transformSpecs...), nil
}

// PutTransform inserts or replaces the spec of its metric group.
func (r *SpecRepository) PutTransform(ctx context.Context, spec specs.TransformSpec) error {
	return r.put(ctx, `
		INSERT INTO transform_specs (metric_group, spec, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (metric_group) DO UPDATE SET spec = EXCLUDED.spec, updated_at = now()
	`, spec.MetricGroup, spec)
}

// PutPreTransform inserts or replaces the spec of its event type.
func (r *SpecRepository) PutPreTransform(ctx context.Context, spec specs.PreTransformSpec) error {
	return r.put(ctx, `
		INSERT INTO pre_transform_specs (event_type, spec, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (event_type) DO UPDATE SET spec = EXCLUDED.spec, updated_at = now()
	`, spec.EventType, spec)
}

func (r *SpecRepository) put(ctx context.Context, query, key string, spec any) error {
	doc, err := json.Marshal(spec)
	if err != nil {
		return errors.Wrap(err, "encode spec document")
	}
	if _, err := r.db.ExecContext(ctx, query, key, doc); err != nil {
		return errors.Wrapf(err, "store spec %q", key)
	}
	return nil
}
