package specfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk layout of a spec file, in JSON or YAML:
//
//	transform_specs:
//	  - metric_group: mem_total_all
//	    metric_id: mem_total_all
//	    aggregation_params_map: {...}
//	pre_transform_specs:
//	  - event_type: mem.total_mb
//	    metric_id_list: [mem_total_all]
type Document struct {
	TransformSpecs    []specs.TransformSpec    `json:"transform_specs"`
	PreTransformSpecs []specs.PreTransformSpec `json:"pre_transform_specs"`
}

// Repository serves specs loaded once from files.
type Repository struct {
	transforms    internal.StaticResolver
	preTransforms internal.StaticPreTransformResolver
}

var (
	_ internal.SpecResolver         = (*Repository)(nil)
	_ internal.PreTransformResolver = (*Repository)(nil)
)

// Load reads path, a single document or a directory of .json, .yaml and .yml
// documents. A metric group or event type defined twice is an error.
func Load(path string) (*Repository, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "stat spec path")
	}

	files := []string{path}
	if info.IsDir() {
		files, err = documentFiles(path)
		if err != nil {
			return nil, err
		}
	}

	var merged Document
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", file)
		}
		doc, err := Parse(data, filepath.Ext(file))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", file)
		}
		merged.TransformSpecs = append(merged.TransformSpecs, doc.TransformSpecs...)
		merged.PreTransformSpecs = append(merged.PreTransformSpecs, doc.PreTransformSpecs...)
	}
	return New(merged)
}

func documentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read spec directory")
	}
	var files []string
	for _, entry := range entries {
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
			if !entry.IsDir() {
				files = append(files, filepath.Join(dir, entry.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Parse decodes a document. YAML is converted to JSON first so both formats
// share the json field names and the setter step decoding.
func Parse(data []byte, ext string) (Document, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Document{}, errors.Wrap(err, "decode yaml")
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return Document{}, errors.Wrap(err, "convert yaml")
		}
		data = converted
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, errors.Wrap(err, "decode json")
	}
	return doc, nil
}

func New(doc Document) (*Repository, error) {
	for i, spec := range doc.TransformSpecs {
		if spec.MetricGroup == "" {
			return nil, errors.Wrapf(internal.ErrInvalidSpec, "transform spec %d has no metric_group", i)
		}
	}
	for i, spec := range doc.PreTransformSpecs {
		if spec.EventType == "" {
			return nil, errors.Wrapf(internal.ErrInvalidSpec, "pre-transform spec %d has no event_type", i)
		}
	}

	r := &Repository{
		transforms:    internal.NewStaticResolver(doc.TransformSpecs...),
		preTransforms: internal.NewStaticPreTransformResolver(doc.PreTransformSpecs...),
	}
	if len(r.transforms) != len(doc.TransformSpecs) {
		return nil, errors.Wrap(internal.ErrInvalidSpec, "duplicate metric_group")
	}
	if len(r.preTransforms) != len(doc.PreTransformSpecs) {
		return nil, errors.Wrap(internal.ErrInvalidSpec, "duplicate event_type")
	}
	return r, nil
}

func (r *Repository) Resolve(ctx context.Context, metricGroup string) (specs.TransformSpec, error) {
	return r.transforms.Resolve(ctx, metricGroup)
}

func (r *Repository) ResolvePreTransform(ctx context.Context, eventType string) (specs.PreTransformSpec, error) {
	return r.preTransforms.ResolvePreTransform(ctx, eventType)
}

// MetricGroups lists the loaded metric groups in name order.
func (r *Repository) MetricGroups() []string {
	groups := make([]string, 0, len(r.transforms))
	for group := range r.transforms {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}
