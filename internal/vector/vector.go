// Package vector reads region polygons from GeoPackage, Shapefile and
// PostGIS sources with attribute filters pushed down to the source.
package vector

import (
	"context"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/crs"
)

var (
	// ErrMultipleLayers is returned when a GeoPackage holds more than one
	// feature layer.
	ErrMultipleLayers = eris.New("vector: more than one feature layer")
	// ErrNoLayer is returned when a GeoPackage holds no feature layer.
	ErrNoLayer = eris.New("vector: no feature layer")
)

// Feature is one region: its attributes as text and its areal geometry in
// the source CRS.
type Feature struct {
	Attributes map[string]string
	Geometry   *geom.MultiPolygon
}

// Get returns an attribute, matching the field name case-insensitively when
// there is no exact match.
func (f Feature) Get(field string) string {
	if v, ok := f.Attributes[field]; ok {
		return v
	}
	for k, v := range f.Attributes {
		if strings.EqualFold(k, field) {
			return v
		}
	}
	return ""
}

// Predicate keeps features whose field is one of Values.
type Predicate struct {
	Field  string
	Values []string
}

// In builds a Predicate.
func In(field string, values ...string) Predicate {
	return Predicate{Field: field, Values: values}
}

// Query selects features matching every predicate. The zero Query selects
// everything.
type Query struct {
	Where []Predicate
}

// Match evaluates the query against a feature in memory.
func (q Query) Match(f Feature) bool {
	for _, p := range q.Where {
		if !slices.Contains(p.Values, f.Get(p.Field)) {
			return false
		}
	}
	return true
}

// Source is a queryable polygon layer.
type Source interface {
	Query(ctx context.Context, q Query) ([]Feature, error)
	CRS() crs.CRS
	Close() error
}

// Memory is a Source over features already in memory.
type Memory struct {
	Features []Feature
	Ref      crs.CRS
}

// NewMemory returns an in-memory source.
func NewMemory(ref crs.CRS, features ...Feature) *Memory {
	return &Memory{Features: features, Ref: ref}
}

// Query filters the features in memory.
func (m *Memory) Query(ctx context.Context, q Query) ([]Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Feature
	for _, f := range m.Features {
		if q.Match(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Memory) CRS() crs.CRS { return m.Ref }
func (m *Memory) Close() error { return nil }
