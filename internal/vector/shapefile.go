package vector

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/polygon"
)

// Shapefile is an ESRI shapefile read record by record. The CRS comes from
// the sibling .prj file; without one it is unknown (nil).
type Shapefile struct {
	path string
	ref  crs.CRS
}

// OpenShapefile checks that path is readable and parses its .prj.
func OpenShapefile(path string) (*Shapefile, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	_ = r.Close()

	s := &Shapefile{path: path}
	prj, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, eris.Wrap(err, "shapefile: read prj")
	default:
		if s.ref, err = crs.Parse(string(prj)); err != nil {
			return nil, eris.Wrapf(err, "shapefile: %s", path)
		}
	}
	return s, nil
}

func (s *Shapefile) CRS() crs.CRS { return s.ref }
func (s *Shapefile) Close() error { return nil }

// Query streams the records, evaluating the predicates on attributes before
// decoding a record's geometry.
func (s *Shapefile) Query(ctx context.Context, q Query) ([]Feature, error) {
	reader, err := shp.Open(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", s.path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	var out []Feature
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := Feature{Attributes: make(map[string]string, len(names))}
		for i, name := range names {
			val := strings.TrimRight(reader.Attribute(i), "\x00")
			f.Attributes[name] = strings.TrimSpace(val)
		}
		if !q.Match(f) {
			continue
		}
		n, shape := reader.Shape()
		mp, err := shapeToMultiPolygon(shape)
		if err != nil {
			return nil, eris.Wrapf(err, "shapefile: record %d", n)
		}
		f.Geometry = mp
		out = append(out, f)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "shapefile: read %s", s.path)
	}
	return out, nil
}

func shapeToMultiPolygon(shape shp.Shape) (*geom.MultiPolygon, error) {
	var (
		parts  []int32
		points []shp.Point
	)
	switch p := shape.(type) {
	case *shp.Polygon:
		parts, points = p.Parts, p.Points
	case *shp.PolygonZ:
		parts, points = p.Parts, p.Points
	case *shp.PolygonM:
		parts, points = p.Parts, p.Points
	case *shp.Null, nil:
		return polygon.Empty(), nil
	default:
		return nil, eris.Wrapf(polygon.ErrUnexpectedGeometry, "shapefile: %T", shape)
	}

	rings := make([]polygon.Ring, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		ring := make(polygon.Ring, 0, 2*(end-start))
		for _, pt := range points[start:end] {
			ring = append(ring, pt.X, pt.Y)
		}
		rings = append(rings, ring)
	}
	return polygon.AssembleRings(rings)
}
