package polygon

import (
	"math"

	ctgeom "github.com/ctessum/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// ToClip converts mp to the representation used by the clipping library.
// Rings are unclosed there.
func ToClip(mp *geom.MultiPolygon) ctgeom.MultiPolygon {
	out := make(ctgeom.MultiPolygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		poly := make(ctgeom.Polygon, 0, p.NumLinearRings())
		for j := 0; j < p.NumLinearRings(); j++ {
			lr := p.LinearRing(j)
			flat, stride := lr.FlatCoords(), lr.Stride()
			path := make(ctgeom.Path, 0, lr.NumCoords())
			for k := 0; k+1 < len(flat); k += stride {
				path = append(path, ctgeom.Point{X: flat[k], Y: flat[k+1]})
			}
			if n := len(path); n > 1 && path[0] == path[n-1] {
				path = path[:n-1]
			}
			poly = append(poly, path)
		}
		out = append(out, poly)
	}
	return out
}

// FromClip converts a clipping result back to go-geom. Contours with
// fewer than three distinct vertices or no area are returned as line
// strings in a geometry collection next to the assembled polygons; a clean
// result is a plain multipolygon. A nil or empty result returns nil.
func FromClip(p ctgeom.Polygonal) (geom.T, error) {
	if isNilPolygonal(p) {
		return nil, nil
	}
	var rings []Ring
	var lines []*geom.LineString
	for _, poly := range p.Polygons() {
		for _, path := range poly {
			r := make(Ring, 0, 2*len(path))
			for _, pt := range path {
				r = append(r, pt.X, pt.Y)
			}
			r = dedupe(r.open())
			if len(r) == 0 {
				continue
			}
			if len(r) < 6 || math.Abs(RingArea(r, 2)) < 1e-12 {
				if len(r) >= 4 {
					lines = append(lines, geom.NewLineStringFlat(geom.XY, r))
				}
				continue
			}
			rings = append(rings, r)
		}
	}
	if len(rings) == 0 && len(lines) == 0 {
		return nil, nil
	}
	mp, err := AssembleRings(rings)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return mp, nil
	}
	gc := geom.NewGeometryCollection()
	if mp.NumPolygons() > 0 {
		if err := gc.Push(mp); err != nil {
			return nil, eris.Wrap(err, "polygon: collect")
		}
	}
	for _, l := range lines {
		if err := gc.Push(l); err != nil {
			return nil, eris.Wrap(err, "polygon: collect")
		}
	}
	return gc, nil
}

func isNilPolygonal(p ctgeom.Polygonal) bool {
	if p == nil {
		return true
	}
	switch v := p.(type) {
	case ctgeom.Polygon:
		return len(v) == 0
	case ctgeom.MultiPolygon:
		return len(v) == 0
	}
	return len(p.Polygons()) == 0
}

// dedupe drops consecutive repeated vertices.
func dedupe(r Ring) Ring {
	out := make(Ring, 0, len(r))
	for i := 0; i+1 < len(r); i += 2 {
		n := len(out)
		if n >= 2 && out[n-2] == r[i] && out[n-1] == r[i+1] {
			continue
		}
		out = append(out, r[i], r[i+1])
	}
	if n := len(out); n >= 4 && out[0] == out[n-2] && out[1] == out[n-1] {
		out = out[:n-2]
	}
	return out
}

// Intersection returns a ∩ b. The result is nil when they do not overlap,
// a multipolygon for a clean areal result, or a collection when the overlap
// degenerates to lines in places.
func Intersection(a, b *geom.MultiPolygon) (geom.T, error) {
	if a.NumPolygons() == 0 || b.NumPolygons() == 0 {
		return nil, nil
	}
	return FromClip(ToClip(a).Intersection(ToClip(b)))
}

// Union dissolves every input into a single multipolygon.
func Union(mps ...*geom.MultiPolygon) (*geom.MultiPolygon, error) {
	var acc ctgeom.Polygonal
	for _, mp := range mps {
		if mp == nil || mp.NumPolygons() == 0 {
			continue
		}
		c := ToClip(mp)
		if acc == nil {
			acc = c
			continue
		}
		acc = acc.Union(c)
	}
	if acc == nil {
		return Empty(), nil
	}
	g, err := FromClip(acc)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return Empty(), nil
	}
	mp, err := PolygonalPart(g)
	if eris.Is(err, ErrNoPolygonalPart) {
		return Empty(), nil
	}
	return mp, err
}
