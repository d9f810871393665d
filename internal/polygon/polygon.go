// Package polygon holds the helpers shared by every component that handles
// region geometry: conversions between geometry kinds, planar measurement,
// coordinate transformation, ring assembly and boolean operations.
//
// Geometries are go-geom values in the XY layout. Boolean operations are
// delegated to github.com/ctessum/geom.
package polygon

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

var (
	// ErrNoPolygonalPart is returned when a geometry collection holds no areal member.
	ErrNoPolygonalPart = eris.New("polygon: geometry has no polygonal part")
	// ErrUnexpectedGeometry is returned for geometry types that cannot be reduced to polygons.
	ErrUnexpectedGeometry = eris.New("polygon: unexpected geometry type")
	// ErrInvalid is returned by Validate.
	ErrInvalid = eris.New("polygon: invalid geometry")
)

// Empty returns a multipolygon with no members.
func Empty() *geom.MultiPolygon {
	return geom.NewMultiPolygon(geom.XY)
}

// ToMultiPolygon converts polygons and multipolygons to a multipolygon and
// reduces collections to their polygonal part.
func ToMultiPolygon(g geom.T) (*geom.MultiPolygon, error) {
	switch v := g.(type) {
	case *geom.MultiPolygon:
		return ForceXY(v), nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(v.Layout())
		if err := mp.Push(v); err != nil {
			return nil, eris.Wrap(err, "polygon: push")
		}
		return ForceXY(mp), nil
	case *geom.GeometryCollection:
		return PolygonalPart(v)
	case nil:
		return nil, eris.Wrap(ErrUnexpectedGeometry, "polygon: nil geometry")
	default:
		return nil, eris.Wrapf(ErrUnexpectedGeometry, "polygon: %T", g)
	}
}

// PolygonalPart merges the polygonal members of a collection, dropping
// points and lines. A collection with no polygonal member returns
// ErrNoPolygonalPart.
func PolygonalPart(g geom.T) (*geom.MultiPolygon, error) {
	gc, ok := g.(*geom.GeometryCollection)
	if !ok {
		return ToMultiPolygon(g)
	}
	out := Empty()
	found := false
	for _, member := range gc.Geoms() {
		switch v := member.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
			found = true
			mp, err := ToMultiPolygon(v)
			if err != nil {
				return nil, err
			}
			for i := 0; i < mp.NumPolygons(); i++ {
				if err := out.Push(mp.Polygon(i)); err != nil {
					return nil, eris.Wrap(err, "polygon: push")
				}
			}
		case *geom.GeometryCollection:
			sub, err := PolygonalPart(v)
			if eris.Is(err, ErrNoPolygonalPart) {
				continue
			}
			if err != nil {
				return nil, err
			}
			found = true
			for i := 0; i < sub.NumPolygons(); i++ {
				if err := out.Push(sub.Polygon(i)); err != nil {
					return nil, eris.Wrap(err, "polygon: push")
				}
			}
		}
	}
	if !found {
		return nil, ErrNoPolygonalPart
	}
	return out, nil
}

// RingArea is the signed shoelace area of a ring; counter-clockwise is positive.
func RingArea(flat []float64, stride int) float64 {
	n := len(flat) / stride
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x0, y0 := flat[i*stride], flat[i*stride+1]
		x1, y1 := flat[j*stride], flat[j*stride+1]
		sum += x0*y1 - x1*y0
	}
	return sum / 2
}

// Area is the planar area of mp: shells minus holes, independent of ring
// orientation.
func Area(mp *geom.MultiPolygon) float64 {
	var total float64
	for i := 0; i < mp.NumPolygons(); i++ {
		total += PolygonArea(mp.Polygon(i))
	}
	return total
}

// PolygonArea is the planar area of one polygon.
func PolygonArea(p *geom.Polygon) float64 {
	var a float64
	for i := 0; i < p.NumLinearRings(); i++ {
		r := p.LinearRing(i)
		ra := math.Abs(RingArea(r.FlatCoords(), r.Stride()))
		if i == 0 {
			a = ra
		} else {
			a -= ra
		}
	}
	return a
}

// Centroid is the area-weighted planar centroid.
func Centroid(mp *geom.MultiPolygon) (float64, float64, error) {
	if mp.NumPolygons() == 0 {
		return 0, 0, eris.Wrap(ErrInvalid, "polygon: centroid of empty geometry")
	}
	c, err := xy.Centroid(mp)
	if err != nil {
		return 0, 0, eris.Wrap(err, "polygon: centroid")
	}
	return c.X(), c.Y(), nil
}

// Transform returns a copy of mp with f applied to every vertex.
func Transform(mp *geom.MultiPolygon, f func(x, y float64) (float64, float64)) *geom.MultiPolygon {
	stride := mp.Stride()
	src := mp.FlatCoords()
	flat := make([]float64, len(src))
	copy(flat, src)
	for i := 0; i+1 < len(flat); i += stride {
		flat[i], flat[i+1] = f(flat[i], flat[i+1])
	}
	endss := make([][]int, len(mp.Endss()))
	for i, ends := range mp.Endss() {
		endss[i] = append([]int(nil), ends...)
	}
	return geom.NewMultiPolygonFlat(mp.Layout(), flat, endss)
}

// Bounds returns (minX, minY, maxX, maxY).
func Bounds(mp *geom.MultiPolygon) (float64, float64, float64, float64) {
	b := mp.Bounds()
	return b.Min(0), b.Min(1), b.Max(0), b.Max(1)
}

// Validate checks that mp has at least one polygon, every ring has at least
// four points and every coordinate is finite.
func Validate(mp *geom.MultiPolygon) error {
	if mp == nil || mp.NumPolygons() == 0 {
		return eris.Wrap(ErrInvalid, "polygon: empty")
	}
	for _, v := range mp.FlatCoords() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Wrap(ErrInvalid, "polygon: non-finite coordinate")
		}
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		if p.NumLinearRings() == 0 {
			return eris.Wrapf(ErrInvalid, "polygon: member %d has no rings", i)
		}
		for j := 0; j < p.NumLinearRings(); j++ {
			if p.LinearRing(j).NumCoords() < 4 {
				return eris.Wrapf(ErrInvalid, "polygon: member %d ring %d has fewer than 4 points", i, j)
			}
		}
	}
	return nil
}

// Contains reports whether (x, y) is inside mp by the even-odd rule.
func Contains(mp *geom.MultiPolygon, x, y float64) bool {
	inside := false
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			r := p.LinearRing(j)
			if ringContains(r.FlatCoords(), r.Stride(), x, y) {
				inside = !inside
			}
		}
	}
	return inside
}

func ringContains(flat []float64, stride int, x, y float64) bool {
	n := len(flat) / stride
	in := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := flat[i*stride], flat[i*stride+1]
		xj, yj := flat[j*stride], flat[j*stride+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

// ForceXY drops Z and M ordinates.
func ForceXY(mp *geom.MultiPolygon) *geom.MultiPolygon {
	if mp.Layout() == geom.XY || mp.Layout() == geom.NoLayout {
		return mp
	}
	stride := mp.Stride()
	src := mp.FlatCoords()
	flat := make([]float64, 0, len(src)/stride*2)
	for i := 0; i+1 < len(src); i += stride {
		flat = append(flat, src[i], src[i+1])
	}
	endss := make([][]int, len(mp.Endss()))
	for i, ends := range mp.Endss() {
		endss[i] = make([]int, len(ends))
		for j, e := range ends {
			endss[i][j] = e / stride * 2
		}
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}
