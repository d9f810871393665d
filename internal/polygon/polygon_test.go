package polygon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/raster"
)

func square(x0, y0, x1, y1 float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}, []int{10})
}

func multi(t *testing.T, ps ...*geom.Polygon) *geom.MultiPolygon {
	t.Helper()
	mp := Empty()
	for _, p := range ps {
		require.NoError(t, mp.Push(p))
	}
	return mp
}

func TestArea_IgnoresOrientation(t *testing.T) {
	// Clockwise shell with a counter-clockwise hole.
	p := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 0, 4, 4, 4, 4, 0, 0, 0,
		1, 1, 2, 1, 2, 2, 1, 2, 1, 1,
	}, []int{10, 20})
	assert.InDelta(t, 15, PolygonArea(p), 1e-12)
	assert.InDelta(t, 16, Area(multi(t, square(0, 0, 2, 2), square(5, 5, 7, 7), square(10, 0, 12, 2), square(0, 10, 2, 12))), 1e-12)
}

func TestToMultiPolygon(t *testing.T) {
	mp, err := ToMultiPolygon(square(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, mp.NumPolygons())

	_, err = ToMultiPolygon(geom.NewPointFlat(geom.XY, []float64{1, 2}))
	assert.ErrorIs(t, err, ErrUnexpectedGeometry)

	_, err = ToMultiPolygon(nil)
	assert.ErrorIs(t, err, ErrUnexpectedGeometry)
}

func TestPolygonalPart(t *testing.T) {
	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(
		square(0, 0, 1, 1),
		geom.NewLineStringFlat(geom.XY, []float64{5, 5, 6, 6}),
		multi(t, square(2, 2, 3, 3), square(4, 4, 5, 5)),
	))
	mp, err := PolygonalPart(gc)
	require.NoError(t, err)
	assert.Equal(t, 3, mp.NumPolygons())
	assert.InDelta(t, 3, Area(mp), 1e-12)

	lines := geom.NewGeometryCollection()
	require.NoError(t, lines.Push(geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1}), geom.NewPointFlat(geom.XY, []float64{0, 0})))
	_, err = PolygonalPart(lines)
	assert.ErrorIs(t, err, ErrNoPolygonalPart)
}

func TestAssembleRings_NestingAndOrientation(t *testing.T) {
	outer := Ring{0, 0, 0, 10, 10, 10, 10, 0}  // clockwise
	hole := Ring{2, 2, 8, 2, 8, 8, 2, 8, 2, 2} // counter-clockwise, closed
	island := Ring{4, 4, 6, 4, 6, 6, 4, 6}
	far := Ring{20, 0, 21, 0, 21, 1, 20, 1}
	sliver := Ring{30, 0, 31, 0, 32, 0}

	mp, err := AssembleRings([]Ring{hole, island, outer, far, sliver})
	require.NoError(t, err)
	require.Equal(t, 3, mp.NumPolygons())
	assert.InDelta(t, 100-36+4+1, Area(mp), 1e-12)

	var withHole *geom.Polygon
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		shell := p.LinearRing(0)
		assert.Greater(t, RingArea(shell.FlatCoords(), 2), 0.0, "shells are counter-clockwise")
		if p.NumLinearRings() == 2 {
			withHole = p
		}
	}
	require.NotNil(t, withHole)
	assert.Less(t, RingArea(withHole.LinearRing(1).FlatCoords(), 2), 0.0, "holes are clockwise")
	assert.InDelta(t, 64, PolygonArea(withHole), 1e-12)
}

func TestIntersection(t *testing.T) {
	a := multi(t, square(0, 0, 2, 2))
	b := multi(t, square(1, 1, 3, 3))

	g, err := Intersection(a, b)
	require.NoError(t, err)
	mp, err := ToMultiPolygon(g)
	require.NoError(t, err)
	assert.InDelta(t, 1, Area(mp), 1e-9)

	g, err = Intersection(a, multi(t, square(5, 5, 6, 6)))
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = Intersection(a, Empty())
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestIntersection_KeepsHoles(t *testing.T) {
	donut := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		4, 4, 4, 6, 6, 6, 6, 4, 4, 4,
	}, []int{10, 20})
	g, err := Intersection(multi(t, donut), multi(t, square(-1, -1, 11, 11)))
	require.NoError(t, err)
	mp, err := ToMultiPolygon(g)
	require.NoError(t, err)
	assert.InDelta(t, 96, Area(mp), 1e-9)
}

func TestUnion(t *testing.T) {
	u, err := Union(multi(t, square(0, 0, 2, 2)), multi(t, square(1, 1, 3, 3)), nil, Empty())
	require.NoError(t, err)
	assert.InDelta(t, 7, Area(u), 1e-9)
	assert.Equal(t, 1, u.NumPolygons())

	u, err = Union()
	require.NoError(t, err)
	assert.Equal(t, 0, u.NumPolygons())
}

func TestTransformAndBounds(t *testing.T) {
	mp := multi(t, square(0, 0, 1, 2))
	moved := Transform(mp, func(x, y float64) (float64, float64) { return x + 10, y * 2 })
	minX, minY, maxX, maxY := Bounds(moved)
	assert.Equal(t, []float64{10, 0, 11, 4}, []float64{minX, minY, maxX, maxY})

	// The source is untouched.
	minX, _, _, maxY = Bounds(mp)
	assert.Equal(t, 0.0, minX)
	assert.Equal(t, 2.0, maxY)
}

func TestCentroid(t *testing.T) {
	x, y, err := Centroid(multi(t, square(0, 0, 2, 2), square(10, 0, 12, 2)))
	require.NoError(t, err)
	assert.InDelta(t, 6, x, 1e-9)
	assert.InDelta(t, 1, y, 1e-9)

	_, _, err = Centroid(Empty())
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(multi(t, square(0, 0, 1, 1))))
	assert.ErrorIs(t, Validate(Empty()), ErrInvalid)
	assert.ErrorIs(t, Validate(nil), ErrInvalid)

	nan := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, math.NaN(), 1, 0, 0}, []int{8})
	assert.ErrorIs(t, Validate(multi(t, nan)), ErrInvalid)

	short := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 0, 0}, []int{6})
	assert.ErrorIs(t, Validate(multi(t, short)), ErrInvalid)
}

func TestContains(t *testing.T) {
	donut := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		4, 4, 6, 4, 6, 6, 4, 6, 4, 4,
	}, []int{10, 20})
	mp := multi(t, donut)
	assert.True(t, Contains(mp, 1, 1))
	assert.False(t, Contains(mp, 5, 5))
	assert.False(t, Contains(mp, 11, 5))
}

func TestRasterize_PixelCentres(t *testing.T) {
	tr := raster.NorthUp(0, 4, 1, 1)
	// The top edge at y=2.4 stays below the row 1 centres at y=2.5.
	p := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 2, 0, 2, 2.4, 0, 2.4, 0, 0}, []int{10})
	got, err := Rasterize(multi(t, p), 4, 4, tr)
	require.NoError(t, err)
	want := []bool{
		false, false, false, false,
		false, false, false, false,
		true, true, false, false,
		true, true, false, false,
	}
	assert.Equal(t, want, got)
}

func TestRasterize_HoleAndOutside(t *testing.T) {
	tr := raster.NorthUp(0, 3, 1, 1)
	donut := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 3, 0, 3, 3, 0, 3, 0, 0,
		1, 1, 2, 1, 2, 2, 1, 2, 1, 1,
	}, []int{10, 20})
	far := square(-10, -10, -5, -5)
	got, err := RasterizeUint8(multi(t, donut, far), 3, 3, tr)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 1, 1, 1, 0, 1, 1, 1, 1}, got)

	empty, err := Rasterize(Empty(), 3, 3, tr)
	require.NoError(t, err)
	assert.Equal(t, make([]bool, 9), empty)
}

func TestForceXY(t *testing.T) {
	p := geom.NewPolygonFlat(geom.XYZ, []float64{0, 0, 5, 2, 0, 5, 2, 2, 5, 0, 2, 5, 0, 0, 5}, []int{15})
	mp, err := ToMultiPolygon(p)
	require.NoError(t, err)
	assert.Equal(t, geom.XY, mp.Layout())
	assert.Equal(t, [][]int{{10}}, mp.Endss())
	assert.InDelta(t, 4, Area(mp), 1e-12)

	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(p, geom.NewPointFlat(geom.XYZ, []float64{9, 9, 1})))
	mp, err = PolygonalPart(gc)
	require.NoError(t, err)
	assert.Equal(t, 1, mp.NumPolygons())
}
