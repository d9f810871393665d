package footprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sdm-cli/internal/polygon"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// band builds a band from rows of 1 (valid) and 0 (excluded).
func band(rows ...[]int) *raster.Masked {
	h, w := len(rows), len(rows[0])
	vals := make([]float64, 0, w*h)
	for _, r := range rows {
		for _, v := range r {
			vals = append(vals, float64(v))
		}
	}
	m := raster.MustMasked(w, h, vals)
	m.ExcludeEqual(0)
	return m
}

var unit = raster.NorthUp(0, 10, 1, 1)

func TestExtract_SinglePixel(t *testing.T) {
	mp, err := Extract(band([]int{0, 0}, []int{0, 1}), raster.NorthUp(100, 200, 10, 10))
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	assert.InDelta(t, 100, polygon.Area(mp), 1e-9)

	shell := mp.Polygon(0).LinearRing(0)
	assert.Equal(t, 5, shell.NumCoords())
	minX, minY, maxX, maxY := polygon.Bounds(mp)
	assert.Equal(t, []float64{110, 180, 120, 190}, []float64{minX, minY, maxX, maxY})
}

func TestExtract_DropsCollinearVertices(t *testing.T) {
	mp, err := Extract(band([]int{1, 1, 1}, []int{1, 1, 1}), unit)
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 5, mp.Polygon(0).LinearRing(0).NumCoords())
	assert.InDelta(t, 6, polygon.Area(mp), 1e-9)
}

func TestExtract_Hole(t *testing.T) {
	mp, err := Extract(band(
		[]int{1, 1, 1},
		[]int{1, 0, 1},
		[]int{1, 1, 1},
	), unit)
	require.NoError(t, err)
	require.Equal(t, 1, mp.NumPolygons())
	p := mp.Polygon(0)
	require.Equal(t, 2, p.NumLinearRings())
	assert.InDelta(t, 8, polygon.Area(mp), 1e-9)

	assert.Greater(t, polygon.RingArea(p.LinearRing(0).FlatCoords(), 2), 0.0)
	assert.Less(t, polygon.RingArea(p.LinearRing(1).FlatCoords(), 2), 0.0)
	assert.False(t, polygon.Contains(mp, 1.5, 8.5))
	assert.True(t, polygon.Contains(mp, 0.5, 8.5))
}

func TestExtract_IslandInsideHole(t *testing.T) {
	mp, err := Extract(band(
		[]int{1, 1, 1, 1, 1},
		[]int{1, 0, 0, 0, 1},
		[]int{1, 0, 1, 0, 1},
		[]int{1, 0, 0, 0, 1},
		[]int{1, 1, 1, 1, 1},
	), unit)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.InDelta(t, 17, polygon.Area(mp), 1e-9)
}

func TestExtract_DiagonalPixelsAreSeparate(t *testing.T) {
	mp, err := Extract(band(
		[]int{1, 0},
		[]int{0, 1},
	), unit)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.InDelta(t, 2, polygon.Area(mp), 1e-9)

	mp, err = Extract(band(
		[]int{0, 1},
		[]int{1, 0},
	), unit)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestExtract_DisjointRegions(t *testing.T) {
	mp, err := Extract(band(
		[]int{1, 1, 0, 0, 1},
		[]int{1, 0, 0, 0, 1},
	), unit)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.InDelta(t, 5, polygon.Area(mp), 1e-9)
}

func TestExtract_AllExcluded(t *testing.T) {
	mp, err := Extract(band([]int{0, 0}, []int{0, 0}), unit)
	require.NoError(t, err)
	assert.Equal(t, 0, mp.NumPolygons())
}

func TestExtract_AreaMatchesValidPixels(t *testing.T) {
	m := band(
		[]int{1, 0, 1, 1, 0, 1},
		[]int{1, 1, 0, 1, 1, 0},
		[]int{0, 1, 1, 0, 1, 1},
		[]int{1, 0, 1, 1, 0, 1},
	)
	mp, err := Extract(m, raster.NorthUp(0, 0, 2, 3))
	require.NoError(t, err)
	assert.InDelta(t, float64(m.ValidCount()*6), polygon.Area(mp), 1e-9)
}
