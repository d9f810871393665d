package reproject

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/raster"
)

func geoRaster(t *testing.T, w, h int, originX, originY, px float64, vals []float64) *raster.Raster {
	t.Helper()
	m := raster.MustMasked(w, h, vals)
	m.ExcludeEqual(-9999)
	return &raster.Raster{
		Band:      m,
		Transform: raster.NorthUp(originX, originY, px, px),
		CRS:       crs.Geographic{},
		NoData:    -9999,
		HasNoData: true,
		DataType:  raster.Float32,
	}
}

func TestReproject_IdentityGridRoundTrip(t *testing.T) {
	vals := []float64{
		0.1, 0.2, -9999,
		-9999, 0.5, 0.6,
	}
	r := geoRaster(t, 3, 2, 10, 20, 0.5, vals)
	// An extra exclusion that is not a no-data value must survive too.
	r.Band.ExcludeIndex(1)

	out, err := Reproject(r, r.Grid())
	require.NoError(t, err)
	assert.Equal(t, r.Transform, out.Transform)
	for i := range vals {
		assert.Equal(t, r.Band.Valid(i), out.Band.Valid(i), "pixel %d", i)
		if out.Band.Valid(i) {
			assert.Equal(t, vals[i], out.Band.Values[i])
		} else {
			assert.Equal(t, -9999.0, out.Band.Values[i])
		}
	}
	assert.Equal(t, 3, out.Band.ValidCount())
}

func TestReproject_OutsideSourceIsExcluded(t *testing.T) {
	r := geoRaster(t, 2, 2, 0, 2, 1, []float64{1, 2, 3, 4})
	dst := raster.Grid{Width: 4, Height: 2, Transform: raster.NorthUp(0, 2, 1, 1), CRS: crs.Geographic{}}
	out, err := Reproject(r, dst)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, -9999, -9999, 3, 4, -9999, -9999}, out.Band.Values)
	assert.Equal(t, 4, out.Band.ValidCount())
}

func TestReproject_NoNoDataUsesTypeFill(t *testing.T) {
	r := geoRaster(t, 2, 1, 0, 1, 1, []float64{1, 2})
	r.HasNoData = false
	r.Band.ExcludeIndex(0)
	out, err := Reproject(r, r.Grid())
	require.NoError(t, err)
	assert.Equal(t, -math.MaxFloat32, out.Band.Values[0])
	assert.False(t, out.Band.Valid(0))
	assert.True(t, out.Band.Valid(1))
}

func TestDefaultGrid_SameCRSKeepsResolution(t *testing.T) {
	g := raster.Grid{Width: 40, Height: 30, Transform: raster.NorthUp(-5, 5, 0.25, 0.25), CRS: crs.Geographic{}}
	out, err := DefaultGrid(g, crs.Geographic{})
	require.NoError(t, err)
	assert.Equal(t, 40, out.Width)
	assert.Equal(t, 30, out.Height)
	assert.InDelta(t, 0.25, out.Transform.A, 1e-12)
	assert.InDelta(t, -0.25, out.Transform.E, 1e-12)
	assert.InDelta(t, -5, out.Transform.C, 1e-12)
	assert.InDelta(t, 5, out.Transform.F, 1e-12)
}

func TestToCRS_GeographicToLAEA(t *testing.T) {
	const w, h = 20, 20
	vals := make([]float64, w*h)
	for i := range vals {
		vals[i] = float64(i%7) / 7
	}
	vals[0] = -9999
	r := geoRaster(t, w, h, 0, 50, 0.1, vals)

	dst := crs.NewLAEA(49, 1)
	out, err := ToCRS(r, dst)
	require.NoError(t, err)
	assert.True(t, crs.Equal(dst, out.CRS))
	assert.Equal(t, r.DataType, out.DataType)

	// Square pixels, north-up.
	assert.InDelta(t, out.Transform.A, -out.Transform.E, 1e-9)
	assert.Zero(t, out.Transform.B)
	assert.Zero(t, out.Transform.D)

	// Every valid output value comes from the source.
	allowed := map[float64]bool{}
	for _, v := range r.Band.ValidValues() {
		allowed[v] = true
	}
	for _, v := range out.Band.ValidValues() {
		assert.True(t, allowed[v], "value %v", v)
	}
	// Nearest-neighbour keeps the valid area close to the source's.
	ratio := float64(out.Band.ValidCount()) / float64(r.Band.ValidCount())
	assert.InDelta(t, 1, ratio, 0.2)
}

func TestToMatch_ModeOfBlocks(t *testing.T) {
	src := geoRaster(t, 4, 4, 0, 4, 1, []float64{
		1, 1, 2, 2,
		1, 3, 2, 2,
		3, 3, 4, 1,
		1, 1, 4, 1,
	})
	src.DataType = raster.Uint8
	ref := raster.Grid{Width: 2, Height: 2, Transform: raster.NorthUp(0, 4, 2, 2), CRS: crs.Geographic{}}

	out, err := ToMatch(raster.NewMemSource(src), ref, DefaultMatchOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)
	// Bottom-left block ties 3/3 against 1/1 and takes the smaller value.
	assert.Equal(t, []float64{1, 2, 1, 1}, out.Band.Values)
	assert.Equal(t, raster.Uint8, out.DataType)
	assert.Equal(t, ref.Transform, out.Transform)
}

func TestToMatch_FinerGridFallsBackToNearest(t *testing.T) {
	src := geoRaster(t, 2, 1, 0, 1, 1, []float64{5, 6})
	ref := raster.Grid{Width: 4, Height: 2, Transform: raster.NorthUp(0, 1, 0.5, 0.5), CRS: crs.Geographic{}}
	out, err := ToMatch(raster.NewMemSource(src), ref, DefaultMatchOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 5, 6, 6, 5, 5, 6, 6}, out.Band.Values)
}

func TestToMatch_NoOverlapIsAllFill(t *testing.T) {
	src := geoRaster(t, 2, 2, 100, 50, 1, []float64{1, 2, 3, 4})
	ref := raster.Grid{Width: 3, Height: 3, Transform: raster.NorthUp(0, 3, 1, 1), CRS: crs.Geographic{}}
	out, err := ToMatch(raster.NewMemSource(src), ref, DefaultMatchOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Band.ValidCount())
	for _, v := range out.Band.Values {
		assert.Equal(t, -9999.0, v)
	}

	src.HasNoData = false
	out, err = ToMatch(raster.NewMemSource(src), ref, DefaultMatchOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 9), out.Band.Values)
	assert.Equal(t, 0, out.Band.ValidCount())
}

func TestToMatch_UncoveredExcludedWithoutNoData(t *testing.T) {
	src := geoRaster(t, 2, 2, 0, 2, 1, []float64{0, 1, 2, 3})
	src.HasNoData = false
	ref := raster.Grid{Width: 4, Height: 2, Transform: raster.NorthUp(0, 2, 1, 1), CRS: crs.Geographic{}}

	out, err := ToMatch(raster.NewMemSource(src), ref, DefaultMatchOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 0, 2, 3, 0, 0}, out.Band.Values)
	valid := make([]bool, out.Band.Len())
	for i := range valid {
		valid[i] = out.Band.Valid(i)
	}
	// Category 0 from the source stays; the filled columns do not.
	assert.Equal(t, []bool{true, true, false, false, true, true, false, false}, valid)
}

// windowOnly refuses whole-band reads.
type windowOnly struct {
	*raster.MemSource
}

func (windowOnly) ReadBand(int) (*raster.Masked, error) {
	return nil, errors.New("whole band read")
}

func TestToMatch_ReadsOnlyBufferedWindow(t *testing.T) {
	const n = 100
	vals := make([]float64, n*n)
	for i := range vals {
		vals[i] = float64(i)
	}
	src := geoRaster(t, n, n, 0, n, 1, vals)
	ref := raster.Grid{Width: 2, Height: 2, Transform: raster.NorthUp(10, 90, 1, 1), CRS: crs.Geographic{}}

	out, err := ToMatch(windowOnly{raster.NewMemSource(src)}, ref, DefaultMatchOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1010, 1011, 1110, 1111}, out.Band.Values)
	assert.Equal(t, 4, out.Band.ValidCount())
}
