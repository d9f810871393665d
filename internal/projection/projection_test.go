package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap/zaptest"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/polygon"
)

func box(t *testing.T, x0, y0, x1, y1 float64) *geom.MultiPolygon {
	t.Helper()
	mp := polygon.Empty()
	require.NoError(t, mp.Push(geom.NewPolygonFlat(geom.XY,
		[]float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}, []int{10})))
	return mp
}

func TestTrueCentroid_SymmetricAboutEquator(t *testing.T) {
	lon, lat, n, ok, err := TrueCentroid(box(t, -1, -1, 1, 1), crs.Geographic{}, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.LessOrEqual(t, n, 10)
	assert.InDelta(t, 0, lon, 1e-9)
	assert.InDelta(t, 0, lat, 1e-9)
}

func TestTrueCentroid_MidLatitude(t *testing.T) {
	lon, lat, _, ok, err := TrueCentroid(box(t, 5, 40, 15, 50), crs.Geographic{}, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 10, lon, 1e-6)
	// Equal-area weighting pulls the centre south of the box midpoint.
	assert.Less(t, lat, 45.0)
	assert.Greater(t, lat, 44.5)
}

func TestTrueCentroid_ProjectedInput(t *testing.T) {
	geo := box(t, 20, -10, 30, 0)
	moll := polygon.Transform(geo, crs.Transformer(crs.Geographic{}, crs.Mollweide{}))

	lonG, latG, _, _, err := TrueCentroid(geo, crs.Geographic{}, DefaultOptions())
	require.NoError(t, err)
	lonM, latM, _, _, err := TrueCentroid(moll, crs.Mollweide{}, DefaultOptions())
	require.NoError(t, err)
	// Only the starting estimate differs between the two inputs.
	assert.InDelta(t, lonG, lonM, 2e-3)
	assert.InDelta(t, latG, latM, 2e-3)
}

func TestTrueCentroid_NotConvergedReturnsLastEstimate(t *testing.T) {
	lon, lat, n, ok, err := TrueCentroid(box(t, 5, 40, 15, 50), crs.Geographic{}, Options{Tolerance: 1e-300, MaxIterations: 2})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 10, lon, 1e-6)
	assert.InDelta(t, 44.9, lat, 0.5)
}

func TestTrueCentroid_Invalid(t *testing.T) {
	_, _, _, _, err := TrueCentroid(polygon.Empty(), crs.Geographic{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidPolygon)

	_, _, _, _, err = TrueCentroid(nil, crs.Geographic{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidPolygon)
}

func TestSelect(t *testing.T) {
	sel, err := Select(box(t, -1, -1, 1, 1), crs.Geographic{}, DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.InDelta(t, 0, sel.CRS.Lat0, 1e-9)
	assert.InDelta(t, 0, sel.CRS.Lon0, 1e-9)
	assert.Equal(t, sel.Lat, sel.CRS.Lat0)
	assert.True(t, sel.Converged)
}
