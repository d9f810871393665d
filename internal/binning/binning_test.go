package binning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/sdm-cli/internal/raster"
)

var quarters = Bins{0, 0.25, 0.5, 0.75, 1}

func TestBins_Index(t *testing.T) {
	tests := []struct {
		v    float64
		want int
	}{
		{-0.1, 0},
		{0, 1},
		{0.2499, 1},
		{0.25, 2},
		{0.5, 3},
		{0.75, 4},
		{0.999, 4},
		{1.0, 4},
		{1.01, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quarters.Index(tt.v), "value %v", tt.v)
	}
}

func TestBins_Validate(t *testing.T) {
	assert.NoError(t, quarters.Validate())
	assert.ErrorIs(t, Bins{1}.Validate(), ErrBadBins)
	assert.ErrorIs(t, Bins{0, 0.5, 0.5}.Validate(), ErrBadBins)
	assert.ErrorIs(t, Bins{0, math.NaN()}.Validate(), ErrBadBins)
}

func TestFromPercentile(t *testing.T) {
	b, err := FromPercentile(DefaultFractions, 0.8, 0.93, raster.Float64)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.2, 0.4, 0.6, 0.93}, b, 1e-12)

	// Integer rasters truncate the scaled boundaries.
	b, err = FromPercentile(DefaultFractions, 90, 100, raster.Int16)
	require.NoError(t, err)
	assert.Equal(t, Bins{0, 22, 45, 67, 100}, b)

	_, err = FromPercentile(DefaultFractions, 0, 0, raster.Float32)
	assert.ErrorIs(t, err, ErrBadBins)
}

func TestDigitize_ExcludedStayExcluded(t *testing.T) {
	band := raster.MustMasked(4, 1, []float64{0.1, -9999, 0.6, 1.0})
	band.ExcludeEqual(-9999)
	assert.Equal(t, []int{1, Excluded, 3, 4}, quarters.Digitize(band))
}

func rasterOf(t *testing.T, w, h int, vals []float64, px float64) *raster.Raster {
	t.Helper()
	band := raster.MustMasked(w, h, vals)
	band.ExcludeEqual(-1)
	return &raster.Raster{
		Band:      band,
		Transform: raster.NorthUp(0, 0, px, px),
		NoData:    -1,
		HasNoData: true,
		DataType:  raster.Float64,
	}
}

func TestAggregate_AreaAdditivity(t *testing.T) {
	vals := []float64{
		0.1, 0.3, 0.6, 0.9,
		0.2, -1, 0.55, 1.0,
		0.3, 0.3, 0.8, 0.05,
	}
	data := rasterOf(t, 4, 3, vals, 1000) // 1 km² pixels
	pa := data.Clone()
	require.NoError(t, pa.Band.ExcludeNotSet([]uint8{
		1, 1, 0, 0,
		1, 1, 1, 0,
		0, 0, 1, 1,
	}))
	lu := rasterOf(t, 4, 3, []float64{
		10, 10, 20, 20,
		10, 10, 20, 20,
		30, 30, -1, 30,
	}, 1000)

	rec, err := Aggregate(data, pa, lu, quarters, zap.NewNop())
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{3, 3, 2, 3}, rec.AreaByBin, 1e-9)
	assert.InDeltaSlice(t, []float64{3, 1, 1, 1}, rec.AreaByBinInPA, 1e-9)
	for i := range rec.AreaByBin {
		assert.InDelta(t, rec.AreaByBin[i], rec.AreaByBinInPA[i]+rec.AreaByBinNotInPA[i], 1e-9)
	}
	assert.InDelta(t, float64(data.Band.ValidCount()), rec.Total(), 1e-9)

	assert.Equal(t, []int{10, 20, 30}, rec.LandUseCategories())
	assert.InDeltaSlice(t, []float64{2, 1, 0, 0}, rec.AreaByLandUseAndBin[10], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 0, 2, 2}, rec.AreaByLandUseAndBin[20], 1e-9)
	assert.InDeltaSlice(t, []float64{1, 2, 0, 0}, rec.AreaByLandUseAndBin[30], 1e-9)

	// The cross-tab only loses pixels that land use excludes.
	var crossTotal float64
	for _, areas := range rec.AreaByLandUseAndBin {
		for _, a := range areas {
			crossTotal += a
		}
	}
	assert.InDelta(t, rec.Total()-1, crossTotal, 1e-9)
}

func TestAggregate_WarnsOutsideBins(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	data := rasterOf(t, 3, 1, []float64{-0.5, 0.5, 2}, 1000)
	rec, err := Aggregate(data, data, nil, quarters, zap.New(core))
	require.NoError(t, err)
	assert.InDelta(t, 1, rec.Total(), 1e-9)
	assert.Empty(t, rec.AreaByLandUseAndBin)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, int64(2), logs.All()[0].ContextMap()["pixels"])
}

func TestAggregate_ShapeMismatch(t *testing.T) {
	a := rasterOf(t, 2, 1, []float64{0.1, 0.2}, 1000)
	b := rasterOf(t, 1, 1, []float64{0.1}, 1000)
	_, err := Aggregate(a, b, nil, quarters, nil)
	assert.Error(t, err)
	_, err = Aggregate(a, a, b, quarters, nil)
	assert.Error(t, err)
}
