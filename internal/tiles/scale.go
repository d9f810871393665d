package tiles

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/raster"
)

// Byte range used for valid pixels. 0 is reserved for no-data and 255 is
// left unused so the colour ramp never sees it.
const (
	ScaleMin = 1
	ScaleMax = 254
)

// Scale maps the valid values of r linearly from [lo, hi] onto
// ScaleMin..ScaleMax, clamping values outside the range. Excluded pixels
// become 0, which is the no-data value of the result.
func Scale(r *raster.Raster, lo, hi float64) (*raster.Raster, error) {
	if !(hi > lo) {
		return nil, eris.Errorf("tiles: scale range [%g, %g] is empty", lo, hi)
	}
	n := r.Band.Len()
	vals := make([]float64, n)
	k := float64(ScaleMax-ScaleMin) / (hi - lo)
	for i := 0; i < n; i++ {
		if !r.Band.Valid(i) {
			continue
		}
		v := ScaleMin + (r.Band.Values[i]-lo)*k
		vals[i] = min(max(math.Floor(v+0.5), ScaleMin), ScaleMax)
	}
	band, err := raster.NewMasked(r.Band.Width, r.Band.Height, vals)
	if err != nil {
		return nil, err
	}
	band.ExcludeEqual(0)
	return &raster.Raster{
		Band:      band,
		Transform: r.Transform,
		CRS:       r.CRS,
		NoData:    0,
		HasNoData: true,
		DataType:  raster.Uint8,
	}, nil
}
