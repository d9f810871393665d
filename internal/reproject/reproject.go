// Package reproject warps rasters between coordinate reference systems.
//
// Continuous rasters use nearest-neighbour resampling only, so no-data
// pixels never bleed into valid ones. Categorical rasters matched onto a
// reference grid use mode resampling.
package reproject

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// edgeSamples is the number of points sampled along each source edge when
// estimating the destination extent.
const edgeSamples = 21

// DefaultGrid returns the north-up destination grid for warping src into
// dst. The extent encloses the transformed source edges and the square
// pixel size preserves the source diagonal in pixels.
func DefaultGrid(src raster.Grid, dst crs.CRS) (raster.Grid, error) {
	if src.Width <= 0 || src.Height <= 0 {
		return raster.Grid{}, eris.New("reproject: empty source grid")
	}
	toDst := crs.Transformer(src.CRS, dst)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	add := func(col, row float64) {
		x, y := src.Transform.Apply(col, row)
		x, y = toDst(x, y)
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			return
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	w, h := float64(src.Width), float64(src.Height)
	for i := 0; i < edgeSamples; i++ {
		f := float64(i) / float64(edgeSamples-1)
		add(f*w, 0)
		add(f*w, h)
		add(0, f*h)
		add(w, f*h)
	}
	if minX >= maxX || minY >= maxY {
		return raster.Grid{}, eris.Errorf("reproject: source does not map into %s", dst)
	}

	diag := math.Hypot(maxX-minX, maxY-minY)
	res := diag / math.Hypot(w, h)
	width := max(int(math.Floor((maxX-minX)/res+0.5)), 1)
	height := max(int(math.Floor((maxY-minY)/res+0.5)), 1)
	return raster.Grid{
		Width:     width,
		Height:    height,
		Transform: raster.NorthUp(minX, maxY, res, res),
		CRS:       dst,
	}, nil
}

// Reproject resamples r onto dst with nearest-neighbour sampling. Excluded
// pixels are filled with the raster's fill value before warping and the
// exclusion set of the result is re-derived by equality to that value, so
// destination pixels mapping outside the source are excluded too.
func Reproject(r *raster.Raster, dst raster.Grid) (*raster.Raster, error) {
	inv, err := r.Transform.Invert()
	if err != nil {
		return nil, eris.Wrap(err, "reproject: source transform")
	}
	fill := r.Fill()
	src := r.Band.Filled(fill)
	toSrc := crs.Transformer(dst.CRS, r.CRS)

	values := make([]float64, dst.Width*dst.Height)
	sw, sh := r.Band.Width, r.Band.Height
	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			x, y := dst.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			x, y = toSrc(x, y)
			sc, sr := inv.Apply(x, y)
			v := fill
			if !math.IsNaN(sc) && !math.IsNaN(sr) {
				ic, ir := int(math.Floor(sc)), int(math.Floor(sr))
				if ic >= 0 && ic < sw && ir >= 0 && ir < sh {
					v = src[ir*sw+ic]
				}
			}
			values[row*dst.Width+col] = v
		}
	}

	band, err := raster.NewMasked(dst.Width, dst.Height, values)
	if err != nil {
		return nil, err
	}
	band.ExcludeEqual(fill)
	return &raster.Raster{
		Band:      band,
		Transform: dst.Transform,
		CRS:       dst.CRS,
		NoData:    r.NoData,
		HasNoData: r.HasNoData,
		DataType:  r.DataType,
	}, nil
}

// ToCRS warps r into dst on the default grid.
func ToCRS(r *raster.Raster, dst crs.CRS) (*raster.Raster, error) {
	grid, err := DefaultGrid(r.Grid(), dst)
	if err != nil {
		return nil, err
	}
	return Reproject(r, grid)
}
