package reproject

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// MatchOptions controls ToMatch.
type MatchOptions struct {
	// Buffer widens the source window around the reference extent, in
	// source CRS units.
	Buffer float64
	Band   int
}

// DefaultMatchOptions reads band 1 with a one-degree buffer.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{Buffer: 1.0, Band: 1}
}

// ToMatch resamples a categorical raster onto the reference grid using the
// most common valid source value under each destination pixel, falling back
// to the nearest source pixel when no source centre falls inside it. Only
// the buffered window of the source around the reference extent is read.
// Pixels with no valid source value are filled and excluded whether or not
// the source declares a no-data value.
func ToMatch(src raster.Source, ref raster.Grid, opts MatchOptions, log *zap.Logger) (*raster.Raster, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Band == 0 {
		opts.Band = 1
	}
	nodata, hasNoData := src.NoData()
	fill := 0.0
	if hasNoData {
		fill = nodata
	}
	out := &raster.Raster{
		Transform: ref.Transform,
		CRS:       ref.CRS,
		NoData:    nodata,
		HasNoData: hasNoData,
		DataType:  src.DataType(),
	}
	allFill := func() (*raster.Raster, error) {
		vals := make([]float64, ref.Width*ref.Height)
		for i := range vals {
			vals[i] = fill
		}
		band, err := raster.NewMasked(ref.Width, ref.Height, vals)
		if err != nil {
			return nil, err
		}
		band.ExcludeWhere(func(float64) bool { return true })
		out.Band = band
		return out, nil
	}

	w, s, e, n := ref.Bounds()
	w, s, e, n = crs.TransformBounds(ref.CRS, src.CRS(), w, s, e, n, edgeSamples)
	fw, err := raster.WindowFromBounds(src.Transform(),
		w-opts.Buffer, s-opts.Buffer, e+opts.Buffer, n+opts.Buffer)
	if err != nil {
		return nil, err
	}
	win := fw.Outer().Intersect(src.Width(), src.Height())
	if win.Empty() {
		log.Warn("reference extent does not overlap the categorical raster; using fill value",
			zap.Float64("fill", fill))
		return allFill()
	}

	sub, err := src.ReadWindow(opts.Band, win)
	if err != nil {
		return nil, err
	}
	subT := src.Transform().Shift(win.ColOff, win.RowOff)
	inv, err := subT.Invert()
	if err != nil {
		return nil, err
	}
	toSrc := crs.Transformer(ref.CRS, src.CRS())

	toPixel := func(col, row float64) (float64, float64) {
		x, y := ref.Transform.Apply(col, row)
		x, y = toSrc(x, y)
		return inv.Apply(x, y)
	}

	values := make([]float64, ref.Width*ref.Height)
	uncovered := make([]bool, len(values))
	counts := make(map[float64]int)
	for row := 0; row < ref.Height; row++ {
		for col := 0; col < ref.Width; col++ {
			c, r := float64(col), float64(row)
			minC, minR := math.Inf(1), math.Inf(1)
			maxC, maxR := math.Inf(-1), math.Inf(-1)
			for _, p := range [][2]float64{{c, r}, {c + 1, r}, {c, r + 1}, {c + 1, r + 1}} {
				sc, sr := toPixel(p[0], p[1])
				minC, maxC = math.Min(minC, sc), math.Max(maxC, sc)
				minR, maxR = math.Min(minR, sr), math.Max(maxR, sr)
			}

			clear(counts)
			// Source pixels whose centre lies inside the destination
			// pixel's footprint.
			c0 := max(int(math.Ceil(minC-0.5)), 0)
			c1 := min(int(math.Ceil(maxC-0.5)), sub.Width)
			r0 := max(int(math.Ceil(minR-0.5)), 0)
			r1 := min(int(math.Ceil(maxR-0.5)), sub.Height)
			for sr := r0; sr < r1; sr++ {
				for sc := c0; sc < c1; sc++ {
					if v, ok := sub.At(sr, sc); ok {
						counts[v]++
					}
				}
			}

			v, ok := fill, false
			if len(counts) > 0 {
				v, ok = mode(counts), true
			} else if sc, sr := toPixel(c+0.5, r+0.5); !math.IsNaN(sc) && !math.IsNaN(sr) {
				ic, ir := int(math.Floor(sc)), int(math.Floor(sr))
				if ic >= 0 && ic < sub.Width && ir >= 0 && ir < sub.Height {
					if sv, valid := sub.At(ir, ic); valid {
						v, ok = sv, true
					}
				}
			}
			i := row*ref.Width + col
			values[i] = v
			uncovered[i] = !ok
		}
	}

	m, err := raster.NewMasked(ref.Width, ref.Height, values)
	if err != nil {
		return nil, err
	}
	if err := m.Exclude(uncovered); err != nil {
		return nil, err
	}
	out.Band = m
	return out, nil
}

// mode returns the most frequent value, the smallest on ties.
func mode(counts map[float64]int) float64 {
	best, bestN := math.Inf(1), -1
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}
