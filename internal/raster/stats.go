package raster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// Summary describes the valid pixels of a raster.
type Summary struct {
	Projection   string
	Rows, Cols   int
	Bounds       [4]float64 // west, south, east, north
	FractionNull float64
	Min, Max     float64
	Mean, Median float64
	Percentile   float64 // value at the requested percentile
}

// ErrNoValidPixels is returned when every pixel of a raster is excluded.
var ErrNoValidPixels = eris.New("raster: no valid pixels")

// Summarize computes the summary statistics of r, with the percentile taken
// over valid pixels using linear interpolation.
func Summarize(r *Raster, percentile float64) (Summary, error) {
	vals := r.Band.ValidValues()
	if len(vals) == 0 {
		return Summary{}, ErrNoValidPixels
	}
	sort.Float64s(vals)

	var sum float64
	for _, v := range vals {
		sum += v
	}
	w, s, e, n := ArrayBounds(r.Band.Height, r.Band.Width, r.Transform)
	out := Summary{
		Rows:         r.Band.Height,
		Cols:         r.Band.Width,
		Bounds:       [4]float64{w, s, e, n},
		FractionNull: 1 - float64(len(vals))/float64(r.Band.Len()),
		Min:          vals[0],
		Max:          vals[len(vals)-1],
		Mean:         sum / float64(len(vals)),
		Median:       Percentile(vals, 50),
		Percentile:   Percentile(vals, percentile),
	}
	if r.CRS != nil {
		out.Projection = r.CRS.String()
	}
	return out, nil
}

// Percentile returns the p-th percentile (0..100) of sorted values,
// interpolating linearly between the two nearest ranks. It returns NaN for
// an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	p = math.Max(0, math.Min(100, p))
	idx := p / 100 * float64(n-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
