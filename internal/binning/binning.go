// Package binning digitizes suitability values into bins and aggregates
// the binned area inside and outside protected areas and per land-use
// category.
package binning

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/raster"
)

// Excluded is the bin index of excluded pixels.
const Excluded = -1

// ErrBadBins is returned for fewer than two boundaries or boundaries that
// do not strictly increase.
var ErrBadBins = eris.New("binning: boundaries must strictly increase")

// Bins are ascending boundaries b[0] < ... < b[n-1]. Bin i (1 <= i < n)
// holds b[i-1] <= v < b[i]; the last bin also holds v == b[n-1]. Bin 0
// holds values below b[0] and bin n values above b[n-1]; neither is
// reported.
type Bins []float64

// DefaultFractions split the range from zero to the reference value into
// quarters.
var DefaultFractions = []float64{0, 0.25, 0.5, 0.75, 1}

// FromPercentile scales fractions by ref (usually the 99th percentile),
// casts them to dt and replaces the last boundary with maxValue, so the
// top bin reaches the raster maximum.
func FromPercentile(fractions []float64, ref, maxValue float64, dt raster.DataType) (Bins, error) {
	if len(fractions) < 2 {
		return nil, eris.Wrap(ErrBadBins, "binning: need at least two fractions")
	}
	b := make(Bins, len(fractions))
	for i, f := range fractions {
		b[i] = dt.Cast(f * ref)
	}
	b[len(b)-1] = maxValue
	return b, b.Validate()
}

// Validate checks the boundaries.
func (b Bins) Validate() error {
	if len(b) < 2 {
		return eris.Wrap(ErrBadBins, "binning: need at least two boundaries")
	}
	for i := 1; i < len(b); i++ {
		if !(b[i] > b[i-1]) {
			return eris.Wrapf(ErrBadBins, "binning: %v", []float64(b))
		}
	}
	return nil
}

// N is the number of reported bins.
func (b Bins) N() int { return len(b) - 1 }

// Cast converts every boundary to dt.
func (b Bins) Cast(dt raster.DataType) Bins {
	out := make(Bins, len(b))
	for i, v := range b {
		out[i] = dt.Cast(v)
	}
	return out
}

// Index returns the bin of v.
func (b Bins) Index(v float64) int {
	last := len(b) - 1
	if v == b[last] {
		return last
	}
	// First boundary strictly greater than v.
	return sort.Search(len(b), func(i int) bool { return b[i] > v })
}

// Digitize bins every pixel of band. Excluded pixels get Excluded.
func (b Bins) Digitize(band *raster.Masked) []int {
	out := make([]int, band.Len())
	for i, v := range band.Values {
		if !band.Valid(i) || math.IsNaN(v) {
			out[i] = Excluded
			continue
		}
		out[i] = b.Index(v)
	}
	return out
}

// Counts tallies reported bins; entry i-1 is the count of bin i. The
// second result is the number of valid pixels outside every bin.
func (b Bins) Counts(idx []int) ([]int, int) {
	counts := make([]int, b.N())
	outside := 0
	for _, k := range idx {
		switch {
		case k == Excluded:
		case k >= 1 && k <= b.N():
			counts[k-1]++
		default:
			outside++
		}
	}
	return counts, outside
}
