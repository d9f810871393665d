package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Masked is a row-major band of values with an explicit exclusion set.
//
// The exclusion set only grows: every mutator ORs new exclusions into it and
// nothing clears it. Readers ask Valid; values at excluded positions carry no
// meaning.
type Masked struct {
	Width, Height int
	Values        []float64
	excluded      []bool
}

// NewMasked wraps values (len must be width*height) with an empty exclusion set.
func NewMasked(width, height int, values []float64) (*Masked, error) {
	if width < 0 || height < 0 || len(values) != width*height {
		return nil, eris.Errorf("raster: %d values for a %dx%d band", len(values), width, height)
	}
	return &Masked{Width: width, Height: height, Values: values, excluded: make([]bool, len(values))}, nil
}

// MustMasked is NewMasked for literals in tests and fixtures.
func MustMasked(width, height int, values []float64) *Masked {
	m, err := NewMasked(width, height, values)
	if err != nil {
		panic(err)
	}
	return m
}

// Len is the number of pixels.
func (m *Masked) Len() int { return len(m.Values) }

// Valid reports whether pixel i contributes to statistics.
func (m *Masked) Valid(i int) bool { return !m.excluded[i] }

// At returns the value at (row, col) and whether it is valid.
func (m *Masked) At(row, col int) (float64, bool) {
	i := row*m.Width + col
	return m.Values[i], !m.excluded[i]
}

// Exclude ORs mask into the exclusion set.
func (m *Masked) Exclude(mask []bool) error {
	if len(mask) != len(m.excluded) {
		return eris.Errorf("raster: exclusion mask has %d entries, band has %d", len(mask), len(m.excluded))
	}
	for i, ex := range mask {
		if ex {
			m.excluded[i] = true
		}
	}
	return nil
}

// ExcludeNotSet excludes every pixel whose mask byte is zero.
func (m *Masked) ExcludeNotSet(mask []uint8) error {
	if len(mask) != len(m.excluded) {
		return eris.Errorf("raster: mask has %d entries, band has %d", len(mask), len(m.excluded))
	}
	for i, v := range mask {
		if v == 0 {
			m.excluded[i] = true
		}
	}
	return nil
}

// ExcludeIndex excludes a single pixel.
func (m *Masked) ExcludeIndex(i int) { m.excluded[i] = true }

// ExcludeWhere excludes every pixel whose value satisfies pred.
func (m *Masked) ExcludeWhere(pred func(v float64) bool) {
	for i, v := range m.Values {
		if pred(v) {
			m.excluded[i] = true
		}
	}
}

// ExcludeEqual excludes pixels equal to v. NaN matches NaN.
func (m *Masked) ExcludeEqual(v float64) {
	if math.IsNaN(v) {
		m.ExcludeWhere(math.IsNaN)
		return
	}
	m.ExcludeWhere(func(x float64) bool { return x == v })
}

// ExclusionMask returns a copy of the exclusion set.
func (m *Masked) ExclusionMask() []bool {
	out := make([]bool, len(m.excluded))
	copy(out, m.excluded)
	return out
}

// Clone deep-copies values and exclusions.
func (m *Masked) Clone() *Masked {
	vals := make([]float64, len(m.Values))
	copy(vals, m.Values)
	return &Masked{Width: m.Width, Height: m.Height, Values: vals, excluded: m.ExclusionMask()}
}

// ValidCount is the number of non-excluded pixels.
func (m *Masked) ValidCount() int {
	n := 0
	for _, ex := range m.excluded {
		if !ex {
			n++
		}
	}
	return n
}

// ValidValues returns the values of non-excluded pixels in row-major order.
func (m *Masked) ValidValues() []float64 {
	out := make([]float64, 0, m.ValidCount())
	for i, v := range m.Values {
		if !m.excluded[i] {
			out = append(out, v)
		}
	}
	return out
}

// Filled returns the values with excluded pixels replaced by fill.
func (m *Masked) Filled(fill float64) []float64 {
	out := make([]float64, len(m.Values))
	for i, v := range m.Values {
		if m.excluded[i] {
			out[i] = fill
		} else {
			out[i] = v
		}
	}
	return out
}

// Window copies a sub-window. Pixels of the window that fall outside the
// band are filled with fill and excluded.
func (m *Masked) Window(w Window, fill float64) *Masked {
	out := &Masked{
		Width:    max(w.Width, 0),
		Height:   max(w.Height, 0),
		Values:   make([]float64, max(w.Width, 0)*max(w.Height, 0)),
		excluded: make([]bool, max(w.Width, 0)*max(w.Height, 0)),
	}
	for r := 0; r < out.Height; r++ {
		sr := r + w.RowOff
		for c := 0; c < out.Width; c++ {
			sc := c + w.ColOff
			i := r*out.Width + c
			if sr < 0 || sr >= m.Height || sc < 0 || sc >= m.Width {
				out.Values[i] = fill
				out.excluded[i] = true
				continue
			}
			si := sr*m.Width + sc
			out.Values[i] = m.Values[si]
			out.excluded[i] = m.excluded[si]
		}
	}
	return out
}
