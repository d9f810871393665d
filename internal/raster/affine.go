package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Affine maps pixel (col, row) to world (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C, D, E, F float64
}

// NorthUp builds the common transform with no rotation.
func NorthUp(originX, originY, pixelWidth, pixelHeight float64) Affine {
	return Affine{A: pixelWidth, C: originX, E: -math.Abs(pixelHeight), F: originY}
}

// Apply returns the world coordinate of a pixel position.
func (t Affine) Apply(col, row float64) (float64, float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert returns the world-to-pixel transform.
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Affine{}, eris.New("raster: singular affine transform")
	}
	ia := t.E / det
	ib := -t.B / det
	id := -t.D / det
	ie := t.A / det
	return Affine{
		A: ia, B: ib, C: -t.C*ia - t.F*ib,
		D: id, E: ie, F: -t.C*id - t.F*ie,
	}, nil
}

// IsRectilinear reports whether the transform has no rotation or shear.
func (t Affine) IsRectilinear() bool {
	return t.B == 0 && t.D == 0
}

// PixelAreaKm2 is |a|*|e| converted from square metres.
func (t Affine) PixelAreaKm2() float64 {
	return math.Abs(t.A) * math.Abs(t.E) / 1e6
}

// Shift returns the transform of a window starting at (colOff, rowOff).
func (t Affine) Shift(colOff, rowOff int) Affine {
	x, y := t.Apply(float64(colOff), float64(rowOff))
	out := t
	out.C, out.F = x, y
	return out
}

// ArrayBounds returns (west, south, east, north) of a height x width grid.
func ArrayBounds(height, width int, t Affine) (float64, float64, float64, float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}} {
		x, y := t.Apply(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}

// Window is an integer pixel window.
type Window struct {
	ColOff, RowOff, Width, Height int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

// Intersect clips w to a width x height grid.
func (w Window) Intersect(width, height int) Window {
	c0 := max(w.ColOff, 0)
	r0 := max(w.RowOff, 0)
	c1 := min(w.ColOff+w.Width, width)
	r1 := min(w.RowOff+w.Height, height)
	return Window{ColOff: c0, RowOff: r0, Width: max(c1-c0, 0), Height: max(r1-r0, 0)}
}

// FloatWindow is a fractional window as produced by WindowFromBounds.
type FloatWindow struct {
	ColOff, RowOff, Width, Height float64
}

// WindowFromBounds returns the fractional window covering the given world
// bounds in the grid described by t.
func WindowFromBounds(t Affine, minX, minY, maxX, maxY float64) (FloatWindow, error) {
	inv, err := t.Invert()
	if err != nil {
		return FloatWindow{}, err
	}
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]float64{{minX, maxY}, {maxX, maxY}, {minX, minY}, {maxX, minY}} {
		c, r := inv.Apply(p[0], p[1])
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
		minR, maxR = math.Min(minR, r), math.Max(maxR, r)
	}
	return FloatWindow{ColOff: minC, RowOff: minR, Width: maxC - minC, Height: maxR - minR}, nil
}

// Round rounds offsets and the far edge to the nearest pixel, half to even.
func (w FloatWindow) Round() Window {
	c0 := int(math.RoundToEven(w.ColOff))
	r0 := int(math.RoundToEven(w.RowOff))
	c1 := int(math.RoundToEven(w.ColOff + w.Width))
	r1 := int(math.RoundToEven(w.RowOff + w.Height))
	return Window{ColOff: c0, RowOff: r0, Width: c1 - c0, Height: r1 - r0}
}

// Outer expands the window to whole pixels: floor of the near edge, ceiling
// of the far edge.
func (w FloatWindow) Outer() Window {
	const eps = 1e-9
	c0 := int(math.Floor(w.ColOff + eps))
	r0 := int(math.Floor(w.RowOff + eps))
	c1 := int(math.Ceil(w.ColOff + w.Width - eps))
	r1 := int(math.Ceil(w.RowOff + w.Height - eps))
	return Window{ColOff: c0, RowOff: r0, Width: c1 - c0, Height: r1 - r0}
}
