package polygon

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/raster"
)

// Rasterize burns mp into a width x height grid. A pixel is set when its
// centre lies inside mp (even-odd rule); pixels that are only touched are
// not set.
func Rasterize(mp *geom.MultiPolygon, width, height int, t raster.Affine) ([]bool, error) {
	out := make([]bool, width*height)
	if mp == nil || mp.NumPolygons() == 0 || width == 0 || height == 0 {
		return out, nil
	}
	inv, err := t.Invert()
	if err != nil {
		return nil, err
	}

	type edge struct{ x0, y0, x1, y1 float64 }
	var edges []edge
	for _, r := range Rings(mp) {
		n := len(r) / 2
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			c0, r0 := inv.Apply(r[2*i], r[2*i+1])
			c1, r1 := inv.Apply(r[2*j], r[2*j+1])
			if r0 == r1 {
				continue
			}
			if r0 > r1 {
				c0, r0, c1, r1 = c1, r1, c0, r0
			}
			edges = append(edges, edge{c0, r0, c1, r1})
		}
	}

	xs := make([]float64, 0, 16)
	for row := 0; row < height; row++ {
		y := float64(row) + 0.5
		xs = xs[:0]
		for _, e := range edges {
			if e.y0 <= y && y < e.y1 {
				xs = append(xs, e.x0+(y-e.y0)*(e.x1-e.x0)/(e.y1-e.y0))
			}
		}
		sort.Float64s(xs)
		for k := 0; k+1 < len(xs); k += 2 {
			c0 := max(int(math.Ceil(xs[k]-0.5)), 0)
			c1 := min(int(math.Ceil(xs[k+1]-0.5)), width)
			for c := c0; c < c1; c++ {
				out[row*width+c] = true
			}
		}
	}
	return out, nil
}

// RasterizeUint8 is Rasterize with inside = 1 and outside = 0.
func RasterizeUint8(mp *geom.MultiPolygon, width, height int, t raster.Affine) ([]uint8, error) {
	in, err := Rasterize(mp, width, height, t)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, len(in))
	for i, v := range in {
		if v {
			out[i] = 1
		}
	}
	return out, nil
}
