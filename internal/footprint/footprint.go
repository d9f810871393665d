// Package footprint traces the outline of a raster's valid pixels.
package footprint

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/polygon"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// Directions in pixel space, where rows grow downwards. Turning right is +1.
const (
	east = iota
	south
	west
	north
)

var step = [4][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

type edge struct {
	x, y int // start vertex on the pixel-corner lattice
	dir  int
}

// Extract returns the valid pixels of band as a multipolygon in world
// coordinates. Shells are counter-clockwise and holes clockwise. Pixels
// that touch only at a corner become separate polygons, and vertices on
// straight runs are dropped. A band with no valid pixels yields an empty
// multipolygon.
func Extract(band *raster.Masked, t raster.Affine) (*geom.MultiPolygon, error) {
	w, h := band.Width, band.Height
	valid := func(c, r int) bool {
		return c >= 0 && c < w && r >= 0 && r < h && band.Valid(r*w+c)
	}

	var edges []edge
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			if !valid(c, r) {
				continue
			}
			if !valid(c, r-1) {
				edges = append(edges, edge{c, r, east})
			}
			if !valid(c+1, r) {
				edges = append(edges, edge{c + 1, r, south})
			}
			if !valid(c, r+1) {
				edges = append(edges, edge{c + 1, r + 1, west})
			}
			if !valid(c-1, r) {
				edges = append(edges, edge{c, r + 1, north})
			}
		}
	}
	if len(edges) == 0 {
		return polygon.Empty(), nil
	}

	// At most two boundary edges leave any lattice vertex.
	stride := w + 1
	out := make(map[int][2]int, len(edges))
	for i, e := range edges {
		k := e.y*stride + e.x
		slots := out[k]
		switch {
		case slots[0] == 0:
			slots[0] = i + 1
		case slots[1] == 0:
			slots[1] = i + 1
		default:
			return nil, eris.Errorf("footprint: more than two edges leave vertex (%d, %d)", e.x, e.y)
		}
		out[k] = slots
	}

	next := func(e edge) (int, bool) {
		x, y := e.x+step[e.dir][0], e.y+step[e.dir][1]
		slots := out[y*stride+x]
		// Prefer turning right so diagonal neighbours stay apart.
		for _, d := range [3]int{(e.dir + 1) % 4, e.dir, (e.dir + 3) % 4} {
			for _, s := range slots {
				if s != 0 && edges[s-1].dir == d {
					return s - 1, true
				}
			}
		}
		return 0, false
	}

	used := make([]bool, len(edges))
	var rings []polygon.Ring
	for start := range edges {
		if used[start] {
			continue
		}
		var ring polygon.Ring
		i := start
		for !used[i] {
			used[i] = true
			e := edges[i]
			j, ok := next(e)
			if !ok {
				return nil, eris.Errorf("footprint: open boundary at (%d, %d)", e.x, e.y)
			}
			// Keep only vertices where the direction changes.
			if edges[j].dir != e.dir {
				ex, ey := e.x+step[e.dir][0], e.y+step[e.dir][1]
				x, y := t.Apply(float64(ex), float64(ey))
				ring = append(ring, x, y)
			}
			i = j
		}
		if i != start {
			return nil, eris.New("footprint: boundary does not close")
		}
		rings = append(rings, ring)
	}

	mp, err := polygon.AssembleRings(rings)
	if err != nil {
		return nil, eris.Wrap(err, "footprint: assemble")
	}
	return mp, nil
}
