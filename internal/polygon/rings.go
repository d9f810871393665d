package polygon

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Ring is a flat XY coordinate list. It may or may not repeat the first
// point at the end.
type Ring []float64

func (r Ring) closed() Ring {
	n := len(r)
	if n >= 4 && r[0] == r[n-2] && r[1] == r[n-1] {
		return r
	}
	out := make(Ring, n, n+2)
	copy(out, r)
	return append(out, r[0], r[1])
}

func (r Ring) open() Ring {
	n := len(r)
	if n >= 4 && r[0] == r[n-2] && r[1] == r[n-1] {
		return r[:n-2]
	}
	return r
}

// reversed returns the ring with vertex order reversed.
func (r Ring) reversed() Ring {
	out := make(Ring, len(r))
	n := len(r) / 2
	for i := 0; i < n; i++ {
		out[2*i], out[2*i+1] = r[2*(n-1-i)], r[2*(n-1-i)+1]
	}
	return out
}

// samplePoint is a point strictly on the ring's boundary that is unlikely to
// coincide with another ring's vertex: the midpoint of its first edge.
func (r Ring) samplePoint() (float64, float64) {
	return (r[0] + r[2]) / 2, (r[1] + r[3]) / 2
}

// AssembleRings nests simple, non-crossing rings into a multipolygon.
// Rings at even nesting depth become shells (counter-clockwise), rings at
// odd depth become holes (clockwise) of the innermost shell enclosing them.
// Rings with fewer than three distinct vertices or zero area are dropped.
func AssembleRings(rings []Ring) (*geom.MultiPolygon, error) {
	type item struct {
		ring   Ring // open
		area   float64
		depth  int
		parent int
	}
	items := make([]item, 0, len(rings))
	for _, r := range rings {
		o := r.open()
		if len(o) < 6 {
			continue
		}
		a := RingArea(o, 2)
		if a == 0 || math.IsNaN(a) {
			continue
		}
		items = append(items, item{ring: o, area: math.Abs(a), parent: -1})
	}

	// Containers are checked from the smallest up so the first hit at the
	// right depth is the innermost.
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return items[order[a]].area < items[order[b]].area })

	containers := make([][]int, len(items))
	for i := range items {
		px, py := items[i].ring.samplePoint()
		for _, j := range order {
			if j == i || items[j].area <= items[i].area {
				continue
			}
			if ringContains(items[j].ring, 2, px, py) {
				containers[i] = append(containers[i], j)
			}
		}
		items[i].depth = len(containers[i])
	}
	for i := range items {
		for _, j := range containers[i] {
			if items[j].depth == items[i].depth-1 {
				items[i].parent = j
				break
			}
		}
	}

	mp := Empty()
	shellIdx := make(map[int]int)
	var shells []int
	for i, it := range items {
		if it.depth%2 == 0 {
			shellIdx[i] = len(shells)
			shells = append(shells, i)
		}
	}
	holes := make([][]int, len(shells))
	for i, it := range items {
		if it.depth%2 == 1 && it.parent >= 0 {
			k := shellIdx[it.parent]
			holes[k] = append(holes[k], i)
		}
	}
	for k, si := range shells {
		flat := orient(items[si].ring, true).closed()
		ends := []int{len(flat)}
		for _, hi := range holes[k] {
			flat = append(flat, orient(items[hi].ring, false).closed()...)
			ends = append(ends, len(flat))
		}
		if err := mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends)); err != nil {
			return nil, eris.Wrap(err, "polygon: assemble rings")
		}
	}
	return mp, nil
}

func orient(r Ring, ccw bool) Ring {
	if (RingArea(r, 2) > 0) == ccw {
		out := make(Ring, len(r))
		copy(out, r)
		return out
	}
	return r.reversed()
}

// Rings returns every ring of mp as an open flat coordinate list.
func Rings(mp *geom.MultiPolygon) []Ring {
	var out []Ring
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			lr := p.LinearRing(j)
			flat := lr.FlatCoords()
			stride := lr.Stride()
			r := make(Ring, 0, 2*lr.NumCoords())
			for k := 0; k+1 < len(flat); k += stride {
				r = append(r, flat[k], flat[k+1])
			}
			out = append(out, r.open())
		}
	}
	return out
}
