package tiles

import (
	"math"

	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// TileSize is the edge of a tile in pixels.
const TileSize = 256

// MaxAutoZoom caps AutoZoom.
const MaxAutoZoom = 22

// GroundResolution returns the web-mercator metres per tile pixel at zoom z.
func GroundResolution(z maptile.Zoom) float64 {
	b := maptile.New(0, 0, z).Bound()
	lo := project.WGS84.ToMercator(b.Min)
	hi := project.WGS84.ToMercator(b.Max)
	return math.Abs(hi[0]-lo[0]) / TileSize
}

// AutoZoom returns the lowest zoom whose ground resolution is at least as
// fine as the grid's pixels, measured in web mercator.
func AutoZoom(g raster.Grid) int {
	w, s, e, n := g.Bounds()
	w, s, e, n = crs.TransformBounds(orGeographic(g.CRS), crs.WebMercator{}, w, s, e, n, 21)
	if g.Width <= 0 || g.Height <= 0 || !(e > w) || !(n > s) {
		return 0
	}
	px := math.Min((e-w)/float64(g.Width), (n-s)/float64(g.Height))
	for z := maptile.Zoom(0); z < MaxAutoZoom; z++ {
		if GroundResolution(z) <= px {
			return int(z)
		}
	}
	return MaxAutoZoom
}

func orGeographic(c crs.CRS) crs.CRS {
	if c == nil {
		return crs.Geographic{}
	}
	return c
}
