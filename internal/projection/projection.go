// Package projection picks an equal-area projection centred on a raster's
// valid footprint.
package projection

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/polygon"
)

// ErrInvalidPolygon is returned for empty or malformed footprints.
var ErrInvalidPolygon = eris.New("projection: invalid or empty polygon")

// Options controls the centroid refinement.
type Options struct {
	Tolerance     float64 // degrees, applied to both longitude and latitude
	MaxIterations int
}

// DefaultOptions are the values used by the analysis pipeline.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-3, MaxIterations: 10}
}

// Selection is the chosen projection and the centroid it is centred on.
type Selection struct {
	CRS        *crs.LAEA
	Lon, Lat   float64
	Iterations int
	Converged  bool
}

// TrueCentroid estimates the geographic centroid of footprint by repeatedly
// projecting it into a Lambert azimuthal equal-area projection centred on
// the current estimate and inverting the planar centroid. When the
// estimate has not settled after MaxIterations the last one is returned.
func TrueCentroid(footprint *geom.MultiPolygon, src crs.CRS, opts Options) (lon, lat float64, iterations int, converged bool, err error) {
	if err := polygon.Validate(footprint); err != nil {
		return 0, 0, 0, false, eris.Wrap(ErrInvalidPolygon, err.Error())
	}
	if src == nil {
		src = crs.Geographic{}
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}

	cx, cy, err := polygon.Centroid(footprint)
	if err != nil {
		return 0, 0, 0, false, eris.Wrap(ErrInvalidPolygon, err.Error())
	}
	lon, lat = crs.Transform(src, crs.Geographic{}, cx, cy)

	for i := 1; i <= opts.MaxIterations; i++ {
		laea := crs.NewLAEA(lat, lon)
		projected := polygon.Transform(footprint, crs.Transformer(src, laea))
		px, py, err := polygon.Centroid(projected)
		if err != nil {
			return 0, 0, i, false, eris.Wrap(err, "projection: projected centroid")
		}
		newLon, newLat := laea.Inverse(px, py)
		if math.IsNaN(newLon) || math.IsNaN(newLat) {
			return 0, 0, i, false, eris.Wrap(ErrInvalidPolygon, "projection: centroid left the projection domain")
		}
		if math.Abs(newLon-lon) < opts.Tolerance && math.Abs(newLat-lat) < opts.Tolerance {
			return newLon, newLat, i, true, nil
		}
		lon, lat = newLon, newLat
	}
	return lon, lat, opts.MaxIterations, false, nil
}

// Select returns a LAEA projection centred on the true centroid of footprint.
func Select(footprint *geom.MultiPolygon, src crs.CRS, opts Options, log *zap.Logger) (Selection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	lon, lat, n, ok, err := TrueCentroid(footprint, src, opts)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{CRS: crs.NewLAEA(lat, lon), Lon: lon, Lat: lat, Iterations: n, Converged: ok}
	log.Info("selected equal-area projection",
		zap.Float64("lon", lon),
		zap.Float64("lat", lat),
		zap.Int("iterations", n),
		zap.Bool("converged", ok),
		zap.String("proj4", sel.CRS.String()),
	)
	return sel, nil
}
