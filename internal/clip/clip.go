// Package clip cuts rasters to region polygons and applies the
// protected-area mask. Every operation returns a new raster whose exclusion
// set is a superset of its input's.
package clip

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sdm-cli/internal/pamask"
	"github.com/sells-group/sdm-cli/internal/polygon"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// ErrNoOverlap is returned when a polygon's bounds miss the raster.
var ErrNoOverlap = eris.New("clip: polygon does not overlap raster")

// Window returns the pixel window of r covering the bounds of mp, expanded
// to whole pixels and limited to the raster.
func Window(r *raster.Raster, mp *geom.MultiPolygon) (raster.Window, error) {
	if mp == nil || mp.NumPolygons() == 0 {
		return raster.Window{}, ErrNoOverlap
	}
	minX, minY, maxX, maxY := polygon.Bounds(mp)
	fw, err := raster.WindowFromBounds(r.Transform, minX, minY, maxX, maxY)
	if err != nil {
		return raster.Window{}, eris.Wrap(err, "clip: window")
	}
	w := fw.Outer().Intersect(r.Band.Width, r.Band.Height)
	if w.Empty() {
		return raster.Window{}, ErrNoOverlap
	}
	return w, nil
}

// ByPolygon crops r to the window of mp and excludes pixels whose centre
// lies outside mp. mp must be in r's CRS. Pixels outside mp hold the fill
// value, and pixels equal to the no-data value are excluded again.
func ByPolygon(r *raster.Raster, mp *geom.MultiPolygon) (*raster.Raster, error) {
	w, err := Window(r, mp)
	if err != nil {
		return nil, err
	}
	fill := r.Fill()
	band := r.Band.Window(w, fill)
	t := r.Transform.Shift(w.ColOff, w.RowOff)

	inside, err := polygon.Rasterize(mp, w.Width, w.Height, t)
	if err != nil {
		return nil, eris.Wrap(err, "clip: rasterize")
	}
	outside := make([]bool, len(inside))
	for i, in := range inside {
		outside[i] = !in
	}
	if err := band.Exclude(outside); err != nil {
		return nil, err
	}
	for i, out := range outside {
		if out {
			band.Values[i] = fill
		}
	}
	if r.HasNoData {
		band.ExcludeEqual(r.NoData)
	}

	return &raster.Raster{
		Band:      band,
		Transform: t,
		CRS:       r.CRS,
		NoData:    r.NoData,
		HasNoData: r.HasNoData,
		DataType:  r.DataType,
	}, nil
}

// MaskWindow locates a clipped raster inside the grid whose transform is
// parent, rounding offsets and far edges half to even.
func MaskWindow(clipped *raster.Raster, parent raster.Affine) (raster.Window, error) {
	minX, minY, maxX, maxY := raster.ArrayBounds(clipped.Band.Height, clipped.Band.Width, clipped.Transform)
	fw, err := raster.WindowFromBounds(parent, minX, minY, maxX, maxY)
	if err != nil {
		return raster.Window{}, eris.Wrap(err, "clip: mask window")
	}
	return fw.Round(), nil
}

// WithPA returns a copy of a clipped raster with unprotected pixels also
// excluded. parent is the transform of the grid the mask was built on.
func WithPA(clipped *raster.Raster, parent raster.Affine, mask *pamask.Mask) (*raster.Raster, error) {
	w, err := MaskWindow(clipped, parent)
	if err != nil {
		return nil, err
	}
	if w.Width != clipped.Band.Width || w.Height != clipped.Band.Height {
		return nil, eris.Errorf("clip: mask window %dx%d does not match clipped raster %dx%d",
			w.Width, w.Height, clipped.Band.Width, clipped.Band.Height)
	}
	return excludeUnprotected(clipped, mask.Window(w))
}

// WholeWithPA applies the mask to an unclipped raster.
func WholeWithPA(r *raster.Raster, mask *pamask.Mask) (*raster.Raster, error) {
	if mask.Width != r.Band.Width || mask.Height != r.Band.Height {
		return nil, eris.Errorf("clip: mask %dx%d does not match raster %dx%d",
			mask.Width, mask.Height, r.Band.Width, r.Band.Height)
	}
	return excludeUnprotected(r, mask.Values)
}

func excludeUnprotected(r *raster.Raster, mask []uint8) (*raster.Raster, error) {
	out := r.Clone()
	if err := out.Band.ExcludeNotSet(mask); err != nil {
		return nil, eris.Wrap(err, "clip: apply mask")
	}
	return out, nil
}
