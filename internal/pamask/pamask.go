// Package pamask rasterizes protected areas onto a raster grid.
package pamask

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/polygon"
	"github.com/sells-group/sdm-cli/internal/raster"
	"github.com/sells-group/sdm-cli/internal/vector"
)

// Options names the protected-area attributes used for filtering.
type Options struct {
	CountryField string
	MarineField  string
	MarineValues []string
}

// DefaultOptions keeps terrestrial and coastal areas of the WDPA schema.
func DefaultOptions() Options {
	return Options{
		CountryField: "iso3",
		MarineField:  "MARINE",
		MarineValues: []string{"0", "1"},
	}
}

// Mask is 1 where a pixel centre lies inside a protected area, 0 elsewhere.
type Mask struct {
	Values []uint8
	Width  int
	Height int
}

// Protected reports whether pixel i is protected.
func (m *Mask) Protected(i int) bool { return m.Values[i] == 1 }

// Count is the number of protected pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Values {
		n += int(v)
	}
	return n
}

// Window returns the part of the mask under w. Pixels of w outside the
// mask are 0.
func (m *Mask) Window(w raster.Window) []uint8 {
	out := make([]uint8, max(w.Width, 0)*max(w.Height, 0))
	for r := 0; r < w.Height; r++ {
		sr := w.RowOff + r
		if sr < 0 || sr >= m.Height {
			continue
		}
		for c := 0; c < w.Width; c++ {
			sc := w.ColOff + c
			if sc < 0 || sc >= m.Width {
				continue
			}
			out[r*w.Width+c] = m.Values[sr*m.Width+sc]
		}
	}
	return out
}

// Build queries the protected areas of the given countries, dissolves them
// and rasterizes the result on grid.
func Build(ctx context.Context, src vector.Source, countries []string, grid raster.Grid, opts Options, log *zap.Logger) (*Mask, error) {
	if log == nil {
		log = zap.NewNop()
	}
	q := vector.Query{Where: []vector.Predicate{
		vector.In(opts.CountryField, countries...),
		vector.In(opts.MarineField, opts.MarineValues...),
	}}
	features, err := src.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "pamask: query protected areas")
	}

	parts := make([]*geom.MultiPolygon, 0, len(features))
	for _, f := range features {
		parts = append(parts, f.Geometry)
	}
	dissolved, err := polygon.Union(parts...)
	if err != nil {
		return nil, eris.Wrap(err, "pamask: dissolve")
	}

	srcCRS := src.CRS()
	if srcCRS == nil {
		srcCRS = crs.Geographic{}
	}
	dstCRS := grid.CRS
	if dstCRS == nil {
		dstCRS = crs.Geographic{}
	}
	projected := polygon.Transform(dissolved, crs.Transformer(srcCRS, dstCRS))

	values, err := polygon.RasterizeUint8(projected, grid.Width, grid.Height, grid.Transform)
	if err != nil {
		return nil, eris.Wrap(err, "pamask: rasterize")
	}
	m := &Mask{Values: values, Width: grid.Width, Height: grid.Height}
	log.Debug("protected-area mask built",
		zap.Int("areas", len(features)),
		zap.Int("protected_pixels", m.Count()),
	)
	return m, nil
}
