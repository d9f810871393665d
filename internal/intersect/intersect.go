// Package intersect finds the regions a raster footprint overlaps and
// measures each overlap on an equal-area projection.
package intersect

import (
	"cmp"
	"slices"

	ctgeom "github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/polygon"
	"github.com/sells-group/sdm-cli/internal/vector"
)

// DefaultDiscardFraction is the threshold below which both overlap
// fractions must fall for a region to be discarded.
const DefaultDiscardFraction = 0.01

// Options controls Find.
type Options struct {
	IDField         string
	NameField       string
	DiscardFraction float64
}

// Result is one region's overlap with the footprint. Areas are km².
// Geometry is the overlap itself, in Mollweide.
type Result struct {
	ID              string
	Name            string
	Feature         vector.Feature
	Geometry        *geom.MultiPolygon
	IntersectionKm2 float64
	PolygonKm2      float64
	FracOfPolygon   float64
	FracOfRaster    float64
	Discard         bool
}

// candidate is a region's Mollweide geometry as stored in the R-tree.
type candidate struct {
	ctgeom.MultiPolygon
	idx int
	mp  *geom.MultiPolygon
}

func boundsOf(mp *geom.MultiPolygon) *ctgeom.Bounds {
	minX, minY, maxX, maxY := polygon.Bounds(mp)
	return &ctgeom.Bounds{
		Min: ctgeom.Point{X: minX, Y: minY},
		Max: ctgeom.Point{X: maxX, Y: maxY},
	}
}

// Find intersects the footprint with every region. Both are projected to
// Mollweide first. Regions with no areal overlap are skipped; the rest are
// returned sorted by overlap area, largest first, with Discard set when
// both fractions fall below the discard threshold. The report is logged.
func Find(footprint *geom.MultiPolygon, footprintCRS crs.CRS, regions []vector.Feature, regionCRS crs.CRS, opts Options, log *zap.Logger) ([]Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DiscardFraction == 0 {
		opts.DiscardFraction = DefaultDiscardFraction
	}
	moll := crs.Mollweide{}

	fp := polygon.Transform(footprint, crs.Transformer(orGeographic(footprintCRS), moll))
	fpArea := polygon.Area(fp)
	if fpArea == 0 {
		return nil, eris.New("intersect: footprint has no area")
	}
	fpBounds := boundsOf(fp)

	toMoll := crs.Transformer(orGeographic(regionCRS), moll)
	tree := rtree.NewTree(25, 50)
	for i, r := range regions {
		if r.Geometry == nil || r.Geometry.NumPolygons() == 0 {
			continue
		}
		mp := polygon.Transform(r.Geometry, toMoll)
		tree.Insert(&candidate{MultiPolygon: polygon.ToClip(mp), idx: i, mp: mp})
	}

	var results []Result
	for _, hit := range tree.SearchIntersect(fpBounds) {
		c := hit.(*candidate)
		g, err := polygon.Intersection(fp, c.mp)
		if err != nil {
			return nil, eris.Wrap(err, "intersect: clip")
		}
		if g == nil {
			continue
		}
		inter, err := polygon.PolygonalPart(g)
		if err != nil {
			return nil, eris.Wrapf(err, "intersect: region %q", regions[c.idx].Get(opts.IDField))
		}
		interArea := polygon.Area(inter)
		if interArea == 0 {
			continue
		}
		polyArea := polygon.Area(c.mp)
		r := Result{
			ID:              regions[c.idx].Get(opts.IDField),
			Name:            regions[c.idx].Get(opts.NameField),
			Feature:         regions[c.idx],
			Geometry:        inter,
			IntersectionKm2: interArea / 1e6,
			PolygonKm2:      polyArea / 1e6,
			FracOfPolygon:   interArea / polyArea,
			FracOfRaster:    interArea / fpArea,
		}
		r.Discard = Discarded(r.FracOfPolygon, r.FracOfRaster, opts.DiscardFraction)
		results = append(results, r)
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.IntersectionKm2, a.IntersectionKm2); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	report(log, results)
	return results, nil
}

// Discarded reports whether an overlap is too small to keep: both the
// share of the region and the share of the raster are below threshold.
func Discarded(fracOfPolygon, fracOfRaster, threshold float64) bool {
	return fracOfPolygon < threshold && fracOfRaster < threshold
}

// Kept filters out discarded results.
func Kept(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if !r.Discard {
			out = append(out, r)
		}
	}
	return out
}

// IDs lists the result IDs in order.
func IDs(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func report(log *zap.Logger, results []Result) {
	log.Info("intersection report", zap.Int("regions", len(results)))
	for _, r := range results {
		log.Info("intersection",
			zap.String("id", r.ID),
			zap.String("name", r.Name),
			zap.Float64("intersection_km2", r.IntersectionKm2),
			zap.Float64("area_km2", r.PolygonKm2),
			zap.Float64("pct_of_poly", 100*r.FracOfPolygon),
			zap.Float64("pct_of_raster", 100*r.FracOfRaster),
			zap.Bool("discard", r.Discard),
		)
	}
}

func orGeographic(c crs.CRS) crs.CRS {
	if c == nil {
		return crs.Geographic{}
	}
	return c
}
