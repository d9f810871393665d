// Package pipeline runs the per-raster analysis and the per-dataset loop
// that persists its results.
package pipeline

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/binning"
	"github.com/sells-group/sdm-cli/internal/clip"
	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/footprint"
	"github.com/sells-group/sdm-cli/internal/intersect"
	"github.com/sells-group/sdm-cli/internal/pamask"
	"github.com/sells-group/sdm-cli/internal/polygon"
	"github.com/sells-group/sdm-cli/internal/projection"
	"github.com/sells-group/sdm-cli/internal/raster"
	"github.com/sells-group/sdm-cli/internal/reproject"
	"github.com/sells-group/sdm-cli/internal/vector"
)

// Inputs are the reference layers shared by every raster. LandUse and
// ProtectedAreas may be nil.
type Inputs struct {
	Adm0           vector.Source
	Adm1           vector.Source
	ProtectedAreas vector.Source
	LandUse        raster.Source
}

// Options controls the analysis of one raster.
type Options struct {
	Percentile          float64
	BinFractions        []float64
	NullFractionWarning float64
	LandUseBuffer       float64
	Projection          projection.Options
	Adm0                intersect.Options
	Adm1                intersect.Options
	// Adm1CountryField links an admin-1 zone to its country's ISO3 code.
	Adm1CountryField string
	PA               pamask.Options
}

// DefaultOptions returns the standard analysis settings.
func DefaultOptions() Options {
	return Options{
		Percentile:          99,
		BinFractions:        binning.DefaultFractions,
		NullFractionWarning: 0.1,
		LandUseBuffer:       reproject.DefaultMatchOptions().Buffer,
		Projection:          projection.DefaultOptions(),
		Adm0: intersect.Options{
			IDField:         "iso3",
			NameField:       "name",
			DiscardFraction: intersect.DefaultDiscardFraction,
		},
		Adm1: intersect.Options{
			IDField:         "adm1_code",
			NameField:       "name",
			DiscardFraction: intersect.DefaultDiscardFraction,
		},
		Adm1CountryField: "adm0_iso3",
		PA:               pamask.DefaultOptions(),
	}
}

// Analyzer bins one raster band by region, protected-area status and land
// use.
type Analyzer struct {
	in   Inputs
	opts Options
	log  *zap.Logger
}

// NewAnalyzer creates an Analyzer over the shared reference layers.
func NewAnalyzer(in Inputs, opts Options, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{in: in, opts: opts, log: log.With(zap.String("component", "pipeline.analyzer"))}
}

// Analyze runs the full analysis of one band of src.
func (a *Analyzer) Analyze(ctx context.Context, src raster.Source, band int) (*Results, error) {
	log := a.log
	start := time.Now()

	r, err := raster.Read(src, band)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read raster")
	}
	sum, err := raster.Summarize(r, a.opts.Percentile)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: summarize raster")
	}
	if sum.FractionNull < a.opts.NullFractionWarning {
		log.Warn("raster has few no-data pixels; check its no-data value",
			zap.Float64("fraction_null", sum.FractionNull))
	}
	log.Info("raster summary",
		zap.String("projection", sum.Projection),
		zap.Int("rows", sum.Rows),
		zap.Int("cols", sum.Cols),
		zap.Float64("fraction_null", sum.FractionNull),
		zap.Float64("min", sum.Min),
		zap.Float64("max", sum.Max),
		zap.Float64("p99", sum.Percentile),
	)

	fp, err := footprint.Extract(r.Band, r.Transform)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: footprint")
	}

	countries, err := a.regions(ctx, a.in.Adm0, vector.Query{}, fp, r.CRS, a.opts.Adm0)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: country intersections")
	}
	adm0 := sortedIDs(countries)

	var zones []intersect.Result
	if a.in.Adm1 != nil && len(adm0) > 0 {
		q := vector.Query{Where: []vector.Predicate{vector.In(a.opts.Adm1CountryField, adm0...)}}
		zones, err = a.regions(ctx, a.in.Adm1, q, fp, r.CRS, a.opts.Adm1)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: admin-1 intersections")
		}
	}
	adm1 := sortedIDs(zones)
	log.Info("regions intersecting raster", zap.Strings("adm0", adm0), zap.Int("adm1", len(adm1)))

	bins, err := binning.FromPercentile(a.opts.BinFractions, sum.Percentile, sum.Max, r.DataType)
	if err != nil {
		return nil, err
	}

	work := r
	if crs.IsGeographic(r.CRS) {
		geo := *r
		geo.CRS = crs.Geographic{}
		sel, err := projection.Select(fp, geo.CRS, a.opts.Projection, log)
		if err != nil {
			return nil, err
		}
		work, err = reproject.ToCRS(&geo, sel.CRS)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: reproject raster")
		}
	}
	grid := work.Grid()

	var landuse *raster.Raster
	if a.in.LandUse != nil {
		landuse, err = reproject.ToMatch(a.in.LandUse, grid,
			reproject.MatchOptions{Buffer: a.opts.LandUseBuffer, Band: 1}, log)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: match land use")
		}
	}

	mask := &pamask.Mask{Values: make([]uint8, grid.Width*grid.Height), Width: grid.Width, Height: grid.Height}
	if a.in.ProtectedAreas != nil {
		mask, err = pamask.Build(ctx, a.in.ProtectedAreas, adm0, grid, a.opts.PA, log)
		if err != nil {
			return nil, err
		}
	}

	res := NewResults()
	res.Adm0List = adm0
	res.Adm1List = adm1
	res.Summary = sum

	whole, err := clip.WholeWithPA(work, mask)
	if err != nil {
		return nil, err
	}
	rec, err := binning.Aggregate(work, whole, landuse, bins, log)
	if err != nil {
		return nil, err
	}
	res.Add(GroupWhole, WholeID, rec)

	for _, g := range []struct {
		name    string
		results []intersect.Result
	}{{GroupCountry, countries}, {GroupAdm1, zones}} {
		for _, region := range g.results {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec, err := a.region(work, landuse, mask, region, bins)
			if errors.Is(err, clip.ErrNoOverlap) {
				log.Warn("region does not overlap raster grid; skipping",
					zap.String("group", g.name), zap.String("id", region.ID))
				continue
			}
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: %s %s", g.name, region.ID)
			}
			res.Add(g.name, region.ID, rec)
		}
	}

	log.Info("raster analysed",
		zap.Int("countries", len(res.Groups[GroupCountry])),
		zap.Int("adm1_zones", len(res.Groups[GroupAdm1])),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// regions loads the layer's features matching q and keeps those that
// overlap the footprint enough.
func (a *Analyzer) regions(ctx context.Context, src vector.Source, q vector.Query, fp *geom.MultiPolygon, fpCRS crs.CRS, opts intersect.Options) ([]intersect.Result, error) {
	if src == nil {
		return nil, nil
	}
	features, err := src.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	found, err := intersect.Find(fp, fpCRS, features, src.CRS(), opts, a.log)
	if err != nil {
		return nil, err
	}
	return intersect.Kept(found), nil
}

// region clips the working raster and land use to one overlap polygon and
// bins the result.
func (a *Analyzer) region(work, landuse *raster.Raster, mask *pamask.Mask, region intersect.Result, bins binning.Bins) (*binning.Record, error) {
	g := polygon.Transform(region.Geometry, crs.Transformer(crs.Mollweide{}, work.CRS))
	data, err := clip.ByPolygon(work, g)
	if err != nil {
		return nil, err
	}
	pa, err := clip.WithPA(data, work.Transform, mask)
	if err != nil {
		return nil, err
	}
	var lu *raster.Raster
	if landuse != nil {
		if lu, err = clip.ByPolygon(landuse, g); err != nil {
			return nil, err
		}
	}
	return binning.Aggregate(data, pa, lu, bins, a.log)
}

func sortedIDs(results []intersect.Result) []string {
	ids := intersect.IDs(results)
	slices.Sort(ids)
	return slices.Compact(ids)
}
