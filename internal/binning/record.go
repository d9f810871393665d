package binning

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/raster"
)

// Record is the binned area of one region, in km². Slices have one entry
// per reported bin.
type Record struct {
	AreaByBin           []float64
	AreaByBinInPA       []float64
	AreaByBinNotInPA    []float64
	AreaByLandUseAndBin map[int][]float64
}

// Total sums AreaByBin.
func (r *Record) Total() float64 { return sum(r.AreaByBin) }

// LandUseCategories lists the cross-tab keys in ascending order.
func (r *Record) LandUseCategories() []int {
	keys := make([]int, 0, len(r.AreaByLandUseAndBin))
	for k := range r.AreaByLandUseAndBin {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Aggregate bins data and its protected-area view and cross-tabulates the
// bins against land use. pa must share data's grid and exclude at least
// what data excludes; landuse may be nil. Boundaries are cast to data's
// type first. Pixel area comes from data's transform.
func Aggregate(data, pa, landuse *raster.Raster, bins Bins, log *zap.Logger) (*Record, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := bins.Validate(); err != nil {
		return nil, err
	}
	n := data.Band.Len()
	if pa.Band.Len() != n {
		return nil, eris.Errorf("binning: protected-area view has %d pixels, data has %d", pa.Band.Len(), n)
	}
	if landuse != nil && landuse.Band.Len() != n {
		return nil, eris.Errorf("binning: land use has %d pixels, data has %d", landuse.Band.Len(), n)
	}

	b := bins.Cast(data.DataType)
	pxArea := data.Transform.PixelAreaKm2()

	idx := b.Digitize(data.Band)
	counts, outside := b.Counts(idx)
	countsPA, _ := b.Counts(b.Digitize(pa.Band))
	if outside > 0 {
		log.Warn("raster values fall outside the bins",
			zap.Int("pixels", outside),
			zap.Float64s("bins", b),
		)
	}

	rec := &Record{
		AreaByBin:           make([]float64, b.N()),
		AreaByBinInPA:       make([]float64, b.N()),
		AreaByBinNotInPA:    make([]float64, b.N()),
		AreaByLandUseAndBin: map[int][]float64{},
	}
	for i := range counts {
		rec.AreaByBin[i] = float64(counts[i]) * pxArea
		rec.AreaByBinInPA[i] = float64(countsPA[i]) * pxArea
		rec.AreaByBinNotInPA[i] = float64(counts[i]-countsPA[i]) * pxArea
	}

	if landuse != nil {
		tab := map[int][]int{}
		for i, k := range idx {
			if k == Excluded || !landuse.Band.Valid(i) {
				continue
			}
			v := landuse.Band.Values[i]
			if math.IsNaN(v) {
				continue
			}
			cat := int(v)
			if tab[cat] == nil {
				tab[cat] = make([]int, b.N())
			}
			if k >= 1 && k <= b.N() {
				tab[cat][k-1]++
			}
		}
		for cat, c := range tab {
			areas := make([]float64, len(c))
			for i, n := range c {
				areas[i] = float64(n) * pxArea
			}
			rec.AreaByLandUseAndBin[cat] = areas
		}
	}

	log.Debug("binned",
		zap.Float64("total_km2", rec.Total()),
		zap.Float64("in_pa_km2", sum(rec.AreaByBinInPA)),
		zap.Float64("not_in_pa_km2", sum(rec.AreaByBinNotInPA)),
		zap.Int("landuse_categories", len(rec.AreaByLandUseAndBin)),
	)
	return rec, nil
}

func sum(vs []float64) float64 {
	var s float64
	for _, v := range vs {
		s += v
	}
	return s
}
