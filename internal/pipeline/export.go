package pipeline

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/db"
)

// Tables written by Export.
const (
	AreaTable    = "sdm.area_by_bin"
	LandUseTable = "sdm.area_by_landuse"
)

var (
	areaColumns    = []string{"dataset", "grp", "region_id", "bin", "area_km2", "area_in_pa_km2", "area_not_in_pa_km2"}
	landUseColumns = []string{"dataset", "grp", "region_id", "landuse", "bin", "area_km2"}

	areaTable = db.ScopedTable{
		Table:   AreaTable,
		Scope:   "dataset",
		Columns: areaColumns,
		Keys:    []string{"dataset", "grp", "region_id", "bin"},
	}
	landUseTable = db.ScopedTable{
		Table:   LandUseTable,
		Scope:   "dataset",
		Columns: landUseColumns,
		Keys:    []string{"dataset", "grp", "region_id", "landuse", "bin"},
	}
)

const exportSchema = `
CREATE SCHEMA IF NOT EXISTS sdm;
CREATE TABLE IF NOT EXISTS sdm.area_by_bin (
	dataset            TEXT             NOT NULL,
	grp                TEXT             NOT NULL,
	region_id          TEXT             NOT NULL,
	bin                INTEGER          NOT NULL,
	area_km2           DOUBLE PRECISION NOT NULL,
	area_in_pa_km2     DOUBLE PRECISION NOT NULL,
	area_not_in_pa_km2 DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (dataset, grp, region_id, bin)
);
CREATE TABLE IF NOT EXISTS sdm.area_by_landuse (
	dataset   TEXT             NOT NULL,
	grp       TEXT             NOT NULL,
	region_id TEXT             NOT NULL,
	landuse   TEXT             NOT NULL,
	bin       INTEGER          NOT NULL,
	area_km2  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (dataset, grp, region_id, landuse, bin)
);
`

// MigrateExport creates the export tables.
func MigrateExport(ctx context.Context, pool db.Pool) error {
	_, err := pool.Exec(ctx, exportSchema)
	return eris.Wrap(err, "pipeline: migrate export tables")
}

// ExportRows flattens one results document into table rows, ordered by
// group, region, land use and bin.
func ExportRows(datasetKey string, doc *Document) (areas, landuse [][]any) {
	for _, g := range Groups {
		recs := doc.Groups[g]
		ids := make([]string, 0, len(recs))
		for id := range recs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rec := recs[id]
			for i, a := range rec.AreaByBin {
				areas = append(areas, []any{datasetKey, g, id, i, a, at(rec.AreaByBinInPA, i), at(rec.AreaByBinNotInPA, i)})
			}
			cats := make([]string, 0, len(rec.AreaByLandUseAndBin))
			for c := range rec.AreaByLandUseAndBin {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				for i, a := range rec.AreaByLandUseAndBin[c] {
					landuse = append(landuse, []any{datasetKey, g, id, c, i, a})
				}
			}
		}
	}
	return areas, landuse
}

func at(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// Export writes the binned areas of docs to PostgreSQL. Each table ends up
// holding exactly the rows of the current documents for the exported
// datasets: changed rows are updated and rows for regions a dataset no
// longer covers are deleted. It returns the number of rows written.
func Export(ctx context.Context, pool db.Pool, docs map[string]*Document, log *zap.Logger) (int64, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var areas, landuse [][]any
	keys := Keys(docs)
	for _, key := range keys {
		a, l := ExportRows(key, docs[key])
		areas = append(areas, a...)
		landuse = append(landuse, l...)
	}

	ar, err := db.ReplaceScoped(ctx, pool, areaTable, keys, areas)
	if err != nil {
		return 0, err
	}
	lr, err := db.ReplaceScoped(ctx, pool, landUseTable, keys, landuse)
	if err != nil {
		return ar.Written, err
	}

	log.Info("results exported",
		zap.Int("datasets", len(keys)),
		zap.Int64("area_rows", ar.Written),
		zap.Int64("area_rows_pruned", ar.Pruned),
		zap.Int64("landuse_rows", lr.Written),
		zap.Int64("landuse_rows_pruned", lr.Pruned),
	)
	return ar.Written + lr.Written, nil
}
