package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap/zaptest"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/vector"
)

func box(x0, y0, x1, y1 float64) *geom.MultiPolygon {
	return geom.NewMultiPolygonFlat(geom.XY,
		[]float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}, [][]int{{10}})
}

func TestAssignCodes(t *testing.T) {
	zones := []Zone{
		{RowID: 1, Country: "USA", Name: "Wyoming"},
		{RowID: 2, Country: "USA", Name: "Alabama"},
		{RowID: 3, Country: "MEX", Name: "Zacatecas"},
		{RowID: 4, Country: "USA", Name: "Ålands"},
		{RowID: 5, Country: "MEX", Name: "Aguascalientes"},
		{RowID: 6, Country: "", Name: "Nowhere"},
		{RowID: 7, Country: "USA", Name: "alaska"},
	}
	codes := AssignCodes(zones)
	assert.Equal(t, map[int64]string{
		2: "USA_001",
		1: "USA_002",
		7: "USA_003", // lower case sorts after upper case
		4: "USA_004",
		5: "MEX_001",
		3: "MEX_002",
	}, codes)

	// Input order does not matter.
	reversed := make([]Zone, len(zones))
	for i, z := range zones {
		reversed[len(zones)-1-i] = z
	}
	assert.Equal(t, codes, AssignCodes(reversed))
}

func TestAssignCodes_DuplicateNamesKeepRowOrder(t *testing.T) {
	codes := AssignCodes([]Zone{
		{RowID: 9, Country: "FRA", Name: "Centre"},
		{RowID: 3, Country: "FRA", Name: "Centre"},
	})
	assert.Equal(t, "FRA_001", codes[3])
	assert.Equal(t, "FRA_002", codes[9])
}

func writeAdm1GeoPackage(t *testing.T, path string, zones [][2]string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (srs_name TEXT, srs_id INTEGER PRIMARY KEY, organization TEXT, organization_coordsys_id INTEGER, definition TEXT, description TEXT)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('WGS 84', 4326, 'EPSG', 4326, 'GEOGCS["WGS 84"]', NULL)`,
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT, identifier TEXT, srs_id INTEGER)`,
		`INSERT INTO gpkg_contents VALUES ('adm1', 'features', 'adm1', 4326)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, geometry_type_name TEXT, srs_id INTEGER, z INTEGER, m INTEGER)`,
		`INSERT INTO gpkg_geometry_columns VALUES ('adm1', 'geom', 'MULTIPOLYGON', 4326, 0, 0)`,
		`CREATE TABLE adm1 (fid INTEGER PRIMARY KEY, geom BLOB, adm0_iso3 TEXT, name TEXT)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}
	for i, z := range zones {
		g, err := vector.EncodeGeoPackageGeometry(box(float64(i), 0, float64(i)+1, 1), 4326)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO adm1 (geom, adm0_iso3, name) VALUES (?, ?, ?)`, g, z[0], z[1])
		require.NoError(t, err)
	}
}

func TestIndexGeoPackage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "adm1.gpkg")
	writeAdm1GeoPackage(t, path, [][2]string{
		{"KEN", "Nairobi"},
		{"KEN", "Mombasa"},
		{"UGA", "Kampala"},
		{"KEN", "Kisumu"},
	})

	g, err := vector.OpenGeoPackage(ctx, path)
	require.NoError(t, err)
	defer g.Close()

	n, err := IndexGeoPackage(ctx, g, DefaultIndexOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	codes := func() map[string]string {
		features, err := g.Query(ctx, vector.Query{})
		require.NoError(t, err)
		out := map[string]string{}
		for _, f := range features {
			out[f.Get("name")] = f.Get("adm1_code")
		}
		return out
	}
	want := map[string]string{
		"Kisumu":  "KEN_001",
		"Mombasa": "KEN_002",
		"Nairobi": "KEN_003",
		"Kampala": "UGA_001",
	}
	assert.Equal(t, want, codes())

	// Re-indexing reuses the column and gives the same codes.
	_, err = IndexGeoPackage(ctx, g, DefaultIndexOptions(), nil)
	require.NoError(t, err)
	assert.Equal(t, want, codes())

	features, err := g.Query(ctx, vector.Query{Where: []vector.Predicate{vector.In("adm1_code", "UGA_001")}})
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "Kampala", features[0].Get("name"))
}

func TestFixMojibake(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"RegiÃ³n de TarapacÃ¡", "Región de Tarapacá"},
		{"Región", "Región"},
		{"Kenya", "Kenya"},
		{"Ã¼ber 東京", "über 東京"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FixMojibake(tt.in), tt.in)
	}
}

func infoSources() (vector.Source, vector.Source) {
	geo := crs.Geographic{}
	adm0 := vector.NewMemory(geo,
		vector.Feature{Attributes: map[string]string{"iso3": "CHL", "name": "Chile", "shapeType": "ADM0"}, Geometry: box(-76, -56, -66, -17)},
		vector.Feature{Attributes: map[string]string{"iso3": "xAB", "name": "Abyei", "shapeType": "Disputed"}, Geometry: box(27, 9, 29, 10)},
		vector.Feature{Attributes: map[string]string{"iso3": "KEN", "name": "Kenya", "shapeType": "ADM0"}, Geometry: box(34, -5, 42, 5)},
	)
	adm1 := vector.NewMemory(geo,
		vector.Feature{Attributes: map[string]string{"adm1_code": "CHL_001", "adm0_iso3": "CHL", "name": "RegiÃ³n de TarapacÃ¡"}, Geometry: box(-70, -21, -68, -19)},
		vector.Feature{Attributes: map[string]string{"adm1_code": "KEN_001", "adm0_iso3": "KEN", "name": "Nairobi"}, Geometry: box(36, -2, 37, -1)},
	)
	return adm0, adm1
}

func TestBuildInfo(t *testing.T) {
	adm0, adm1 := infoSources()
	info, err := BuildInfo(context.Background(), adm0, adm1,
		[]string{"CHL", "xAB"}, []string{"CHL_001"}, DefaultInfoOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, map[string]Adm0Info{
		"CHL": {Name: "Chile", BBox: [4]float64{-76, -56, -66, -17}, IsDisputed: "no"},
		"xAB": {Name: "Abyei", BBox: [4]float64{27, 9, 29, 10}, IsDisputed: "yes"},
	}, info.Adm0)
	assert.Equal(t, map[string]Adm1Info{
		"CHL_001": {Name: "Región de Tarapacá", Adm0ISO3: "CHL", BBox: [4]float64{-70, -21, -68, -19}},
	}, info.Adm1)
}

func TestBuildInfo_ProjectedLayer(t *testing.T) {
	moll := crs.Mollweide{}
	x0, y0 := moll.Forward(10, 40)
	x1, y1 := moll.Forward(12, 42)
	adm0 := vector.NewMemory(moll, vector.Feature{
		Attributes: map[string]string{"iso3": "ITA", "name": "Italy", "shapeType": "ADM0"},
		Geometry:   box(x0, y0, x1, y1),
	})
	info, err := BuildInfo(context.Background(), adm0, nil, []string{"ITA"}, nil, DefaultInfoOptions(), nil)
	require.NoError(t, err)
	b := info.Adm0["ITA"].BBox
	assert.InDelta(t, 40, b[1], 1e-6)
	assert.InDelta(t, 42, b[3], 1e-6)
	assert.Less(t, b[0], 10.0+1e-6)
	assert.Greater(t, b[2], 12.0-1e-6)
}

func TestBuildInfo_MissingRegion(t *testing.T) {
	adm0, adm1 := infoSources()
	_, err := BuildInfo(context.Background(), adm0, adm1, []string{"CHL", "ZZZ"}, nil, DefaultInfoOptions(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ZZZ")

	_, err = BuildInfo(context.Background(), adm0, nil, nil, []string{"CHL_001"}, DefaultInfoOptions(), nil)
	assert.Error(t, err)
}

func TestCoveredRegions(t *testing.T) {
	docs := map[string]*pipeline.Document{
		"a": {Adm0List: []string{"KEN", "CHL"}, Adm1List: []string{"KEN_001"}},
		"b": {Adm0List: []string{"KEN"}, Adm1List: []string{"CHL_001", "KEN_001"}},
		"c": {},
	}
	adm0, adm1 := CoveredRegions(docs)
	assert.Equal(t, []string{"CHL", "KEN"}, adm0)
	assert.Equal(t, []string{"CHL_001", "KEN_001"}, adm1)
}

func TestWriteInfo(t *testing.T) {
	ctx := context.Background()
	adm0, adm1 := infoSources()
	info, err := BuildInfo(ctx, adm0, adm1, []string{"KEN"}, []string{"CHL_001", "KEN_001"}, DefaultInfoOptions(), nil)
	require.NoError(t, err)

	store := blob.NewFS(afero.NewMemMapFs(), "/out")
	require.NoError(t, WriteInfo(ctx, store, info, nil))

	data, err := store.Get(ctx, InfoKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Región de Tarapacá")
	assert.Contains(t, string(data), "\n    \"adm0\"")

	var back Info
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *info, back)
}
