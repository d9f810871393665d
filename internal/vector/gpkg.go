package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/polygon"
)

// GeoPackage is a single-layer OGC GeoPackage.
type GeoPackage struct {
	db      *sql.DB
	layer   string
	geomCol string
	ref     crs.CRS
}

// OpenGeoPackage opens path and resolves its only feature layer.
func OpenGeoPackage(ctx context.Context, path string) (*GeoPackage, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "gpkg: stat %s", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: open %s", path)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "gpkg: busy_timeout")
	}
	g := &GeoPackage{db: db}
	if err := g.resolveLayer(ctx); err != nil {
		db.Close()
		return nil, eris.Wrapf(err, "gpkg: %s", path)
	}
	return g, nil
}

func (g *GeoPackage) resolveLayer(ctx context.Context) error {
	rows, err := g.db.QueryContext(ctx,
		`SELECT table_name FROM gpkg_contents WHERE data_type = 'features'`)
	if err != nil {
		return eris.Wrap(err, "gpkg: list layers")
	}
	var layers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return eris.Wrap(err, "gpkg: scan layer")
		}
		layers = append(layers, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "gpkg: list layers")
	}
	switch len(layers) {
	case 0:
		return ErrNoLayer
	case 1:
		g.layer = layers[0]
	default:
		return eris.Wrapf(ErrMultipleLayers, "gpkg: layers %s", strings.Join(layers, ", "))
	}

	var (
		srsID int
		org   sql.NullString
		orgID sql.NullInt64
		def   sql.NullString
	)
	err = g.db.QueryRowContext(ctx, `
		SELECT g.column_name, g.srs_id, s.organization, s.organization_coordsys_id, s.definition
		FROM gpkg_geometry_columns g
		LEFT JOIN gpkg_spatial_ref_sys s ON s.srs_id = g.srs_id
		WHERE g.table_name = ?`, g.layer).Scan(&g.geomCol, &srsID, &org, &orgID, &def)
	if err != nil {
		return eris.Wrapf(err, "gpkg: geometry column of %s", g.layer)
	}
	g.ref, err = srsToCRS(srsID, org.String, int(orgID.Int64), def.String)
	return err
}

// srsToCRS maps a gpkg_spatial_ref_sys row. srs_id 0 is undefined
// geographic and -1 undefined cartesian, which yields a nil CRS.
func srsToCRS(srsID int, org string, orgID int, def string) (crs.CRS, error) {
	switch srsID {
	case 0:
		return crs.Geographic{}, nil
	case -1:
		return nil, nil
	}
	if strings.EqualFold(org, "EPSG") || strings.EqualFold(org, "ESRI") {
		if c, err := crs.Parse(fmt.Sprintf("%s:%d", strings.ToUpper(org), orgID)); err == nil {
			return c, nil
		}
	}
	c, err := crs.Parse(def)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: srs %d", srsID)
	}
	return c, nil
}

// Layer is the feature table name.
func (g *GeoPackage) Layer() string { return g.layer }

// GeometryColumn is the name of the layer's geometry column.
func (g *GeoPackage) GeometryColumn() string { return g.geomCol }

// DB exposes the underlying database for in-place edits.
func (g *GeoPackage) DB() *sql.DB { return g.db }

func (g *GeoPackage) CRS() crs.CRS { return g.ref }

func (g *GeoPackage) Close() error { return g.db.Close() }

// Query runs the predicates as SQL against the layer. Fields are compared
// as text.
func (g *GeoPackage) Query(ctx context.Context, q Query) ([]Feature, error) {
	stmt := "SELECT * FROM " + quoteIdent(g.layer)
	var (
		clauses []string
		args    []any
	)
	for _, p := range q.Where {
		if len(p.Values) == 0 {
			return nil, nil
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(p.Values)), ", ")
		clauses = append(clauses, fmt.Sprintf("CAST(%s AS TEXT) IN (%s)", quoteIdent(p.Field), marks))
		for _, v := range p.Values {
			args = append(args, v)
		}
	}
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := g.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: query %s", g.layer)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: columns")
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	var out []Feature
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "gpkg: scan")
		}
		f := Feature{Attributes: make(map[string]string, len(cols)-1)}
		for i, c := range cols {
			if strings.EqualFold(c, g.geomCol) {
				blob, _ := vals[i].([]byte)
				mp, err := DecodeGeoPackageGeometry(blob)
				if err != nil {
					return nil, eris.Wrapf(err, "gpkg: feature %d", len(out))
				}
				f.Geometry = mp
				continue
			}
			f.Attributes[c] = textOf(vals[i])
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "gpkg: rows")
}

func textOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// envelopeSizes maps the GeoPackage header envelope indicator to its length.
var envelopeSizes = [5]int{0, 32, 48, 48, 64}

// DecodeGeoPackageGeometry parses a GeoPackage binary geometry: the "GP"
// header, an optional envelope and a WKB body. Empty and NULL geometries
// decode to an empty multipolygon.
func DecodeGeoPackageGeometry(b []byte) (*geom.MultiPolygon, error) {
	if len(b) == 0 {
		return polygon.Empty(), nil
	}
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, eris.New("gpkg: bad geometry header")
	}
	flags := b[3]
	if flags&0x20 != 0 {
		return nil, eris.New("gpkg: extended geometry types are not supported")
	}
	env := int(flags>>1) & 0x7
	if env >= len(envelopeSizes) {
		return nil, eris.Errorf("gpkg: bad envelope indicator %d", env)
	}
	if flags&0x10 != 0 {
		return polygon.Empty(), nil
	}
	start := 8 + envelopeSizes[env]
	if len(b) < start {
		return nil, eris.New("gpkg: truncated geometry")
	}
	return decodeWKB(b[start:])
}

func decodeWKB(b []byte) (*geom.MultiPolygon, error) {
	if len(b) == 0 {
		return polygon.Empty(), nil
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, eris.Wrap(err, "vector: wkb")
	}
	return polygon.ToMultiPolygon(g)
}

// EncodeGeoPackageGeometry writes a little-endian GeoPackage geometry with
// no envelope.
func EncodeGeoPackageGeometry(g geom.T, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: wkb")
	}
	hdr := make([]byte, 8, 8+len(body))
	hdr[0], hdr[1], hdr[3] = 'G', 'P', 0x01
	binary.LittleEndian.PutUint32(hdr[4:], uint32(srsID))
	return append(hdr, body...), nil
}
