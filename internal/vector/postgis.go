package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/db"
)

// PostGISConfig names a PostGIS table and the attribute columns to read.
type PostGISConfig struct {
	Table          string // optionally schema-qualified
	GeometryColumn string
	Fields         []string
	SRID           int // 0 means 4326
}

// PostGIS reads features from a PostGIS table, filtering in SQL.
type PostGIS struct {
	pool db.Pool
	cfg  PostGISConfig
	ref  crs.CRS
}

// NewPostGIS validates cfg and resolves its CRS.
func NewPostGIS(pool db.Pool, cfg PostGISConfig) (*PostGIS, error) {
	if cfg.Table == "" {
		return nil, eris.New("postgis: table is required")
	}
	if cfg.GeometryColumn == "" {
		cfg.GeometryColumn = "geom"
	}
	if cfg.SRID == 0 {
		cfg.SRID = 4326
	}
	ref, err := crs.FromEPSG(cfg.SRID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgis: %s", cfg.Table)
	}
	return &PostGIS{pool: pool, cfg: cfg, ref: ref}, nil
}

func (p *PostGIS) CRS() crs.CRS { return p.ref }

// Close is a no-op; the pool belongs to the caller.
func (p *PostGIS) Close() error { return nil }

// Query selects the configured fields and the geometry as WKB.
func (p *PostGIS) Query(ctx context.Context, q Query) ([]Feature, error) {
	stmt, args := p.sql(q)
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgis: query %s", p.cfg.Table)
	}
	defer rows.Close()

	n := len(p.cfg.Fields)
	var out []Feature
	for rows.Next() {
		vals := make([]string, n)
		var body []byte
		dest := make([]any, 0, n+1)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		dest = append(dest, &body)
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "postgis: scan")
		}

		f := Feature{Attributes: make(map[string]string, n)}
		for i, name := range p.cfg.Fields {
			f.Attributes[name] = vals[i]
		}
		mp, err := decodeWKB(body)
		if err != nil {
			return nil, eris.Wrapf(err, "postgis: feature %d", len(out))
		}
		f.Geometry = mp
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgis: rows")
}

func (p *PostGIS) sql(q Query) (string, []any) {
	cols := make([]string, 0, len(p.cfg.Fields)+1)
	for _, f := range p.cfg.Fields {
		cols = append(cols, fmt.Sprintf("COALESCE(%s::text, '')", pgx.Identifier{f}.Sanitize()))
	}
	cols = append(cols, fmt.Sprintf("ST_AsBinary(%s)", pgx.Identifier{p.cfg.GeometryColumn}.Sanitize()))

	stmt := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), db.Identifier(p.cfg.Table).Sanitize())
	var (
		where []string
		args  []any
	)
	for _, pred := range q.Where {
		args = append(args, pred.Values)
		where = append(where, fmt.Sprintf("%s::text = ANY($%d)", pgx.Identifier{pred.Field}.Sanitize(), len(args)))
	}
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	return stmt, args
}
