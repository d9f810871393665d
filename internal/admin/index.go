// Package admin maintains the administrative boundary layers: it assigns
// admin-1 codes and writes the boundary metadata used by the website.
package admin

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/vector"
)

// IndexOptions names the columns of an admin-1 layer.
type IndexOptions struct {
	CountryField string
	NameField    string
	CodeField    string
}

// DefaultIndexOptions returns the column names of the CGAZ admin-1 layer.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		CountryField: "adm0_iso3",
		NameField:    "name",
		CodeField:    "adm1_code",
	}
}

// Zone is one admin-1 row.
type Zone struct {
	RowID   int64
	Country string
	Name    string
}

// AssignCodes numbers the zones of each country by name, giving codes of the
// form ISO3_001. Names compare by code point; equal names keep row order.
// Zones without a country get no code.
func AssignCodes(zones []Zone) map[int64]string {
	sorted := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if z.Country != "" {
			sorted = append(sorted, z)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.RowID < b.RowID
	})

	codes := make(map[int64]string, len(sorted))
	n := 0
	for i, z := range sorted {
		if i == 0 || z.Country != sorted[i-1].Country {
			n = 0
		}
		n++
		codes[z.RowID] = fmt.Sprintf("%s_%03d", z.Country, n)
	}
	return codes
}

// IndexGeoPackage writes admin-1 codes into the layer of g, adding the code
// column when it is missing. It returns the number of zones coded.
func IndexGeoPackage(ctx context.Context, g *vector.GeoPackage, opts IndexOptions, log *zap.Logger) (int, error) {
	return Index(ctx, g.DB(), g.Layer(), opts, log)
}

// Index writes admin-1 codes into a SQLite feature table.
func Index(ctx context.Context, db *sql.DB, table string, opts IndexOptions, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "admin.index"), zap.String("layer", table))

	if err := ensureColumn(ctx, db, table, opts.CodeField); err != nil {
		return 0, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid, COALESCE(CAST(%s AS TEXT), ''), COALESCE(CAST(%s AS TEXT), '') FROM %s`,
		quote(opts.CountryField), quote(opts.NameField), quote(table)))
	if err != nil {
		return 0, eris.Wrapf(err, "admin: read %s", table)
	}
	var zones []Zone
	for rows.Next() {
		var z Zone
		if err := rows.Scan(&z.RowID, &z.Country, &z.Name); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "admin: scan zone")
		}
		zones = append(zones, z)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "admin: read zones")
	}

	codes := AssignCodes(zones)
	if missing := len(zones) - len(codes); missing > 0 {
		log.Warn("zones without a country left uncoded", zap.Int("count", missing))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "admin: begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = ? WHERE rowid = ?`,
		quote(table), quote(opts.CodeField)))
	if err != nil {
		return 0, eris.Wrap(err, "admin: prepare update")
	}
	defer stmt.Close()

	for _, z := range zones {
		var code any
		if c, ok := codes[z.RowID]; ok {
			code = c
		}
		if _, err := stmt.ExecContext(ctx, code, z.RowID); err != nil {
			return 0, eris.Wrapf(err, "admin: update row %d", z.RowID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "admin: commit")
	}

	log.Info("admin-1 codes written", zap.Int("zones", len(codes)), zap.Int("countries", countCountries(zones)))
	return len(codes), nil
}

func ensureColumn(ctx context.Context, db *sql.DB, table, column string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quote(table)))
	if err != nil {
		return eris.Wrapf(err, "admin: columns of %s", table)
	}
	found := false
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return eris.Wrap(err, "admin: scan column")
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "admin: columns")
	}
	if found {
		return nil
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, quote(table), quote(column)))
	return eris.Wrapf(err, "admin: add column %s", column)
}

func countCountries(zones []Zone) int {
	seen := map[string]struct{}{}
	for _, z := range zones {
		if z.Country != "" {
			seen[z.Country] = struct{}{}
		}
	}
	return len(seen)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
