package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ScopedTable is a table whose rows each belong to one scope, such as the
// dataset they were computed from.
type ScopedTable struct {
	Table   string   // optionally schema-qualified
	Scope   string   // column holding the owning scope
	Columns []string // columns written, Scope among them
	Keys    []string // row identity, Scope among them
}

// Replacement counts the rows a replace touched.
type Replacement struct {
	Written int64 // inserted or updated
	Pruned  int64 // deleted because the new rows no longer have them
}

func (t ScopedTable) validate() error {
	switch {
	case len(t.Columns) == 0:
		return eris.Errorf("db: replace %s: no columns", t.Table)
	case len(t.Keys) == 0:
		return eris.Errorf("db: replace %s: no key columns", t.Table)
	case !slices.Contains(t.Columns, t.Scope) || !slices.Contains(t.Keys, t.Scope):
		return eris.Errorf("db: replace %s: scope column %q must be a written key column", t.Table, t.Scope)
	}
	for _, k := range t.Keys {
		if !slices.Contains(t.Columns, k) {
			return eris.Errorf("db: replace %s: key column %q is not written", t.Table, k)
		}
	}
	return nil
}

// ReplaceScoped makes the rows of the given scopes equal rows, in one
// transaction. Rows are staged with COPY and merged on Keys; rows of those
// scopes that were not staged are then deleted. A scope with no rows is
// emptied.
func ReplaceScoped(ctx context.Context, pool Pool, t ScopedTable, scopes []string, rows [][]any) (Replacement, error) {
	var res Replacement
	if err := t.validate(); err != nil {
		return res, err
	}
	if len(scopes) == 0 {
		return res, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrapf(err, "db: replace %s: begin tx", t.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := "_stage_" + strings.ReplaceAll(t.Table, ".", "_")
	target := Identifier(t.Table).Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{stage}.Sanitize(), target)); err != nil {
		return res, eris.Wrapf(err, "db: replace %s: create stage", t.Table)
	}
	if _, err := CopyFrom(ctx, tx, stage, t.Columns, rows); err != nil {
		return res, err
	}

	if len(rows) > 0 {
		tag, err := tx.Exec(ctx, mergeSQL(t, target, stage))
		if err != nil {
			return res, eris.Wrapf(err, "db: replace %s: merge", t.Table)
		}
		res.Written = tag.RowsAffected()
	}

	match := make([]string, len(t.Keys))
	for i, k := range t.Keys {
		q := pgx.Identifier{k}.Sanitize()
		match[i] = "s." + q + " = t." + q
	}
	prune := fmt.Sprintf("DELETE FROM %s AS t WHERE t.%s = ANY($1) AND NOT EXISTS (SELECT 1 FROM %s AS s WHERE %s)",
		target, pgx.Identifier{t.Scope}.Sanitize(), pgx.Identifier{stage}.Sanitize(), strings.Join(match, " AND "))
	tag, err := tx.Exec(ctx, prune, scopes)
	if err != nil {
		return res, eris.Wrapf(err, "db: replace %s: prune", t.Table)
	}
	res.Pruned = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return res, eris.Wrapf(err, "db: replace %s: commit tx", t.Table)
	}
	return res, nil
}

func mergeSQL(t ScopedTable, target, stage string) string {
	var set []string
	for _, c := range t.Columns {
		if !slices.Contains(t.Keys, c) {
			q := pgx.Identifier{c}.Sanitize()
			set = append(set, q+" = EXCLUDED."+q)
		}
	}
	action := "DO NOTHING"
	if len(set) > 0 {
		action = "DO UPDATE SET " + strings.Join(set, ", ")
	}
	cols := quoteAndJoin(t.Columns)
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		target, cols, cols, pgx.Identifier{stage}.Sanitize(), quoteAndJoin(t.Keys), action)
}

// Identifier splits an optionally schema-qualified table name.
func Identifier(table string) pgx.Identifier {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}
	}
	return pgx.Identifier{table}
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
