// Package store persists logical tables in a SQLite database. Column
// kinds survive the round trip through declared types, and array cells
// are stored as JSON text, so a re-run can load exactly what an earlier
// run wrote.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/kgclose/internal/table"
)

// ErrNoTable reports a load of a table the database does not hold.
var ErrNoTable = errors.New("store: no such table")

// DB is a handle on one database file.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and applies the pragmas
// the pipeline relies on. The connection pool is capped at one since
// the driver serializes writers anyway.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return &DB{db: db, path: path}, nil
}

// Path returns the database file path the handle was opened with.
func (s *DB) Path() string { return s.path }

func (s *DB) Close() error { return s.db.Close() }

// HasTable reports whether a table with this name exists.
func (s *DB) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query sqlite_master: %w", err)
	}
	return n > 0, nil
}

// Replace swaps the stored table for t in a single transaction: drop,
// create, bulk insert through one prepared statement. Identifiers are
// quoted since column names come from input headers.
func (s *DB) Replace(ctx context.Context, t *table.Table) error {
	cols := t.Schema().Cols
	if len(cols) == 0 {
		return fmt.Errorf("replace %s: table has no columns", t.Name())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t.Name())); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("drop %s: %w", t.Name(), err)
	}

	defs := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c.Name) + " " + declType(c.Kind)
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.Name()), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create %s: %w", t.Name(), err)
	}

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(t.Name()), strings.Join(marks, ", ")))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert %s: %w", t.Name(), err)
	}
	args := make([]any, len(cols))
	for row := 0; row < t.NumRows(); row++ {
		for i := range cols {
			args[i] = sqlArg(t.At(row, i))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert %s row %d: %w", t.Name(), row+1, err)
		}
	}
	_ = stmt.Close()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", t.Name(), err)
	}
	return nil
}

// Load reads a whole stored table back. Declared column types map to
// logical kinds, tolerating the spellings other producers use. A
// missing table reports ErrNoTable.
func (s *DB) Load(ctx context.Context, name string) (*table.Table, error) {
	ok, err := s.HasTable(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}

	cols, err := s.tableColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	t, err := table.New(name, cols...)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
	}
	// Explicit column list keeps scan order aligned with the schema.
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	raw := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	cells := make([]table.Value, len(cols))
	rowNum := 0
	for rows.Next() {
		rowNum++
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s row %d: %w", name, rowNum, err)
		}
		for i, c := range cols {
			v, err := parseCell(raw[i], c.Kind)
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %s: %w", name, rowNum, c.Name, err)
			}
			cells[i] = v
		}
		if err := t.AppendRow(cells...); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", name, rowNum, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", name, err)
	}
	return t, nil
}

// tableColumns introspects the stored schema in declaration order.
func (s *DB) tableColumns(ctx context.Context, name string) ([]table.Column, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []table.Column
	for rows.Next() {
		var (
			cid, notnull, pk int
			cname, ctype     string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &cname, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", name, err)
		}
		cols = append(cols, table.Column{Name: cname, Kind: kindFromDecl(ctype)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table_info %s: %w", name, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	return cols, nil
}

// Declared types for the logical kinds.
func declType(k table.Kind) string {
	switch k {
	case table.Int:
		return "INTEGER"
	case table.Bool:
		return "BOOLEAN"
	case table.StringList:
		return "TEXT_ARRAY"
	}
	return "TEXT"
}

// kindFromDecl maps a declared column type back to a logical kind.
// Foreign spellings are accepted: VARCHAR flavors as text, bracket and
// JSON forms as arrays, any INT flavor as integer.
func kindFromDecl(decl string) table.Kind {
	d := strings.ToUpper(strings.TrimSpace(decl))
	switch {
	case strings.HasSuffix(d, "[]"), strings.Contains(d, "ARRAY"), d == "JSON":
		return table.StringList
	case d == "BOOLEAN", d == "BOOL":
		return table.Bool
	case strings.Contains(d, "INT"):
		return table.Int
	}
	return table.String
}

func sqlArg(v table.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind {
	case table.Int:
		return v.Int
	case table.Bool:
		return v.Bool
	case table.StringList:
		return oj.JSON(v.List)
	}
	return v.Str
}

func parseCell(raw sql.NullString, kind table.Kind) (table.Value, error) {
	if !raw.Valid {
		return table.Null(), nil
	}
	switch kind {
	case table.Int:
		n, err := strconv.ParseInt(raw.String, 10, 64)
		if err != nil {
			return table.Value{}, fmt.Errorf("parse integer %q", raw.String)
		}
		return table.Integer(n), nil
	case table.Bool:
		switch {
		case raw.String == "1" || strings.EqualFold(raw.String, "true"):
			return table.Boolean(true), nil
		case raw.String == "0" || strings.EqualFold(raw.String, "false"):
			return table.Boolean(false), nil
		}
		return table.Value{}, fmt.Errorf("parse boolean %q", raw.String)
	case table.StringList:
		if raw.String == "" {
			return table.Null(), nil
		}
		parsed, err := oj.ParseString(raw.String)
		if err != nil {
			return table.Value{}, fmt.Errorf("parse array: %w", err)
		}
		elems, ok := parsed.([]any)
		if !ok {
			return table.Value{}, fmt.Errorf("parse array: not a JSON array: %q", raw.String)
		}
		items := make([]string, 0, len(elems))
		for _, e := range elems {
			s, ok := e.(string)
			if !ok {
				return table.Value{}, fmt.Errorf("parse array: non-string element in %q", raw.String)
			}
			items = append(items, s)
		}
		if len(items) == 0 {
			return table.List(nil), nil
		}
		return table.List(items), nil
	}
	return table.Text(raw.String), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
