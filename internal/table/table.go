// Package table provides the in-memory logical tables the denormalization
// stages operate on. A Table is a named set of typed columns; stages never
// mutate a table they received. They build a new one and the caller swaps
// it into the workspace wholesale.
package table

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the logical type of a column or cell.
type Kind uint8

const (
	String Kind = iota
	Int
	Bool
	StringList
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case StringList:
		return "string[]"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Column describes one column of a table.
type Column struct {
	Name string
	Kind Kind
}

// Schema is a plain-data snapshot of a table's columns. Stages take one
// snapshot per table and branch on it; they never re-inspect a live table
// mid-transform.
type Schema struct {
	Cols []Column
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the named column exists.
func (s Schema) Has(name string) bool { return s.Index(name) >= 0 }

// Kind returns the kind of the named column and whether it exists.
func (s Schema) Kind(name string) (Kind, bool) {
	if i := s.Index(name); i >= 0 {
		return s.Cols[i].Kind, true
	}
	return String, false
}

// Value is a single cell. Kind tells which payload field is meaningful;
// Null overrides all of them. The zero Value is a non-null empty string.
type Value struct {
	Kind Kind
	Null bool
	Str  string
	Int  int64
	Bool bool
	List []string
}

func Text(s string) Value   { return Value{Kind: String, Str: s} }
func Integer(n int64) Value { return Value{Kind: Int, Int: n} }
func Boolean(b bool) Value  { return Value{Kind: Bool, Bool: b} }

func List(items []string) Value {
	if items == nil {
		return Value{Kind: StringList, Null: true}
	}
	return Value{Kind: StringList, List: items}
}
func Null() Value { return Value{Null: true} }

// IsNull reports whether the cell carries no value. A StringList backed by
// a nil slice counts as null; an empty non-nil slice does not.
func (v Value) IsNull() bool { return v.Null }

// Render returns the canonical text form used on export and in derived
// keys: null renders empty, booleans render True/False, lists pipe-join.
func (v Value) Render() string {
	if v.Null {
		return ""
	}
	switch v.Kind {
	case String:
		return v.Str
	case Int:
		return strconv.FormatInt(v.Int, 10)
	case Bool:
		if v.Bool {
			return "True"
		}
		return "False"
	case StringList:
		return strings.Join(v.List, "|")
	}
	return ""
}

// Table is a named, column-typed collection of rows. Cells are stored
// column-major. Construction is append-only; derivation goes through
// WithColumn, which returns a new Table sharing unchanged column slices.
type Table struct {
	name   string
	cols   []Column
	byName map[string]int
	cells  [][]Value // cells[col][row]
	rows   int
}

// New creates an empty table with the given columns. Duplicate column
// names are rejected; the workspace model has no aliasing.
func New(name string, cols ...Column) (*Table, error) {
	t := &Table{
		name:   name,
		cols:   make([]Column, len(cols)),
		byName: make(map[string]int, len(cols)),
		cells:  make([][]Value, len(cols)),
	}
	copy(t.cols, cols)
	for i, c := range cols {
		if _, dup := t.byName[c.Name]; dup {
			return nil, fmt.Errorf("table %s: duplicate column %q", name, c.Name)
		}
		t.byName[c.Name] = i
	}
	return t, nil
}

// MustNew is New for static test fixtures and internal construction where
// the column list is known to be well-formed.
func MustNew(name string, cols ...Column) *Table {
	t, err := New(name, cols...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Name() string { return t.name }
func (t *Table) NumRows() int { return t.rows }
func (t *Table) NumCols() int { return len(t.cols) }

// Rename returns the same table value under a new name. The underlying
// columns are shared; callers treat tables as immutable once built.
func (t *Table) Rename(name string) *Table {
	nt := *t
	nt.name = name
	return &nt
}

// Schema returns a snapshot of the current columns.
func (t *Table) Schema() Schema {
	cols := make([]Column, len(t.cols))
	copy(cols, t.cols)
	return Schema{Cols: cols}
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if i, ok := t.byName[name]; ok {
		return i
	}
	return -1
}

// AppendRow adds one row. Null cells are accepted for any column; non-null
// cells must match the column kind.
func (t *Table) AppendRow(cells ...Value) error {
	if len(cells) != len(t.cols) {
		return fmt.Errorf("table %s: row has %d cells, want %d", t.name, len(cells), len(t.cols))
	}
	for i, v := range cells {
		if !v.Null && v.Kind != t.cols[i].Kind {
			return fmt.Errorf("table %s: column %q: cell kind %s, want %s",
				t.name, t.cols[i].Name, v.Kind, t.cols[i].Kind)
		}
		v.Kind = t.cols[i].Kind
		t.cells[i] = append(t.cells[i], v)
	}
	t.rows++
	return nil
}

// At returns the cell at (row, col index). Callers resolve indices once
// from the schema snapshot rather than paying a map lookup per cell.
func (t *Table) At(row, col int) Value {
	return t.cells[col][row]
}

// Value returns the cell in the named column, and false if the column
// does not exist.
func (t *Table) Value(row int, name string) (Value, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Value{}, false
	}
	return t.cells[i][row], true
}

// WithColumn returns a new table with the given column set to cells. An
// existing column of the same name is replaced in position (derived
// columns overwrite pre-seeded ones rather than spawning suffixed
// duplicates); otherwise the column is appended. cells must cover every
// row.
func (t *Table) WithColumn(col Column, cells []Value) (*Table, error) {
	if len(cells) != t.rows {
		return nil, fmt.Errorf("table %s: column %q has %d cells, want %d", t.name, col.Name, len(cells), t.rows)
	}
	normalized := make([]Value, len(cells))
	for i, v := range cells {
		v.Kind = col.Kind
		normalized[i] = v
	}

	nt := &Table{
		name:   t.name,
		cols:   make([]Column, len(t.cols)),
		byName: make(map[string]int, len(t.cols)+1),
		cells:  make([][]Value, len(t.cols)),
		rows:   t.rows,
	}
	copy(nt.cols, t.cols)
	copy(nt.cells, t.cells)
	for name, i := range t.byName {
		nt.byName[name] = i
	}

	if i, ok := nt.byName[col.Name]; ok {
		nt.cols[i] = col
		nt.cells[i] = normalized
		return nt, nil
	}
	nt.byName[col.Name] = len(nt.cols)
	nt.cols = append(nt.cols, col)
	nt.cells = append(nt.cells, normalized)
	return nt, nil
}

// KeyIndex builds a row index over a scalar string column: cell text →
// row number. Later rows win on duplicate keys (single pass, no merge).
// Null cells are not indexed. Returns nil if the column is missing or not
// scalar text.
func (t *Table) KeyIndex(name string) map[string]int {
	i, ok := t.byName[name]
	if !ok || t.cols[i].Kind != String {
		return nil
	}
	idx := make(map[string]int, t.rows)
	for row, v := range t.cells[i] {
		if v.Null {
			continue
		}
		idx[v.Str] = row
	}
	return idx
}
