package kgx

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/kgclose/internal/table"
)

// Long rows are common in denormalized exports, so scanners get room.
const maxLineBytes = 64 * 1024 * 1024

// ReadTable parses a header-first TSV into a table. Column kinds are
// inferred per column over the whole file: boolean if every non-empty
// cell is a true/false token, integer if every non-empty cell parses as
// one, text otherwise. Pipe-delimited cells stay scalar text here;
// array conversion is a later, explicit step. Empty cells become null.
func ReadTable(r io.Reader, name string) (*table.Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: empty input, want a header line", name)
	}
	header := strings.Split(sc.Text(), "\t")
	for i, h := range header {
		if strings.TrimSpace(h) == "" {
			return nil, fmt.Errorf("%s: header column %d is empty", name, i+1)
		}
	}

	var rows [][]string
	line := 1
	for sc.Scan() {
		line++
		raw := sc.Text()
		if raw == "" {
			continue
		}
		fields := strings.Split(raw, "\t")
		if len(fields) != len(header) {
			return nil, fmt.Errorf("%s line %d: want %d fields, got %d", name, line, len(header), len(fields))
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	cols := make([]table.Column, len(header))
	for i, h := range header {
		cols[i] = table.Column{Name: h, Kind: inferKind(rows, i)}
	}
	t, err := table.New(name, cols...)
	if err != nil {
		return nil, err
	}
	cells := make([]table.Value, len(header))
	for ri, fields := range rows {
		for i, raw := range fields {
			cells[i] = parseCell(raw, cols[i].Kind)
		}
		if err := t.AppendRow(cells...); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", name, ri+1, err)
		}
	}
	return t, nil
}

func inferKind(rows [][]string, col int) table.Kind {
	any, allBool, allInt := false, true, true
	for _, fields := range rows {
		v := fields[col]
		if v == "" {
			continue
		}
		any = true
		if !isBoolToken(v) {
			allBool = false
		}
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			allInt = false
		}
		if !allBool && !allInt {
			return table.String
		}
	}
	switch {
	case !any:
		return table.String
	case allBool:
		return table.Bool
	case allInt:
		return table.Int
	}
	return table.String
}

func isBoolToken(v string) bool {
	switch v {
	case "True", "False", "true", "false":
		return true
	}
	return false
}

func parseCell(raw string, kind table.Kind) table.Value {
	if raw == "" {
		return table.Null()
	}
	switch kind {
	case table.Bool:
		return table.Boolean(raw == "True" || raw == "true")
	case table.Int:
		n, _ := strconv.ParseInt(raw, 10, 64)
		return table.Integer(n)
	}
	return table.Text(raw)
}

// ReadClosure parses a headerless three-column relation file. Columns
// are positional: descendant id, predicate, ancestor id. Blank lines
// are skipped, any other field count is an error.
func ReadClosure(r io.Reader, name string) (*table.Table, error) {
	t, err := table.New(name,
		table.Column{Name: "id", Kind: table.String},
		table.Column{Name: "predicate", Kind: table.String},
		table.Column{Name: "ancestor", Kind: table.String},
	)
	if err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Text()
		if raw == "" {
			continue
		}
		fields := strings.Split(raw, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s line %d: want 3 fields, got %d", name, line, len(fields))
		}
		err := t.AppendRow(clCell(fields[0]), clCell(fields[1]), clCell(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func clCell(raw string) table.Value {
	if raw == "" {
		return table.Null()
	}
	return table.Text(raw)
}

// WriteTable serializes a table as TSV with a header row. Cells are
// rendered flat, so array columns should be projected to text first.
// Parent directories are created by the filesystem on Create.
func WriteTable(fs billy.Filesystem, path string, t *table.Table) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	cols := t.Schema().Cols
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	if _, err := w.WriteString(strings.Join(names, "\t") + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	fields := make([]string, len(cols))
	for row := 0; row < t.NumRows(); row++ {
		for i := range cols {
			fields[i] = t.At(row, i).Render()
		}
		if _, err := w.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
