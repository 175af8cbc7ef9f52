package denorm

import (
	"strings"

	"github.com/agentic-research/kgclose/internal/table"
)

// FormatForExport projects a table into its flat serialization: every
// array column becomes a text column holding the pipe-joined elements.
// Null cells stay null. The stored table is untouched: array columns
// keep their element structure everywhere except this projection.
func FormatForExport(t *table.Table) (*table.Table, error) {
	out := t
	var err error
	for _, c := range t.Schema().Cols {
		if c.Kind != table.StringList {
			continue
		}
		idx := out.ColumnIndex(c.Name)
		cells := make([]table.Value, out.NumRows())
		for row := range cells {
			v := out.At(row, idx)
			if v.IsNull() {
				cells[row] = table.Null()
				continue
			}
			cells[row] = table.Text(strings.Join(v.List, "|"))
		}
		if out, err = out.WithColumn(table.Column{Name: c.Name, Kind: table.String}, cells); err != nil {
			return nil, err
		}
	}
	return out, nil
}
