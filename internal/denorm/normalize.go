package denorm

import (
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/internal/table"
)

// Normalize converts the named pipe-delimited text columns of t into
// array columns. Empty or null cells become null (an absent value stays
// indistinguishable from "no values" across load/export round trips).
// Columns already array-typed are skipped, so re-running on converted
// input is a no-op; field names missing from the schema are skipped
// silently, since field lists may be a superset across heterogeneous
// inputs.
func Normalize(t *table.Table, fields []string, log *zap.SugaredLogger) (*table.Table, error) {
	schema := t.Schema()
	out := t
	converted := 0
	for _, f := range fields {
		kind, ok := schema.Kind(f)
		if !ok {
			continue
		}
		if kind == table.StringList {
			log.Debugw("column already array-typed, conversion skipped",
				"table", t.Name(), "column", f)
			continue
		}
		if kind != table.String {
			log.Warnw("column is not text, conversion skipped",
				"table", t.Name(), "column", f, "kind", kind.String())
			continue
		}
		idx := out.ColumnIndex(f)
		cells := make([]table.Value, out.NumRows())
		for row := range cells {
			v := out.At(row, idx)
			if v.IsNull() || v.Str == "" {
				cells[row] = table.List(nil)
				continue
			}
			cells[row] = table.List(splitMultivalued(v.Str))
		}
		var err error
		out, err = out.WithColumn(table.Column{Name: f, Kind: table.StringList}, cells)
		if err != nil {
			return nil, err
		}
		converted++
	}
	log.Infow("multivalued columns normalized",
		"table", t.Name(), "converted", converted, "rows", t.NumRows())
	return out, nil
}

// splitMultivalued splits a pipe-delimited value into an ordered set:
// first occurrence wins, empty segments are dropped.
func splitMultivalued(s string) []string {
	return orderedSet(strings.Split(s, "|"))
}

// orderedSet deduplicates preserving first-seen order and dropping empty
// strings. Returns nil for an empty result so callers can treat it as
// null.
func orderedSet(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
