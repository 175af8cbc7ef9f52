package denorm

import (
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/internal/table"
)

// groupingKeyDelimiter joins grouping-key segments. The rune cannot occur
// in curie identifiers or biolink predicates, and downstream consumers of
// historical outputs already split on it.
const groupingKeyDelimiter = "🍪"

// DenormalizeEdges builds the denormalized edge table: for every compiled
// expansion it attaches node attributes and (for closure expansions) the
// ancestor mappings, then derives evidence_count and grouping_key. The
// input tables are not modified; the result carries the
// denormalized_edges name and replaces any previous version wholesale.
// Re-running on identical inputs produces an identical table.
func DenormalizeEdges(edges, nodes *table.Table, cl *Closures, plan EdgePlan, log *zap.SugaredLogger) (*table.Table, error) {
	nodeIdx := nodes.KeyIndex("id")
	if nodeIdx == nil {
		log.Warnw("node table has no scalar id column, all node joins will miss",
			"table", nodes.Name())
	}

	out := edges.Rename(tableDenormEdges)
	var err error
	for _, fe := range plan.Expansions {
		if out, err = applyExpansion(out, nodes, nodeIdx, cl, fe); err != nil {
			return nil, err
		}
	}
	if out, err = withEvidenceCount(out, plan.EvidenceFields); err != nil {
		return nil, err
	}
	if out, err = withGroupingKey(out, plan.GroupingFields); err != nil {
		return nil, err
	}

	log.Infow("edges denormalized",
		"rows", out.NumRows(),
		"expansions", len(plan.Expansions),
		"skipped_fields", len(plan.SkippedFields))
	return out, nil
}

// applyExpansion attaches one field's derived columns. Scalar joins copy
// the matched node's attributes directly; membership joins resolve every
// array element and merge the results, so the row count never changes.
// Closure mappings are keyed by the field value itself, so an id the
// node table has never seen can still carry a closure.
func applyExpansion(t, nodes *table.Table, nodeIdx map[string]int, cl *Closures, fe FieldExpansion) (*table.Table, error) {
	srcIdx := t.ColumnIndex(fe.Field)
	if srcIdx < 0 {
		return t, nil
	}
	attrIdx := make([]int, len(fe.Attrs))
	for i, a := range fe.Attrs {
		attrIdx[i] = nodes.ColumnIndex(a.Src)
	}

	cols := fe.derivedColumns()
	cells := make([][]table.Value, len(cols))
	for i := range cells {
		cells[i] = make([]table.Value, t.NumRows())
	}

	for row := 0; row < t.NumRows(); row++ {
		v := t.At(row, srcIdx)
		if fe.Join == JoinScalar {
			fillScalar(cells, row, v, nodes, nodeIdx, attrIdx, cl, fe)
		} else {
			fillMembership(cells, row, v, nodes, nodeIdx, attrIdx, cl, fe)
		}
	}

	var err error
	for i, c := range cols {
		if t, err = t.WithColumn(c, cells[i]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func fillScalar(cells [][]table.Value, row int, v table.Value, nodes *table.Table,
	nodeIdx map[string]int, attrIdx []int, cl *Closures, fe FieldExpansion,
) {
	id := ""
	if !v.IsNull() {
		id = v.Str
	}
	nrow, found := -1, false
	if id != "" && nodeIdx != nil {
		nrow, found = nodeIdx[id]
	}

	ci := 0
	for ai := range fe.Attrs {
		cell := table.Null()
		if found && attrIdx[ai] >= 0 {
			cell = nodes.At(nrow, attrIdx[ai])
		}
		cells[ci][row] = cell
		ci++
	}
	if fe.Closure {
		cells[ci][row] = table.List(cl.Ancestors[id])
		cells[ci+1][row] = table.List(cl.AncestorLabels[id])
	}
}

func fillMembership(cells [][]table.Value, row int, v table.Value, nodes *table.Table,
	nodeIdx map[string]int, attrIdx []int, cl *Closures, fe FieldExpansion,
) {
	var elems []string
	if !v.IsNull() {
		elems = v.List
	}

	ci := 0
	for ai := range fe.Attrs {
		var acc []string
		if attrIdx[ai] >= 0 && nodeIdx != nil {
			for _, e := range elems {
				nrow, found := nodeIdx[e]
				if !found {
					continue
				}
				cell := nodes.At(nrow, attrIdx[ai])
				if cell.IsNull() {
					continue
				}
				if cell.Kind == table.StringList {
					acc = append(acc, cell.List...)
				} else {
					acc = append(acc, cell.Render())
				}
			}
		}
		cells[ci][row] = table.List(orderedSet(acc))
		ci++
	}
	if fe.Closure {
		var ids, labels []string
		for _, e := range elems {
			ids = append(ids, cl.Ancestors[e]...)
			labels = append(labels, cl.AncestorLabels[e]...)
		}
		cells[ci][row] = table.List(orderedSet(ids))
		cells[ci+1][row] = table.List(orderedSet(labels))
	}
}

// withEvidenceCount sums the logical length of each evidence field: array
// length for list columns, pipe-segment count for still-scalar text, 0
// for null. The column is always added, even with no evidence fields.
func withEvidenceCount(t *table.Table, fields []string) (*table.Table, error) {
	idxs := make([]int, 0, len(fields))
	for _, f := range fields {
		if i := t.ColumnIndex(f); i >= 0 {
			idxs = append(idxs, i)
		}
	}
	cells := make([]table.Value, t.NumRows())
	for row := range cells {
		total := 0
		for _, i := range idxs {
			v := t.At(row, i)
			if v.IsNull() {
				continue
			}
			switch v.Kind {
			case table.StringList:
				total += len(v.List)
			case table.String:
				total += len(splitMultivalued(v.Str))
			}
		}
		cells[row] = table.Integer(int64(total))
	}
	return t.WithColumn(table.Column{Name: "evidence_count", Kind: table.Int}, cells)
}

// withGroupingKey derives the clustering key: grouping fields rendered in
// order and joined with the delimiter. The field named negated is
// special-cased: true renders as the token NOT, false/null as an empty
// segment. Any other null field drops its segment entirely, and an
// empty grouping list yields a null key for every row.
func withGroupingKey(t *table.Table, fields []string) (*table.Table, error) {
	cells := make([]table.Value, t.NumRows())
	if len(fields) == 0 {
		for row := range cells {
			cells[row] = table.Null()
		}
		return t.WithColumn(table.Column{Name: "grouping_key", Kind: table.String}, cells)
	}

	idxs := make([]int, len(fields))
	for i, f := range fields {
		idxs[i] = t.ColumnIndex(f)
	}
	var segs []string
	for row := range cells {
		segs = segs[:0]
		for i, f := range fields {
			if idxs[i] < 0 {
				continue
			}
			v := t.At(row, idxs[i])
			if f == "negated" {
				segs = append(segs, renderNegated(v))
				continue
			}
			if v.IsNull() {
				continue
			}
			segs = append(segs, v.Render())
		}
		cells[row] = table.Text(strings.Join(segs, groupingKeyDelimiter))
	}
	return t.WithColumn(table.Column{Name: "grouping_key", Kind: table.String}, cells)
}

// renderNegated preserves the historical negation marking: only an
// affirmative true becomes NOT, everything else is an empty segment.
func renderNegated(v table.Value) string {
	if v.IsNull() {
		return ""
	}
	switch v.Kind {
	case table.Bool:
		if v.Bool {
			return "NOT"
		}
	case table.String:
		if strings.EqualFold(v.Str, "true") {
			return "NOT"
		}
	}
	return ""
}
