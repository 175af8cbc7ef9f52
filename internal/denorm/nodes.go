package denorm

import (
	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/internal/table"
)

// nodeAgg accumulates the distinct objects observed for one subject under
// one predicate. Insertion order is kept so output arrays are stable.
type nodeAgg struct {
	ids           setList
	labels        setList
	closure       setList
	closureLabels setList
}

// setList is an ordered set of strings. Empty strings are dropped to
// match the multivalued normalization rules.
type setList struct {
	seen  map[string]struct{}
	items []string
}

func (s *setList) add(v string) {
	if v == "" {
		return
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *setList) addValue(v table.Value) {
	if v.IsNull() {
		return
	}
	if v.Kind == table.StringList {
		for _, e := range v.List {
			s.add(e)
		}
		return
	}
	s.add(v.Render())
}

// DenormalizeNodes builds the denormalized node table. For every
// configured node field it aggregates the denormalized edges whose
// subject is the node and whose predicate matches, then attaches the
// distinct objects, their labels, the match count and the flattened
// closures. Descendant columns are attached afterwards in their own
// update pass keyed by node id, independent of any edge. The result
// replaces any previous version wholesale.
func DenormalizeNodes(nodes, edges *table.Table, cl *Closures, plan NodePlan, log *zap.SugaredLogger) (*table.Table, error) {
	out := nodes.Rename(tableDenormNodes)
	idIdx := out.ColumnIndex("id")
	if idIdx < 0 {
		log.Warnw("node table has no id column, node aggregates will be null",
			"table", nodes.Name())
	}

	var err error
	for _, agg := range plan.Aggregations {
		stats := aggregateObjects(edges, agg, plan.Filter)
		if out, err = attachAggregation(out, idIdx, agg.Field, stats); err != nil {
			return nil, err
		}
	}
	if out, err = attachDescendants(out, idIdx, cl); err != nil {
		return nil, err
	}

	log.Infow("nodes denormalized",
		"rows", out.NumRows(),
		"aggregations", len(plan.Aggregations))
	return out, nil
}

// aggregateObjects scans the denormalized edges once for one
// aggregation, grouping matches by subject. The node filter is applied
// to the fully denormalized row, after every join.
func aggregateObjects(edges *table.Table, agg NodeAggregation, filter *Predicate) map[string]*nodeAgg {
	stats := make(map[string]*nodeAgg)
	subjIdx := edges.ColumnIndex("subject")
	predIdx := edges.ColumnIndex("predicate")
	if subjIdx < 0 || predIdx < 0 {
		return stats
	}
	objIdx := edges.ColumnIndex("object")
	objLabelIdx := edges.ColumnIndex("object_label")
	objClosureIdx := edges.ColumnIndex("object_closure")
	objClosureLabelIdx := edges.ColumnIndex("object_closure_label")

	for row := 0; row < edges.NumRows(); row++ {
		pred := edges.At(row, predIdx)
		if pred.IsNull() || pred.Kind != table.String || pred.Str != agg.Predicate {
			continue
		}
		subj := edges.At(row, subjIdx)
		if subj.IsNull() || subj.Kind != table.String || subj.Str == "" {
			continue
		}
		if filter != nil && !filter.Eval(edges, row) {
			continue
		}
		st := stats[subj.Str]
		if st == nil {
			st = &nodeAgg{}
			stats[subj.Str] = st
		}
		if objIdx >= 0 {
			st.ids.addValue(edges.At(row, objIdx))
		}
		if objLabelIdx >= 0 {
			st.labels.addValue(edges.At(row, objLabelIdx))
		}
		if objClosureIdx >= 0 {
			st.closure.addValue(edges.At(row, objClosureIdx))
		}
		if objClosureLabelIdx >= 0 {
			st.closureLabels.addValue(edges.At(row, objClosureLabelIdx))
		}
	}
	return stats
}

// attachAggregation adds the five derived columns for one node field.
// Nodes with no matching edge get null in every column, including the
// count.
func attachAggregation(t *table.Table, idIdx int, field string, stats map[string]*nodeAgg) (*table.Table, error) {
	n := t.NumRows()
	ids := make([]table.Value, n)
	labels := make([]table.Value, n)
	counts := make([]table.Value, n)
	closure := make([]table.Value, n)
	closureLabels := make([]table.Value, n)

	for row := 0; row < n; row++ {
		ids[row] = table.Null()
		labels[row] = table.Null()
		counts[row] = table.Null()
		closure[row] = table.Null()
		closureLabels[row] = table.Null()
		if idIdx < 0 {
			continue
		}
		id := t.At(row, idIdx)
		if id.IsNull() || id.Kind != table.String {
			continue
		}
		st := stats[id.Str]
		if st == nil {
			continue
		}
		ids[row] = table.List(st.ids.items)
		labels[row] = table.List(st.labels.items)
		counts[row] = table.Integer(int64(len(st.ids.items)))
		closure[row] = table.List(st.closure.items)
		closureLabels[row] = table.List(st.closureLabels.items)
	}

	var err error
	if t, err = t.WithColumn(table.Column{Name: field, Kind: table.StringList}, ids); err != nil {
		return nil, err
	}
	if t, err = t.WithColumn(table.Column{Name: field + "_label", Kind: table.StringList}, labels); err != nil {
		return nil, err
	}
	if t, err = t.WithColumn(table.Column{Name: field + "_count", Kind: table.Int}, counts); err != nil {
		return nil, err
	}
	if t, err = t.WithColumn(table.Column{Name: field + "_closure", Kind: table.StringList}, closure); err != nil {
		return nil, err
	}
	return t.WithColumn(table.Column{Name: field + "_closure_label", Kind: table.StringList}, closureLabels)
}

// attachDescendants is the second update pass: descendant columns come
// straight from the aggregated closure keyed by node id. A node with no
// descendants gets null arrays and a zero count, never a null count.
func attachDescendants(t *table.Table, idIdx int, cl *Closures) (*table.Table, error) {
	n := t.NumRows()
	desc := make([]table.Value, n)
	descLabels := make([]table.Value, n)
	counts := make([]table.Value, n)

	for row := 0; row < n; row++ {
		desc[row] = table.Null()
		descLabels[row] = table.Null()
		counts[row] = table.Integer(0)
		if idIdx < 0 {
			continue
		}
		id := t.At(row, idIdx)
		if id.IsNull() || id.Kind != table.String {
			continue
		}
		members := cl.Descendants[id.Str]
		desc[row] = table.List(members)
		descLabels[row] = table.List(cl.DescendantLabels[id.Str])
		counts[row] = table.Integer(int64(len(members)))
	}

	var err error
	if t, err = t.WithColumn(table.Column{Name: "descendants", Kind: table.StringList}, desc); err != nil {
		return nil, err
	}
	if t, err = t.WithColumn(table.Column{Name: "descendants_label", Kind: table.StringList}, descLabels); err != nil {
		return nil, err
	}
	return t.WithColumn(table.Column{Name: "descendant_count", Kind: table.Int}, counts)
}
