package denorm

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/internal/table"
)

// Closures holds the four derived mappings, hash-indexed by node id. A
// missing id has no entry (absent, not empty); consumers default at
// lookup time if they need to.
type Closures struct {
	Ancestors        map[string][]string
	AncestorLabels   map[string][]string
	Descendants      map[string][]string
	DescendantLabels map[string][]string
}

// AggregateClosures collapses the closure-triple table into the four
// mappings. The triple table is positional: column 0 is the descendant
// id, column 1 the predicate (read but not distinguished), column 2 the
// ancestor id. Whether an id's closure contains the id itself depends
// entirely on the caller's triples; no reflexive entries are injected.
//
// Label mappings keep only entries resolving to a non-null node name; an
// id where nothing resolves gets no label entry at all. Triples naming
// ids absent from the node table are join-misses, never errors.
func AggregateClosures(closure, nodes *table.Table, log *zap.SugaredLogger) (*Closures, error) {
	if closure.NumCols() < 3 {
		return nil, fmt.Errorf("closure table %s has %d columns, want 3", closure.Name(), closure.NumCols())
	}

	anc := newSetAccumulator()
	desc := newSetAccumulator()
	skipped := 0
	for row := 0; row < closure.NumRows(); row++ {
		d, a := closure.At(row, 0), closure.At(row, 2)
		if d.IsNull() || a.IsNull() || d.Str == "" || a.Str == "" {
			skipped++
			continue
		}
		anc.add(d.Str, a.Str)
		desc.add(a.Str, d.Str)
	}
	if skipped > 0 {
		log.Debugw("closure triples with empty ids skipped", "count", skipped)
	}

	names := nodeNames(nodes)
	if names == nil {
		log.Warnw("node table has no name column, label closures will be empty",
			"table", nodes.Name())
	}

	cl := &Closures{
		Ancestors:        anc.materialize(),
		Descendants:      desc.materialize(),
		AncestorLabels:   make(map[string][]string),
		DescendantLabels: make(map[string][]string),
	}
	resolveLabels(cl.Ancestors, names, cl.AncestorLabels)
	resolveLabels(cl.Descendants, names, cl.DescendantLabels)

	log.Infow("closure aggregated",
		"triples", closure.NumRows(),
		"descendant_keys", len(cl.Ancestors),
		"ancestor_keys", len(cl.Descendants))
	return cl, nil
}

// nodeNames builds the id → name lookup. Nodes with a null name are left
// out (their closure-label entries drop); returns nil when the table has
// no name column at all.
func nodeNames(nodes *table.Table) map[string]string {
	idIdx := nodes.ColumnIndex("id")
	nameIdx := nodes.ColumnIndex("name")
	if idIdx < 0 || nameIdx < 0 {
		return nil
	}
	names := make(map[string]string, nodes.NumRows())
	for row := 0; row < nodes.NumRows(); row++ {
		id := nodes.At(row, idIdx)
		name := nodes.At(row, nameIdx)
		if id.IsNull() || id.Str == "" || name.IsNull() {
			continue
		}
		names[id.Str] = name.Str
	}
	return names
}

func resolveLabels(ids map[string][]string, names map[string]string, out map[string][]string) {
	if names == nil {
		return
	}
	for key, members := range ids {
		var labels []string
		for _, m := range members {
			if n, ok := names[m]; ok {
				labels = append(labels, n)
			}
		}
		if labels = orderedSet(labels); labels != nil {
			out[key] = labels
		}
	}
}

// setAccumulator groups string members by string key with structural
// deduplication: members are interned to dense uint32 ids and each key's
// set is a roaring bitmap, so repeated triples cannot introduce
// duplicates. Materialized arrays come out in global first-seen intern
// order, which keeps runs deterministic.
type setAccumulator struct {
	intern map[string]uint32
	byInt  []string
	sets   map[string]*roaring.Bitmap
}

func newSetAccumulator() *setAccumulator {
	return &setAccumulator{
		intern: make(map[string]uint32),
		sets:   make(map[string]*roaring.Bitmap),
	}
}

func (a *setAccumulator) internID(s string) uint32 {
	if id, ok := a.intern[s]; ok {
		return id
	}
	id := uint32(len(a.byInt))
	a.intern[s] = id
	a.byInt = append(a.byInt, s)
	return id
}

func (a *setAccumulator) add(key, member string) {
	bm, ok := a.sets[key]
	if !ok {
		bm = roaring.New()
		a.sets[key] = bm
	}
	bm.Add(a.internID(member))
}

func (a *setAccumulator) materialize() map[string][]string {
	out := make(map[string][]string, len(a.sets))
	for key, bm := range a.sets {
		members := make([]string, 0, bm.GetCardinality())
		it := bm.Iterator()
		for it.HasNext() {
			members = append(members, a.byInt[it.Next()])
		}
		out[key] = members
	}
	return out
}
