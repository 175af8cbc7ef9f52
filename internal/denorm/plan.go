// Package denorm implements the closure denormalization engine: multivalued
// normalization, closure aggregation, edge and node denormalization, and
// the export projection. Stages are pure table transforms compiled from a
// per-run plan; persistence lives in internal/store.
package denorm

import (
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/kgclose/api"
	"github.com/agentic-research/kgclose/internal/table"
)

// JoinKind selects the join strategy for one expansion field.
type JoinKind uint8

const (
	// JoinScalar matches edge.F = node.id.
	JoinScalar JoinKind = iota
	// JoinMembership matches any element of an array-typed edge.F; the
	// derived columns aggregate all matched elements so edge-row
	// cardinality never changes.
	JoinMembership
)

// AttrCopy binds one node attribute to the derived edge column it fills.
// Kind is the result kind: the node column's kind for scalar joins, always
// StringList under a membership join (per-element values are merged).
type AttrCopy struct {
	Src  string
	Dst  string
	Kind table.Kind
}

// FieldExpansion is the compiled form of one requested expansion: which
// join to use and which derived columns the field earns.
type FieldExpansion struct {
	Field string
	Join  JoinKind
	// Closure is false for label-only fields.
	Closure bool
	// Attrs are the node attribute copies, in output order. Taxon copies
	// appear only for subject/object and only when the node table has the
	// source columns; label/category/namespace are always present (null
	// cells when the node table lacks the source).
	Attrs []AttrCopy
}

// derivedColumns lists the columns this expansion writes, in order.
func (fe FieldExpansion) derivedColumns() []table.Column {
	cols := make([]table.Column, 0, len(fe.Attrs)+2)
	for _, a := range fe.Attrs {
		cols = append(cols, table.Column{Name: a.Dst, Kind: a.Kind})
	}
	if fe.Closure {
		cols = append(cols,
			table.Column{Name: fe.Field + "_closure", Kind: table.StringList},
			table.Column{Name: fe.Field + "_closure_label", Kind: table.StringList},
		)
	}
	return cols
}

// EdgePlan is the per-run compilation of the edge denormalization: every
// decision that depends on caller field lists or schema shape is resolved
// here once, so the stage itself is a straight loop.
type EdgePlan struct {
	Expansions     []FieldExpansion
	GroupingFields []string
	EvidenceFields []string
	// SkippedFields were requested but absent from the edge schema.
	SkippedFields []string
}

// CompileEdgePlan resolves the requested expand/label-only fields against
// schema snapshots of the edge and node tables. Absent fields are skipped
// (field lists may be a superset across heterogeneous inputs); a field
// named both for expansion and label-only compiles once, as an expansion.
func CompileEdgePlan(opts api.Options, edges, nodes table.Schema, log *zap.SugaredLogger) EdgePlan {
	var plan EdgePlan
	seen := make(map[string]bool)

	attr := func(fe *FieldExpansion, src, dst string, required bool) {
		kind, ok := nodes.Kind(src)
		if !ok {
			if !required {
				return
			}
			kind = table.String
		}
		if fe.Join == JoinMembership {
			kind = table.StringList
		}
		fe.Attrs = append(fe.Attrs, AttrCopy{Src: src, Dst: dst, Kind: kind})
	}

	add := func(field string, closure bool) {
		if field == "" || seen[field] {
			return
		}
		seen[field] = true
		kind, ok := edges.Kind(field)
		if !ok {
			plan.SkippedFields = append(plan.SkippedFields, field)
			log.Warnw("expansion field absent from edge schema, skipping",
				"field", field)
			return
		}
		fe := FieldExpansion{Field: field, Closure: closure}
		if kind == table.StringList {
			fe.Join = JoinMembership
		}
		attr(&fe, "name", field+"_label", true)
		attr(&fe, "category", field+"_category", true)
		attr(&fe, "namespace", field+"_namespace", true)
		if field == "subject" || field == "object" {
			attr(&fe, "in_taxon", field+"_taxon", false)
			attr(&fe, "in_taxon_label", field+"_taxon_label", false)
		}
		plan.Expansions = append(plan.Expansions, fe)
	}
	for _, f := range opts.ExpandFields {
		add(f, true)
	}
	for _, f := range opts.LabelFields {
		add(f, false)
	}

	// Grouping fields may reference derived columns, so they are checked
	// against the post-expansion schema.
	avail := make(map[string]bool, len(edges.Cols))
	for _, c := range edges.Cols {
		avail[c.Name] = true
	}
	for _, fe := range plan.Expansions {
		for _, c := range fe.derivedColumns() {
			avail[c.Name] = true
		}
	}
	for _, g := range opts.GroupingFields {
		if g == "" {
			continue
		}
		if !avail[g] {
			log.Debugw("grouping field absent, skipping", "field", g)
			continue
		}
		plan.GroupingFields = append(plan.GroupingFields, g)
	}
	for _, e := range opts.EvidenceFields {
		if e == "" {
			continue
		}
		if !edges.Has(e) {
			log.Debugw("evidence field absent, skipping", "field", e)
			continue
		}
		plan.EvidenceFields = append(plan.EvidenceFields, e)
	}
	return plan
}

// NodeAggregation is the compiled form of one node predicate field.
type NodeAggregation struct {
	// Field names the derived columns ({Field}, {Field}_label, ...).
	Field string
	// Predicate is the namespace-qualified value matched against the
	// denormalized edge table's predicate column.
	Predicate string
}

// NodePlan is the per-run compilation of the node denormalization.
type NodePlan struct {
	Aggregations []NodeAggregation
	// Filter is nil when no constraint was supplied.
	Filter *Predicate
}

// CompileNodePlan resolves the node predicate fields and compiles the
// optional filter constraint. A malformed constraint is a configuration
// error.
func CompileNodePlan(opts api.Options) (NodePlan, error) {
	var plan NodePlan
	seen := make(map[string]bool)
	for _, f := range opts.NodeFields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		plan.Aggregations = append(plan.Aggregations, NodeAggregation{
			Field:     f,
			Predicate: qualifyPredicate(opts.PredicatePrefix, f),
		})
	}
	filter, err := CompileConstraint(opts.NodeFilter)
	if err != nil {
		return NodePlan{}, err
	}
	plan.Filter = filter
	return plan, nil
}

// qualifyPredicate prefixes a bare field name with the predicate
// namespace; already-qualified names pass through.
func qualifyPredicate(prefix, field string) string {
	if strings.Contains(field, ":") || prefix == "" {
		return field
	}
	return prefix + ":" + field
}

// DescribePlan renders the requested run as the dry-run artifact. It is
// intentionally schema-free: a dry run never opens the store or reads the
// inputs, so join kinds and skips are not yet known.
func DescribePlan(opts api.Options) api.Plan {
	p := api.Plan{
		Version:           api.PlanVersion,
		Closure:           opts.ClosureFile,
		GroupingFields:    opts.GroupingFields,
		EvidenceFields:    opts.EvidenceFields,
		MultivaluedFields: opts.MultivaluedFields,
		NodeFilter:        opts.NodeFilter,
	}
	if opts.KGArchive != "" {
		p.Source, p.SourceKind = opts.KGArchive, "archive"
	} else {
		p.Source, p.SourceKind = opts.Database, "database"
	}
	seen := make(map[string]bool)
	for _, f := range opts.ExpandFields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		p.Expansions = append(p.Expansions, api.FieldPlan{Field: f, Closure: true})
	}
	for _, f := range opts.LabelFields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		p.Expansions = append(p.Expansions, api.FieldPlan{Field: f})
	}
	for _, f := range opts.NodeFields {
		if f == "" {
			continue
		}
		p.NodeAggregations = append(p.NodeAggregations, api.NodeAggregation{
			Field:     f,
			Predicate: qualifyPredicate(opts.PredicatePrefix, f),
		})
	}
	if opts.ExportEdges {
		p.Exports = append(p.Exports, api.ExportPlan{Table: "denormalized_edges", Path: opts.EdgesOutput})
	}
	if opts.ExportNodes {
		p.Exports = append(p.Exports, api.ExportPlan{Table: "denormalized_nodes", Path: opts.NodesOutput})
	}
	return p
}
